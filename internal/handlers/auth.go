package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/candyworks/sweetshop/internal/middleware"
	"github.com/candyworks/sweetshop/internal/mykafka"
	"github.com/candyworks/sweetshop/internal/service"
)

type AuthHandler struct {
	Auth      *service.AuthService
	Purchases *service.PurchaseService
	Producer  *mykafka.Producer
}

type registerRequest struct {
	Name     string `json:"name" form:"name"`
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

type loginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" form:"refreshToken"`
}

type authResponse struct {
	User         interface{} `json:"user,omitempty"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
}

func CreateCookie(name, value, path string, exp time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Expires:  exp,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (h *AuthHandler) publish(c echo.Context, topic string, event map[string]interface{}) {
	if h.Producer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, topic, fmt.Sprint(event["userID"]), event); err != nil {
		c.Logger().Errorf("Kafka publish error: %v", err)
	}
}

func (h *AuthHandler) setTokenCookies(c echo.Context, result *service.AuthResult) {
	c.SetCookie(CreateCookie("accessToken", result.AccessToken, "/", result.AccessExp))
	c.SetCookie(CreateCookie("refreshToken", result.RefreshToken, "/", result.RefreshExp))
}

func (h *AuthHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return respond(c, http.StatusBadRequest, nil, "invalid request body")
	}

	result, err := h.Auth.Register(c.Request().Context(), req.Name, req.Email, req.Password)
	if err != nil {
		return fail(c, err)
	}

	h.publish(c, mykafka.TopicUserEvents, map[string]interface{}{
		"type":   "user_registered",
		"userID": result.User.ID,
		"email":  result.User.Email,
	})

	h.setTokenCookies(c, result)
	return respond(c, http.StatusCreated, authResponse{
		User:         result.User,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	}, "User Registered Successfully")
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return respond(c, http.StatusBadRequest, nil, "invalid request body")
	}

	result, err := h.Auth.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return fail(c, err)
	}

	h.publish(c, mykafka.TopicUserEvents, map[string]interface{}{
		"type":   "user_logged_in",
		"userID": result.User.ID,
	})

	h.setTokenCookies(c, result)
	return respond(c, http.StatusOK, authResponse{
		User:         result.User,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	}, "User logged in successfully")
}

// Refresh accepts the refresh token from the cookie or the request body,
// the way the original clients send it.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshRequest
	_ = c.Bind(&req)

	incoming := req.RefreshToken
	if ck, err := c.Cookie("refreshToken"); err == nil && ck.Value != "" {
		incoming = ck.Value
	}
	if incoming == "" {
		return respond(c, http.StatusUnauthorized, nil, "refresh token missing")
	}

	result, err := h.Auth.Refresh(c.Request().Context(), incoming)
	if err != nil {
		return fail(c, err)
	}

	h.setTokenCookies(c, result)
	return respond(c, http.StatusOK, authResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	}, "Refresh token rotated successfully")
}

func (h *AuthHandler) Logout(c echo.Context) error {
	user := middleware.CurrentUser(c)
	if err := h.Auth.Logout(c.Request().Context(), user.ID); err != nil {
		return fail(c, err)
	}

	expired := time.Now().Add(-1 * time.Hour)
	c.SetCookie(CreateCookie("accessToken", "", "/", expired))
	c.SetCookie(CreateCookie("refreshToken", "", "/", expired))

	return respond(c, http.StatusOK, nil, "Logged out successfully")
}

func (h *AuthHandler) Current(c echo.Context) error {
	user := middleware.CurrentUser(c)
	current, err := h.Auth.CurrentUser(c.Request().Context(), user.ID)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusOK, current, "Current user retrieved successfully")
}

func (h *AuthHandler) PurchaseHistory(c echo.Context) error {
	user := middleware.CurrentUser(c)
	history, err := h.Purchases.PurchaseHistory(c.Request().Context(), user.ID)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusOK, history, "Purchase history retrieved successfully")
}
