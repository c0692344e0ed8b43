package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/candyworks/sweetshop/internal/models"
	"github.com/candyworks/sweetshop/internal/service"
)

const userContextKey = "currentUser"

type AuthMiddleware struct {
	Auth *service.AuthService
}

// token looks in the accessToken cookie first, then the bearer header.
func token(c echo.Context) string {
	if ck, err := c.Cookie("accessToken"); err == nil && ck.Value != "" {
		return ck.Value
	}
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func (m *AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := m.Auth.Authorize(c.Request().Context(), token(c))
		if err != nil {
			if errors.Is(err, service.ErrUnauthorized) || errors.Is(err, service.ErrInvalidToken) {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			}
			return echo.NewHTTPError(http.StatusInternalServerError, "authorization failed")
		}
		c.Set(userContextKey, user)
		return next(c)
	}
}

func (m *AuthMiddleware) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return m.RequireAuth(func(c echo.Context) error {
		if err := service.RequireAdmin(CurrentUser(c)); err != nil {
			return echo.NewHTTPError(http.StatusForbidden, "admin only")
		}
		return next(c)
	})
}

// CurrentUser returns the user set by RequireAuth, nil outside it.
func CurrentUser(c echo.Context) *models.User {
	if u, ok := c.Get(userContextKey).(*models.User); ok {
		return u
	}
	return nil
}
