package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/candyworks/sweetshop/internal/hash"
	"github.com/candyworks/sweetshop/internal/logging"
	"github.com/candyworks/sweetshop/internal/models"
)

// AuthService issues and validates token pairs. A user has exactly one
// active refresh token, stored on the user row; every login and refresh
// overwrites it, so older tokens stop working.
type AuthService struct {
	DB            *gorm.DB
	JWTSecret     []byte
	RefreshSecret []byte
}

type AuthResult struct {
	User         *models.User
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

// NormalizeEmail lowercases once at the boundary; every comparison after
// that is exact.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *AuthService) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.register")

	email = NormalizeEmail(email)
	if strings.TrimSpace(name) == "" || email == "" || strings.TrimSpace(password) == "" {
		return nil, fmt.Errorf("%w: name, email and password are required", ErrValidation)
	}

	var existing models.User
	err := s.DB.WithContext(ctx).Where("email = ?", email).First(&existing).Error
	if err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEmail, email)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	pwHash, err := hash.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := models.User{
		Name:         name,
		Email:        email,
		PasswordHash: pwHash,
	}
	if err := s.DB.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}

	result, err := s.issueTokens(ctx, &user)
	if err != nil {
		return nil, err
	}

	l.Info("user_registered", "user_id", user.ID, "email", user.Email)
	return result, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login")

	email = NormalizeEmail(email)

	var user models.User
	if err := s.DB.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, email)
		}
		return nil, err
	}

	if !hash.CheckPassword(user.PasswordHash, password) {
		l.Warn("login_failed", "user_id", user.ID, "reason", "bad password")
		return nil, ErrInvalidPassword
	}

	result, err := s.issueTokens(ctx, &user)
	if err != nil {
		return nil, err
	}

	l.Info("user_logged_in", "user_id", user.ID)
	return result, nil
}

// Refresh rotates the token pair. The presented token must equal the
// stored one exactly; a refresh racing another refresh or a login for the
// same user loses the guarded update and fails with ErrTokenMismatch.
func (s *AuthService) Refresh(ctx context.Context, incomingRefreshToken string) (*AuthResult, error) {
	if incomingRefreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token missing", ErrUnauthorized)
	}

	claims, err := parseRefreshClaims(incomingRefreshToken, s.RefreshSecret)
	if err != nil {
		return nil, err
	}

	userID, err := subjectID(claims.Subject)
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, userID)
		}
		return nil, err
	}

	if user.RefreshToken == "" || user.RefreshToken != incomingRefreshToken {
		return nil, fmt.Errorf("%w: refresh token was rotated", ErrTokenMismatch)
	}

	accessExp := time.Now().Add(AccessTokenTTL)
	accessToken, err := signAccessToken(user.ID, user.IsAdmin, s.JWTSecret, accessExp)
	if err != nil {
		return nil, err
	}

	refreshExp := time.Now().Add(RefreshTokenTTL)
	refreshToken, err := signRefreshToken(user.ID, s.RefreshSecret, refreshExp)
	if err != nil {
		return nil, err
	}

	// Swap conditioned on the old value: exactly one concurrent rotation
	// wins, the rest see a mismatch.
	res := s.DB.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND refresh_token = ?", user.ID, incomingRefreshToken).
		Update("refresh_token", refreshToken)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: refresh token was rotated", ErrTokenMismatch)
	}

	user.RefreshToken = refreshToken
	logging.FromContext(ctx).Info("token_refreshed", "user_id", user.ID)

	return &AuthResult{
		User:         &user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

func (s *AuthService) Logout(ctx context.Context, userID uint) error {
	return s.DB.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("refresh_token", "").Error
}

// Authorize resolves an access token to its user. Used as the precondition
// gate for every protected operation.
func (s *AuthService) Authorize(ctx context.Context, accessToken string) (*models.User, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("%w: access token missing", ErrUnauthorized)
	}

	claims, err := ParseAccessClaims(accessToken, s.JWTSecret)
	if err != nil {
		return nil, errors.Join(ErrUnauthorized, err)
	}

	userID, err := subjectID(claims.Subject)
	if err != nil {
		return nil, errors.Join(ErrUnauthorized, err)
	}

	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrUnauthorized, userID)
		}
		return nil, err
	}
	return &user, nil
}

func RequireAdmin(user *models.User) error {
	if user == nil || !user.IsAdmin {
		return fmt.Errorf("%w: admin only", ErrForbidden)
	}
	return nil
}

func (s *AuthService) CurrentUser(ctx context.Context, userID uint) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, userID)
		}
		return nil, err
	}
	return &user, nil
}

func (s *AuthService) issueTokens(ctx context.Context, user *models.User) (*AuthResult, error) {
	accessExp := time.Now().Add(AccessTokenTTL)
	accessToken, err := signAccessToken(user.ID, user.IsAdmin, s.JWTSecret, accessExp)
	if err != nil {
		return nil, err
	}

	refreshExp := time.Now().Add(RefreshTokenTTL)
	refreshToken, err := signRefreshToken(user.ID, s.RefreshSecret, refreshExp)
	if err != nil {
		return nil, err
	}

	if err := s.DB.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("refresh_token", refreshToken).Error; err != nil {
		return nil, err
	}
	user.RefreshToken = refreshToken

	return &AuthResult{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}
