package service

import "errors"

var (
	ErrValidation      = errors.New("validation")       // 400
	ErrOutOfStock      = errors.New("out of stock")     // 400
	ErrNotFound        = errors.New("not found")        // 404
	ErrDuplicateEmail  = errors.New("duplicate email")  // 409
	ErrInvalidPassword = errors.New("invalid password") // 401
	ErrUnauthorized    = errors.New("unauthorized")     // 401
	ErrForbidden       = errors.New("forbidden")        // 403
	ErrInvalidToken    = errors.New("invalid token")    // 401
	ErrTokenMismatch   = errors.New("token mismatch")   // 401
)
