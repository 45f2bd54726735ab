// Package auth issues and validates the signed cookie sessions of hikers who signed in through
// the provider consent flow.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session validation failures. Callers tell an expired session apart to log it quietly.
var (
	ErrMissingSessionToken = errors.New("auth: session token required")
	ErrInvalidSessionToken = errors.New("auth: invalid session token")
	ErrExpiredSessionToken = errors.New("auth: session token expired")
)

// Session is an authenticated hiker.
type Session struct {
	UserID      string
	DisplayName string
	ExpiresAt   time.Time
}

// sessionClaims carries the hiker id in the registered subject.
type sessionClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}
