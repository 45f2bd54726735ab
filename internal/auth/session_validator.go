package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionCookieName names the cookie carrying the hiker session.
const DefaultSessionCookieName = "pct_session"

// SessionValidatorConfig describes how session cookies are checked.
type SessionValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	Clock         func() time.Time
}

// SessionValidator resolves session cookies back to hikers.
type SessionValidator struct {
	signingSecret []byte
	issuer        string
	cookieName    string
	clock         func() time.Time
}

// NewSessionValidator shares its defaults with NewSessionIssuer so a pair built from the same
// secret agrees on issuer and cookie.
func NewSessionValidator(cfg SessionValidatorConfig) (*SessionValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	validator := &SessionValidator{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        strings.TrimSpace(cfg.Issuer),
		cookieName:    strings.TrimSpace(cfg.CookieName),
		clock:         cfg.Clock,
	}
	if validator.issuer == "" {
		validator.issuer = defaultSessionIssuer
	}
	if validator.cookieName == "" {
		validator.cookieName = DefaultSessionCookieName
	}
	if validator.clock == nil {
		validator.clock = time.Now
	}
	return validator, nil
}

// CookieName returns the cookie the session travels in.
func (v *SessionValidator) CookieName() string {
	return v.cookieName
}

// Validate checks signature, issuer and expiry of a session token.
func (v *SessionValidator) Validate(token string) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, ErrMissingSessionToken
	}

	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, v.signingKey,
		jwt.WithTimeFunc(v.clock),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Session{}, ErrExpiredSessionToken
	case err != nil:
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}

	userID := strings.TrimSpace(claims.Subject)
	if userID == "" {
		return Session{}, fmt.Errorf("%w: no subject", ErrInvalidSessionToken)
	}
	return Session{
		UserID:      userID,
		DisplayName: claims.Name,
		ExpiresAt:   claims.ExpiresAt.Time.UTC(),
	}, nil
}

// FromRequest validates the session cookie of r.
func (v *SessionValidator) FromRequest(r *http.Request) (Session, error) {
	cookie, err := r.Cookie(v.cookieName)
	if err != nil {
		return Session{}, ErrMissingSessionToken
	}
	return v.Validate(cookie.Value)
}

func (v *SessionValidator) signingKey(*jwt.Token) (interface{}, error) {
	return v.signingSecret, nil
}
