package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/pcttracker/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	oauthStateCookieName = "pct_oauth_state"
	oauthStateTTL        = 10 * time.Minute
	dashboardPath        = "/dashboard"
)

func (h *httpHandler) handleAuthStart(c *gin.Context) {
	state := uuid.NewString()
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    state,
		Path:     "/auth",
		MaxAge:   int(oauthStateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	c.Redirect(http.StatusFound, h.oauth.AuthorizeURL(state))
}

func (h *httpHandler) handleAuthCallback(c *gin.Context) {
	code := strings.TrimSpace(c.Query("code"))
	if code == "" || c.Query("error") != "" {
		c.Redirect(http.StatusFound, "/")
		return
	}

	expectedState, err := c.Cookie(oauthStateCookieName)
	state := c.Query("state")
	if err != nil || expectedState == "" || subtle.ConstantTimeCompare([]byte(expectedState), []byte(state)) != 1 {
		h.logger.Warn("oauth state mismatch")
		h.respondError(c, http.StatusBadRequest, "invalid_state", nil)
		return
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	grant, err := h.oauth.ExchangeCode(c.Request.Context(), code)
	if err != nil {
		h.logger.Warn("token exchange failed", zap.Error(err))
		h.respondError(c, http.StatusBadGateway, "token_exchange_failed", err)
		return
	}

	user, err := h.hikers.LinkAthlete(c.Request.Context(), grant)
	if err != nil {
		h.logger.Error("failed to link athlete", zap.Int64("athlete_id", grant.Athlete.ID), zap.Error(err))
		h.respondError(c, http.StatusInternalServerError, "link_failed", err)
		return
	}

	token, expiresAt, err := h.sessions.Issue(user.UserID, user.DisplayName)
	if err != nil {
		h.logger.Error("failed to issue session", zap.String("user_id", user.UserID), zap.Error(err))
		h.respondError(c, http.StatusInternalServerError, "session_issue_failed", err)
		return
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.validator.CookieName(),
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(expiresAt.Sub(h.clock()).Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	h.logger.Info("hiker signed in", zap.String("user_id", user.UserID), zap.String("slug", user.Slug))
	c.Redirect(http.StatusFound, dashboardPath)
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.validator.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) requireSession(c *gin.Context) {
	session, err := h.validator.FromRequest(c.Request)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingSessionToken):
		case errors.Is(err, auth.ErrExpiredSessionToken):
			h.logger.Info("session validation failed", zap.Error(err))
		default:
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		h.respondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	c.Set(userIDContextKey, session.UserID)
	c.Next()
}

// cronAuthorized compares the bearer token with the configured secret. An empty secret rejects
// every caller.
func (h *httpHandler) cronAuthorized(c *gin.Context) bool {
	if h.cronSecret == "" {
		return false
	}
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) == 1
}
