package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/pcttracker/internal/auth"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/hikers"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/scheduler"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/strava"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/tracker"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/updates"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey         = "pcttracker_user_id"
	publicCacheControl       = "public, s-maxage=300, stale-while-revalidate=60"
	defaultHeartbeatInterval = 25 * time.Second
)

var (
	errMissingOAuthProvider   = errors.New("oauth provider dependency required")
	errMissingSessionIssuer   = errors.New("session issuer dependency required")
	errMissingSessionCheck    = errors.New("session validator dependency required")
	errMissingHikerService    = errors.New("hiker service dependency required")
	errMissingTrackerService  = errors.New("tracker service dependency required")
	errMissingSyncer          = errors.New("syncer dependency required")
	errMissingUpdatesService  = errors.New("updates service dependency required")
	errInvalidCronCredentials = errors.New("cron authorization missing or invalid")
)

// OAuthProvider drives the provider consent flow.
type OAuthProvider interface {
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (strava.TokenGrant, error)
}

// UserSyncer syncs one hiker on demand.
type UserSyncer interface {
	SyncUser(ctx context.Context, userID string) (tracker.SyncResult, error)
}

// BatchRunner syncs every hiker.
type BatchRunner interface {
	RunBatch(ctx context.Context) (scheduler.BatchResult, error)
}

// Dependencies bundles the services behind the HTTP API. Batch, Realtime and the settings below
// them are optional.
type Dependencies struct {
	OAuth            OAuthProvider
	SessionIssuer    *auth.SessionIssuer
	SessionValidator *auth.SessionValidator
	Hikers           *hikers.Service
	Tracker          *tracker.Service
	Syncer           UserSyncer
	// Batch serves the cron endpoint; the endpoint rejects every call when nil.
	Batch    BatchRunner
	Updates  *updates.Service
	Realtime *RealtimeDispatcher

	CronSecret     string
	AllowedOrigins []string
	SecureCookies  bool
	// HeartbeatInterval paces keep-alive events on realtime streams.
	HeartbeatInterval time.Duration
	Clock             func() time.Time
	Logger            *zap.Logger
}

// NewHTTPHandler builds the gin engine serving sign-in, hiker settings, sync triggers, the public
// map reads and the realtime stream.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.OAuth == nil {
		return nil, errMissingOAuthProvider
	}
	if deps.SessionIssuer == nil {
		return nil, errMissingSessionIssuer
	}
	if deps.SessionValidator == nil {
		return nil, errMissingSessionCheck
	}
	if deps.Hikers == nil {
		return nil, errMissingHikerService
	}
	if deps.Tracker == nil {
		return nil, errMissingTrackerService
	}
	if deps.Syncer == nil {
		return nil, errMissingSyncer
	}
	if deps.Updates == nil {
		return nil, errMissingUpdatesService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		oauth:             deps.OAuth,
		sessions:          deps.SessionIssuer,
		validator:         deps.SessionValidator,
		hikers:            deps.Hikers,
		tracker:           deps.Tracker,
		syncer:            deps.Syncer,
		batch:             deps.Batch,
		updates:           deps.Updates,
		realtime:          deps.Realtime,
		cronSecret:        deps.CronSecret,
		secureCookies:     deps.SecureCookies,
		heartbeatInterval: heartbeat,
		clock:             clock,
		logger:            logger,
	}

	router.GET("/healthz", handler.handleHealth)

	router.GET("/auth/strava", handler.handleAuthStart)
	router.GET("/auth/callback", handler.handleAuthCallback)
	router.POST("/auth/logout", handler.handleLogout)

	router.GET("/cron/sync", handler.handleCronSync)

	router.GET("/latest/:slug", handler.handleLatest)
	router.GET("/stats/:slug", handler.handleStats)
	router.GET("/tracks/:slug", handler.handleTracks)
	router.GET("/trail/:slug/split", handler.handleSplit)
	router.GET("/updates/:slug", handler.handleListUpdates)
	router.GET("/stream/:slug", handler.handleStream)

	protected := router.Group("/")
	protected.Use(handler.requireSession)
	protected.GET("/me", handler.handleMe)
	protected.POST("/settings", handler.handleSettings)
	protected.POST("/sync", handler.handleSync)
	protected.POST("/updates", handler.handleUpdates)

	return router, nil
}

type httpHandler struct {
	oauth             OAuthProvider
	sessions          *auth.SessionIssuer
	validator         *auth.SessionValidator
	hikers            *hikers.Service
	tracker           *tracker.Service
	syncer            UserSyncer
	batch             BatchRunner
	updates           *updates.Service
	realtime          *RealtimeDispatcher
	cronSecret        string
	secureCookies     bool
	heartbeatInterval time.Duration
	clock             func() time.Time
	logger            *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			origins = nil
			break
		}
		origins = append(origins, origin)
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError writes {"error": reason} and, for coded service errors, their code.
func (h *httpHandler) respondError(c *gin.Context, status int, reason string, err error) {
	body := gin.H{"error": reason}
	var coded interface{ Code() string }
	if err != nil && errors.As(err, &coded) {
		body["code"] = coded.Code()
	}
	c.AbortWithStatusJSON(status, body)
}

// hikerBySlug resolves the :slug parameter, answering 404 for unknown hikers.
func (h *httpHandler) hikerBySlug(c *gin.Context) (hikers.User, bool) {
	user, err := h.hikers.FindBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, hikers.ErrUserNotFound) {
			h.respondError(c, http.StatusNotFound, "not_found", nil)
			return hikers.User{}, false
		}
		h.logger.Error("hiker lookup failed", zap.String("slug", c.Param("slug")), zap.Error(err))
		h.respondError(c, http.StatusInternalServerError, "lookup_failed", err)
		return hikers.User{}, false
	}
	return user, true
}
