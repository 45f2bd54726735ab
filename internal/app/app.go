// Package app assembles the tracker services from configuration.
package app

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/pcttracker/internal/auth"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/config"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/credentials"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/database"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/hikers"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/scheduler"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/server"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/strava"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/tracker"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/trail"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/updates"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Options carries dependencies that are not part of the configuration.
type Options struct {
	// HTTPClient is used for provider calls. Defaults to a client with a timeout.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// App holds the wired services.
type App struct {
	DB       *gorm.DB
	Hikers   *hikers.Service
	Tracker  *tracker.Service
	Syncer   *tracker.Syncer
	Runner   *scheduler.Runner
	Realtime *server.RealtimeDispatcher
	Handler  http.Handler
}

// New opens the database and wires every service for the given configuration.
func New(cfg config.AppConfig, options Options) (*App, error) {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := database.Open(database.Options{
		Driver: cfg.DatabaseDriver,
		Path:   cfg.DatabasePath,
		DSN:    cfg.DatabaseDSN,
	}, logger)
	if err != nil {
		return nil, err
	}

	built, err := wire(db, cfg, options.HTTPClient, logger)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return built, nil
}

func wire(db *gorm.DB, cfg config.AppConfig, httpClient *http.Client, logger *zap.Logger) (*App, error) {
	stravaClient, err := strava.NewClient(strava.Config{
		ClientID:     cfg.StravaClientID,
		ClientSecret: cfg.StravaClientSecret,
		APIBaseURL:   cfg.StravaAPIBaseURL,
		TokenURL:     cfg.StravaTokenURL,
		AuthorizeURL: cfg.StravaAuthorizeURL,
		RedirectURL:  cfg.StravaRedirectURL,
		MaxPages:     cfg.SyncMaxPages,
		HTTPClient:   httpClient,
		Logger:       logger.Named("strava"),
	})
	if err != nil {
		return nil, err
	}

	idProvider := hikers.NewUUIDProvider()
	hikerService, err := hikers.NewService(hikers.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     logger.Named("hikers"),
	})
	if err != nil {
		return nil, err
	}

	tokenManager, err := credentials.NewManager(credentials.ManagerConfig{
		Store:     hikerService,
		Refresher: stravaClient,
		Logger:    logger.Named("credentials"),
	})
	if err != nil {
		return nil, err
	}

	store, err := tracker.NewStore(db)
	if err != nil {
		return nil, err
	}
	pct := trail.PacificCrestTrail()
	realtime := server.NewRealtimeDispatcher()

	syncer, err := tracker.NewSyncer(tracker.SyncerConfig{
		Store:          store,
		Hikers:         hikerService,
		Tokens:         tokenManager,
		Activities:     stravaClient,
		Trail:          pct,
		StreamGeometry: cfg.SyncStreamGeometry,
		StaleAfter:     cfg.SyncStaleAfter,
		Logger:         logger.Named("sync"),
		Observer:       realtime,
	})
	if err != nil {
		return nil, err
	}

	trackerService, err := tracker.NewService(tracker.ServiceConfig{
		Store:  store,
		Trail:  pct,
		Logger: logger.Named("tracker"),
	})
	if err != nil {
		return nil, err
	}

	userDelay := cfg.SyncUserDelay
	if userDelay == 0 {
		// Zero in configuration means no pause; the runner reads zero as its default.
		userDelay = -1
	}
	runner, err := scheduler.NewRunner(scheduler.Config{
		Users:     hikerService,
		Syncer:    syncer,
		UserDelay: userDelay,
		Logger:    logger.Named("scheduler"),
	})
	if err != nil {
		return nil, err
	}

	updateService, err := updates.NewService(updates.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     logger.Named("updates"),
	})
	if err != nil {
		return nil, err
	}

	sessionIssuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		SigningSecret: []byte(cfg.SessionSigningSecret),
		TTL:           cfg.SessionTTL,
	})
	if err != nil {
		return nil, err
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(cfg.SessionSigningSecret),
		CookieName:    cfg.SessionCookieName,
	})
	if err != nil {
		return nil, err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		OAuth:            stravaClient,
		SessionIssuer:    sessionIssuer,
		SessionValidator: sessionValidator,
		Hikers:           hikerService,
		Tracker:          trackerService,
		Syncer:           syncer,
		Batch:            runner,
		Updates:          updateService,
		Realtime:         realtime,
		CronSecret:       cfg.CronSecret,
		AllowedOrigins:   cfg.AllowedOrigins,
		SecureCookies:    strings.HasPrefix(cfg.PublicBaseURL, "https://"),
		Logger:           logger.Named("http"),
	})
	if err != nil {
		return nil, err
	}

	return &App{
		DB:       db,
		Hikers:   hikerService,
		Tracker:  trackerService,
		Syncer:   syncer,
		Runner:   runner,
		Realtime: realtime,
		Handler:  handler,
	}, nil
}

// Close releases the database connection.
func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return errors.New("app: not initialized")
	}
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
