package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "PCTTRACKER"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultAllowedOrigins = "*"
	defaultDatabaseDriver = DatabaseDriverSQLite
	defaultDatabasePath   = "pcttracker.db"
	defaultLogLevel       = "info"
	defaultCookieName     = "pct_session"
	defaultSessionTTL     = 30 * 24 * time.Hour
	defaultPublicBaseURL  = "http://localhost:8080"
	defaultAPIBaseURL     = "https://www.strava.com/api/v3"
	defaultTokenURL       = "https://www.strava.com/oauth/token"
	defaultAuthorizeURL   = "https://www.strava.com/oauth/authorize"
	defaultMaxPages       = 5
	defaultUserDelay      = 2 * time.Second
	defaultStaleAfter     = 15 * time.Minute
)

// Supported database drivers.
const (
	DatabaseDriverSQLite = "sqlite"
	DatabaseDriverMySQL  = "mysql"
)

// AppConfig captures runtime configuration for the API server and the sync commands.
type AppConfig struct {
	HTTPAddress    string
	AllowedOrigins []string
	PublicBaseURL  string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	LogLevel string

	SessionSigningSecret string
	SessionCookieName    string
	SessionTTL           time.Duration

	StravaClientID     string
	StravaClientSecret string
	StravaAPIBaseURL   string
	StravaTokenURL     string
	StravaAuthorizeURL string
	StravaRedirectURL  string

	SyncStreamGeometry bool
	SyncMaxPages       int
	SyncUserDelay      time.Duration
	SyncStaleAfter     time.Duration

	CronSecret string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", defaultAllowedOrigins)
	configViper.SetDefault("public.base_url", defaultPublicBaseURL)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.ttl", defaultSessionTTL)
	configViper.SetDefault("strava.api_base_url", defaultAPIBaseURL)
	configViper.SetDefault("strava.token_url", defaultTokenURL)
	configViper.SetDefault("strava.authorize_url", defaultAuthorizeURL)
	configViper.SetDefault("sync.stream_geometry", true)
	configViper.SetDefault("sync.max_pages", defaultMaxPages)
	configViper.SetDefault("sync.user_delay", defaultUserDelay)
	configViper.SetDefault("sync.stale_after", defaultStaleAfter)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	publicBaseURL := strings.TrimRight(strings.TrimSpace(configViper.GetString("public.base_url")), "/")
	redirectURL := strings.TrimSpace(configViper.GetString("strava.redirect_url"))
	if redirectURL == "" && publicBaseURL != "" {
		redirectURL = publicBaseURL + "/auth/callback"
	}

	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		AllowedOrigins:       splitList(configViper.GetString("http.allowed_origins")),
		PublicBaseURL:        publicBaseURL,
		DatabaseDriver:       strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:         configViper.GetString("database.path"),
		DatabaseDSN:          configViper.GetString("database.dsn"),
		LogLevel:             configViper.GetString("log.level"),
		SessionSigningSecret: configViper.GetString("session.signing_secret"),
		SessionCookieName:    configViper.GetString("session.cookie_name"),
		SessionTTL:           configViper.GetDuration("session.ttl"),
		StravaClientID:       configViper.GetString("strava.client_id"),
		StravaClientSecret:   configViper.GetString("strava.client_secret"),
		StravaAPIBaseURL:     configViper.GetString("strava.api_base_url"),
		StravaTokenURL:       configViper.GetString("strava.token_url"),
		StravaAuthorizeURL:   configViper.GetString("strava.authorize_url"),
		StravaRedirectURL:    redirectURL,
		SyncStreamGeometry:   configViper.GetBool("sync.stream_geometry"),
		SyncMaxPages:         configViper.GetInt("sync.max_pages"),
		SyncUserDelay:        configViper.GetDuration("sync.user_delay"),
		SyncStaleAfter:       configViper.GetDuration("sync.stale_after"),
		CronSecret:           configViper.GetString("cron.secret"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DatabaseDriverMySQL:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the mysql driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if strings.TrimSpace(c.StravaClientID) == "" || strings.TrimSpace(c.StravaClientSecret) == "" {
		return fmt.Errorf("strava.client_id and strava.client_secret are required")
	}
	if c.SyncMaxPages <= 0 {
		return fmt.Errorf("sync.max_pages must be positive")
	}
	if c.SyncStaleAfter <= 0 {
		return fmt.Errorf("sync.stale_after must be positive")
	}
	return nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
