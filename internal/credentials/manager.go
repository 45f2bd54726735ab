// Package credentials keeps each hiker's provider access token usable.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/pcttracker/internal/strava"
	"go.uber.org/zap"
)

// RefreshMargin is how far ahead of expiry a stored token is considered stale.
const RefreshMargin = 60 * time.Second

var (
	// ErrMissingStore indicates a manager built without a credential store.
	ErrMissingStore = errors.New("credentials: credential store required")
	// ErrMissingRefresher indicates a manager built without a token refresher.
	ErrMissingRefresher = errors.New("credentials: token refresher required")
	// ErrMissingUserID indicates an empty user identifier.
	ErrMissingUserID = errors.New("credentials: user id required")
)

// Credential is the stored token pair of one hiker.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Store loads and persists credentials. Load returns an error wrapping the store's not-found
// sentinel for unknown users.
type Store interface {
	LoadCredential(ctx context.Context, userID string) (Credential, error)
	SaveCredential(ctx context.Context, userID string, credential Credential) error
}

// Refresher renews an access token.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (strava.TokenGrant, error)
}

// ManagerConfig describes the dependencies of a Manager.
type ManagerConfig struct {
	Store     Store
	Refresher Refresher
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Manager hands out valid access tokens, refreshing them when they are about to expire.
type Manager struct {
	store     Store
	refresher Refresher
	clock     func() time.Time
	logger    *zap.Logger
	locks     sync.Map
}

// NewManager validates dependencies and constructs a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, ErrMissingStore
	}
	if cfg.Refresher == nil {
		return nil, ErrMissingRefresher
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:     cfg.Store,
		refresher: cfg.Refresher,
		clock:     clock,
		logger:    logger,
	}, nil
}

// EnsureAccessToken returns a token valid for at least RefreshMargin. Calls for the same user are
// serialized so a refresh token is never spent twice.
func (m *Manager) EnsureAccessToken(ctx context.Context, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ErrMissingUserID
	}

	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	stored, err := m.store.LoadCredential(ctx, userID)
	if err != nil {
		return "", err
	}

	now := m.clock().UTC()
	if stored.AccessToken != "" && stored.ExpiresAt.Sub(now) > RefreshMargin {
		return stored.AccessToken, nil
	}

	grant, err := m.refresher.RefreshToken(ctx, stored.RefreshToken)
	if err != nil {
		m.logger.Warn("token refresh failed", zap.String("user_id", userID), zap.Error(err))
		return "", fmt.Errorf("credentials: refresh for %s: %w", userID, err)
	}

	renewed := Credential{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    grant.ExpiresAt,
	}
	if renewed.RefreshToken == "" {
		renewed.RefreshToken = stored.RefreshToken
	}
	if err := m.store.SaveCredential(ctx, userID, renewed); err != nil {
		return "", fmt.Errorf("credentials: persist for %s: %w", userID, err)
	}

	m.logger.Debug("access token refreshed",
		zap.String("user_id", userID),
		zap.Time("expires_at", renewed.ExpiresAt))
	return renewed.AccessToken, nil
}

func (m *Manager) userLock(userID string) *sync.Mutex {
	value, _ := m.locks.LoadOrStore(userID, &sync.Mutex{})
	return value.(*sync.Mutex)
}
