// Package scheduler runs the periodic sync over every linked hiker.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/pcttracker/internal/tracker"
	"go.uber.org/zap"
)

// DefaultUserDelay is the pause between two hikers of one batch.
const DefaultUserDelay = 2 * time.Second

var (
	errMissingDirectory = errors.New("scheduler: user directory required")
	errMissingSyncer    = errors.New("scheduler: syncer required")
)

// UserDirectory lists the hikers to sync.
type UserDirectory interface {
	ListUserIDs(ctx context.Context) ([]string, error)
}

// UserSyncer syncs one hiker.
type UserSyncer interface {
	SyncUser(ctx context.Context, userID string) (tracker.SyncResult, error)
}

// Config describes the dependencies of a Runner.
type Config struct {
	Users     UserDirectory
	Syncer    UserSyncer
	UserDelay time.Duration
	Logger    *zap.Logger
	// Sleep waits for d or until ctx is done. Defaults to a timer based wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// UserOutcome is the per-hiker line of a batch.
type UserOutcome struct {
	UserID  string `json:"user_id"`
	Added   int    `json:"added"`
	Skipped int    `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

// BatchResult summarizes a batch run.
type BatchResult struct {
	Users     []UserOutcome `json:"users"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	// Interrupted is set when the context ended before every hiker was visited.
	Interrupted bool `json:"interrupted"`
}

// Runner syncs hikers one after another.
type Runner struct {
	users     UserDirectory
	syncer    UserSyncer
	userDelay time.Duration
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewRunner validates dependencies and constructs a Runner. A negative delay disables the pause.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Users == nil {
		return nil, errMissingDirectory
	}
	if cfg.Syncer == nil {
		return nil, errMissingSyncer
	}
	delay := cfg.UserDelay
	if delay == 0 {
		delay = DefaultUserDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Runner{
		users:     cfg.Users,
		syncer:    cfg.Syncer,
		userDelay: delay,
		logger:    logger,
		sleep:     sleep,
	}, nil
}

// RunBatch syncs every hiker sequentially. One hiker's failure is recorded and the batch moves on.
// Cancellation is honoured between hikers.
func (r *Runner) RunBatch(ctx context.Context) (BatchResult, error) {
	userIDs, err := r.users.ListUserIDs(ctx)
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{Users: make([]UserOutcome, 0, len(userIDs))}
	for index, userID := range userIDs {
		if index > 0 && r.userDelay > 0 {
			if err := r.sleep(ctx, r.userDelay); err != nil {
				result.Interrupted = true
				break
			}
		}
		if ctx.Err() != nil {
			result.Interrupted = true
			break
		}

		synced, err := r.syncer.SyncUser(ctx, userID)
		outcome := UserOutcome{UserID: userID, Added: synced.Added, Skipped: synced.Skipped}
		if err != nil {
			outcome.Error = err.Error()
			result.Failed++
			r.logger.Warn("user sync failed", zap.String("user_id", userID), zap.Error(err))
		} else {
			result.Succeeded++
		}
		result.Users = append(result.Users, outcome)
	}

	r.logger.Info("sync batch finished",
		zap.Int("users", len(userIDs)),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Bool("interrupted", result.Interrupted))
	return result, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
