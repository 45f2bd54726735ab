package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/pcttracker/internal/hikers"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/profile"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/strava"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/trail"
	"go.uber.org/zap"
)

// DefaultStaleAfter is how long a sync may hold the lock before another run may take it over.
const DefaultStaleAfter = 15 * time.Minute

const (
	opSyncUser  = "tracker.sync_user"
	opNewSyncer = "tracker.syncer.new"
)

var (
	errMissingStore      = errors.New("store is required")
	errMissingDirectory  = errors.New("hiker directory is required")
	errMissingTokens     = errors.New("token source is required")
	errMissingActivities = errors.New("activity source is required")
	errMissingTrail      = errors.New("reference trail is required")
)

// HikerDirectory resolves hikers by id.
type HikerDirectory interface {
	Get(ctx context.Context, userID string) (hikers.User, error)
}

// TokenSource yields a usable provider access token for a hiker.
type TokenSource interface {
	EnsureAccessToken(ctx context.Context, userID string) (string, error)
}

// ActivitySource lists activities and loads their streams.
type ActivitySource interface {
	FetchActivities(ctx context.Context, accessToken string, window strava.Window) ([]strava.ActivitySummary, error)
	FetchStreams(ctx context.Context, accessToken string, activityID int64) (strava.Streams, error)
}

// Observer is notified after every sync that acquired the lock.
type Observer interface {
	SyncFinished(userID string, result SyncResult, err error)
}

// SyncResult counts the outcome of one sync.
type SyncResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// SyncerConfig describes the dependencies of a Syncer.
type SyncerConfig struct {
	Store      *Store
	Hikers     HikerDirectory
	Tokens     TokenSource
	Activities ActivitySource
	Trail      *trail.Trail
	// StreamGeometry fetches per-activity streams and stores full tracks and profiles. When false
	// only summary fields are stored.
	StreamGeometry bool
	StaleAfter     time.Duration
	Clock          func() time.Time
	Logger         *zap.Logger
	Observer       Observer
}

// Syncer pulls a hiker's provider activities into the store.
type Syncer struct {
	store          *Store
	hikers         HikerDirectory
	tokens         TokenSource
	activities     ActivitySource
	trail          *trail.Trail
	streamGeometry bool
	staleAfter     time.Duration
	clock          func() time.Time
	logger         *zap.Logger
	observer       Observer
}

// NewSyncer validates dependencies and constructs a Syncer.
func NewSyncer(cfg SyncerConfig) (*Syncer, error) {
	switch {
	case cfg.Store == nil:
		return nil, newServiceError(opNewSyncer, "missing_store", errMissingStore)
	case cfg.Hikers == nil:
		return nil, newServiceError(opNewSyncer, "missing_hikers", errMissingDirectory)
	case cfg.Tokens == nil:
		return nil, newServiceError(opNewSyncer, "missing_tokens", errMissingTokens)
	case cfg.Activities == nil:
		return nil, newServiceError(opNewSyncer, "missing_activities", errMissingActivities)
	case cfg.Trail == nil:
		return nil, newServiceError(opNewSyncer, "missing_trail", errMissingTrail)
	}

	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Syncer{
		store:          cfg.Store,
		hikers:         cfg.Hikers,
		tokens:         cfg.Tokens,
		activities:     cfg.Activities,
		trail:          cfg.Trail,
		streamGeometry: cfg.StreamGeometry,
		staleAfter:     staleAfter,
		clock:          clock,
		logger:         logger,
		observer:       cfg.Observer,
	}, nil
}

// SyncUser brings the hiker's stored activities and latest position up to date with the provider.
//
// Unknown hikers fail before any state is written. A hiker whose sync is already running yields
// ErrSyncInProgress. Every other failure leaves the sync state in error with the message and is
// returned; activities written before the failure stay persisted.
func (s *Syncer) SyncUser(ctx context.Context, userID string) (SyncResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return SyncResult{}, newServiceError(opSyncUser, "missing_user_id", errMissingUserID)
	}

	user, err := s.hikers.Get(ctx, userID)
	if err != nil {
		return SyncResult{}, err
	}

	now := s.clock().UTC()
	lease, acquired, err := s.store.AcquireSync(ctx, userID, now, now.Add(-s.staleAfter))
	if err != nil {
		s.logError(opSyncUser, "lock_failed", err, zap.String("user_id", userID))
		return SyncResult{}, newServiceError(opSyncUser, "lock_failed", err)
	}
	if !acquired {
		return SyncResult{}, ErrSyncInProgress
	}

	result, runErr := s.run(ctx, user)

	// The outcome is recorded even when the caller's context was cancelled.
	releaseCtx := context.WithoutCancel(ctx)
	finishedAt := s.clock().UTC()
	var released bool
	var releaseErr error
	if runErr != nil {
		released, releaseErr = s.store.FailSync(releaseCtx, lease, finishedAt, runErr.Error())
		s.logError(opSyncUser, "sync_failed", runErr,
			zap.String("user_id", userID),
			zap.Int("added", result.Added),
			zap.Int("skipped", result.Skipped))
	} else {
		released, releaseErr = s.store.CompleteSync(releaseCtx, lease, finishedAt)
		if releaseErr != nil {
			runErr = newServiceError(opSyncUser, "release_failed", releaseErr)
		}
	}
	switch {
	case releaseErr != nil:
		s.logError(opSyncUser, "release_failed", releaseErr, zap.String("user_id", userID))
	case !released:
		s.logger.Warn("sync lock was taken over before release",
			zap.String("user_id", userID),
			zap.Int64("started_at_s", lease.StartedAtSeconds))
	}

	if s.observer != nil {
		s.observer.SyncFinished(userID, result, runErr)
	}
	if runErr != nil {
		return result, runErr
	}
	return result, nil
}

func (s *Syncer) run(ctx context.Context, user hikers.User) (SyncResult, error) {
	result := SyncResult{}
	userID := user.UserID

	window, err := user.Window()
	if err != nil {
		return result, err
	}

	pruned, err := s.store.PruneOutside(ctx, userID, window)
	if err != nil {
		return result, newServiceError(opSyncUser, "prune_failed", err)
	}

	accessToken, err := s.tokens.EnsureAccessToken(ctx, userID)
	if err != nil {
		return result, err
	}

	fetched, err := s.activities.FetchActivities(ctx, accessToken, window)
	if err != nil {
		return result, err
	}
	sort.SliceStable(fetched, func(i, j int) bool {
		return fetched[i].StartDate.Before(fetched[j].StartDate)
	})

	stored, err := s.store.StoredStravaIDs(ctx, userID)
	if err != nil {
		return result, newServiceError(opSyncUser, "load_stored_failed", err)
	}

	for _, summary := range fetched {
		if _, exists := stored[summary.ID]; exists {
			result.Skipped++
			continue
		}
		if start, ok := summary.StartLatLng.Coordinate(); ok && !s.trail.IsNear(start) {
			result.Skipped++
			continue
		}

		activity, ok, err := s.buildActivity(ctx, accessToken, userID, summary)
		if err != nil {
			return result, err
		}
		if !ok {
			result.Skipped++
			continue
		}
		if err := s.store.UpsertActivity(ctx, activity); err != nil {
			return result, newServiceError(opSyncUser, "activity_upsert_failed", fmt.Errorf("activity %d: %w", summary.ID, err))
		}
		stored[summary.ID] = struct{}{}
		result.Added++
	}

	if err := s.updateLatestPosition(ctx, userID, fetched); err != nil {
		return result, err
	}

	s.logger.Info("sync completed",
		zap.String("user_id", userID),
		zap.Int("fetched", len(fetched)),
		zap.Int("added", result.Added),
		zap.Int("skipped", result.Skipped),
		zap.Int64("pruned", pruned))
	return result, nil
}

// buildActivity reports ok=false for an activity whose streams carry no usable track.
func (s *Syncer) buildActivity(ctx context.Context, accessToken, userID string, summary strava.ActivitySummary) (*Activity, bool, error) {
	activity := &Activity{
		UserID:              userID,
		StravaID:            summary.ID,
		Name:                summary.Name,
		StartDateSeconds:    summary.StartDate.Unix(),
		DistanceMeters:      summary.Distance,
		MovingTimeSeconds:   summary.MovingTime,
		ElevationGainMeters: summary.TotalElevationGain,
		ActivityType:        summary.Type,
		ProfileDistanceM:    []float64{},
		ProfileElevationM:   []float64{},
		Coordinates:         [][2]float64{},
		CreatedAtSeconds:    s.clock().UTC().Unix(),
	}
	if !s.streamGeometry {
		return activity, true, nil
	}

	streams, err := s.activities.FetchStreams(ctx, accessToken, summary.ID)
	if err != nil {
		return nil, false, err
	}
	if !streams.HasGeometry() {
		s.logger.Debug("activity without geometry skipped",
			zap.String("user_id", userID),
			zap.Int64("strava_id", summary.ID))
		return nil, false, nil
	}

	built := profile.Build(streams.LatLng, streams.Altitude, summary.TotalElevationGain)
	activity.ProfileDistanceM = built.DistanceM
	activity.ProfileElevationM = built.ElevationM
	activity.Coordinates = built.Coordinates
	activity.ElevationGainMeters = built.ElevationGain
	return activity, true, nil
}

// updateLatestPosition records the end point of the newest fetched activity that finished on the
// trail. Activities already stored are considered too.
func (s *Syncer) updateLatestPosition(ctx context.Context, userID string, ascending []strava.ActivitySummary) error {
	for index := len(ascending) - 1; index >= 0; index-- {
		summary := ascending[index]
		end, ok := summary.EndLatLng.Coordinate()
		if !ok || !s.trail.IsNear(end) {
			continue
		}
		position := &LatestPosition{
			UserID:              userID,
			Lat:                 end.Lat,
			Lon:                 end.Lon,
			ActivityDateSeconds: summary.StartDate.Unix(),
			UpdatedAtSeconds:    s.clock().UTC().Unix(),
		}
		if err := s.store.UpsertLatestPosition(ctx, position); err != nil {
			return newServiceError(opSyncUser, "position_upsert_failed", err)
		}
		return nil
	}
	return nil
}

func (s *Syncer) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("tracker sync error", attrs...)
}
