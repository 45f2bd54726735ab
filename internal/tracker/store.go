package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/pcttracker/internal/strava"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxErrorMessageLength = 1000

// Store persists activities, sync states and latest positions.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a database handle.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &Store{db: db}, nil
}

// AcquireSync moves the hiker's sync state to syncing and stamps now as both the start and the
// last sync time. A state left in syncing since before staleBefore is taken over. It reports false
// when another sync holds the lock. The returned lease identifies this run when releasing.
func (s *Store) AcquireSync(ctx context.Context, userID string, now, staleBefore time.Time) (SyncLease, bool, error) {
	lease := SyncLease{UserID: userID, StartedAtSeconds: now.Unix()}
	acquired := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := SyncState{UserID: userID, Status: SyncStatusIdle}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return err
		}
		result := tx.Model(&SyncState{}).
			Where("user_id = ?", userID).
			Where("(status IN ? OR (status = ? AND started_at_s < ?))",
				[]SyncStatus{SyncStatusIdle, SyncStatusError}, SyncStatusSyncing, staleBefore.Unix()).
			Updates(map[string]interface{}{
				"status":         SyncStatusSyncing,
				"started_at_s":   lease.StartedAtSeconds,
				"last_sync_at_s": lease.StartedAtSeconds,
			})
		if result.Error != nil {
			return result.Error
		}
		acquired = result.RowsAffected == 1
		return nil
	})
	if err != nil || !acquired {
		return SyncLease{}, false, err
	}
	return lease, true, nil
}

// CompleteSync releases the lock after a successful run.
func (s *Store) CompleteSync(ctx context.Context, lease SyncLease, now time.Time) (bool, error) {
	return s.releaseSync(ctx, lease, SyncStatusIdle, now, "")
}

// FailSync releases the lock and records the failure.
func (s *Store) FailSync(ctx context.Context, lease SyncLease, now time.Time, message string) (bool, error) {
	return s.releaseSync(ctx, lease, SyncStatusError, now, truncateRunes(message, maxErrorMessageLength))
}

// releaseSync only touches the row while the lease still owns it. A run whose lock was taken
// over as stale reports false and leaves the new owner alone.
func (s *Store) releaseSync(ctx context.Context, lease SyncLease, status SyncStatus, now time.Time, message string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&SyncState{}).
		Where("user_id = ? AND status = ? AND started_at_s = ?", lease.UserID, SyncStatusSyncing, lease.StartedAtSeconds).
		Updates(map[string]interface{}{
			"status":         status,
			"last_sync_at_s": now.Unix(),
			"last_error":     message,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func truncateRunes(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	count := 0
	for index := range value {
		if count == limit {
			return value[:index]
		}
		count++
	}
	return value
}

// SyncState loads the hiker's sync state; found is false when no sync was ever attempted.
func (s *Store) SyncState(ctx context.Context, userID string) (SyncState, bool, error) {
	var state SyncState
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SyncState{}, false, nil
	}
	if err != nil {
		return SyncState{}, false, err
	}
	return state, true, nil
}

// PruneOutside deletes the hiker's activities starting outside [window.After, window.Before).
// An open window prunes nothing.
func (s *Store) PruneOutside(ctx context.Context, userID string, window strava.Window) (int64, error) {
	if window.IsZero() {
		return 0, nil
	}
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	switch {
	case !window.After.IsZero() && !window.Before.IsZero():
		query = query.Where("(start_date_s < ? OR start_date_s >= ?)", window.After.Unix(), window.Before.Unix())
	case !window.After.IsZero():
		query = query.Where("start_date_s < ?", window.After.Unix())
	default:
		query = query.Where("start_date_s >= ?", window.Before.Unix())
	}
	result := query.Delete(&Activity{})
	return result.RowsAffected, result.Error
}

// StoredStravaIDs returns the provider ids already persisted for the hiker.
func (s *Store) StoredStravaIDs(ctx context.Context, userID string) (map[int64]struct{}, error) {
	var ids []int64
	if err := s.db.WithContext(ctx).Model(&Activity{}).
		Where("user_id = ?", userID).
		Pluck("strava_id", &ids).Error; err != nil {
		return nil, err
	}
	stored := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		stored[id] = struct{}{}
	}
	return stored, nil
}

var activityUpdateColumns = []string{
	"name",
	"start_date_s",
	"distance_m",
	"moving_time_s",
	"elevation_gain_m",
	"activity_type",
	"profile_dist_m",
	"profile_elev_m",
	"coordinates",
}

// UpsertActivity inserts the activity or replaces the stored row with the same (user, provider id).
func (s *Store) UpsertActivity(ctx context.Context, activity *Activity) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "strava_id"}},
		DoUpdates: clause.AssignmentColumns(activityUpdateColumns),
	}).Create(activity).Error
}

// Activities lists the hiker's activities by ascending start date.
func (s *Store) Activities(ctx context.Context, userID string) ([]Activity, error) {
	var activities []Activity
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("start_date_s ASC").
		Order("strava_id ASC").
		Find(&activities).Error
	return activities, err
}

// UpsertLatestPosition replaces the hiker's latest position.
func (s *Store) UpsertLatestPosition(ctx context.Context, position *LatestPosition) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"lat", "lon", "activity_date_s", "updated_at_s"}),
	}).Create(position).Error
}

// LatestPosition loads the hiker's latest position; found is false when none was recorded.
func (s *Store) LatestPosition(ctx context.Context, userID string) (LatestPosition, bool, error) {
	var position LatestPosition
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&position).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return LatestPosition{}, false, nil
	}
	if err != nil {
		return LatestPosition{}, false, err
	}
	return position, true, nil
}
