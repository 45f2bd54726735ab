package tracker

import (
	"time"

	"gorm.io/datatypes"
)

// SyncStatus enumerates the lifecycle states of a hiker's sync.
type SyncStatus string

const (
	// SyncStatusIdle means no sync is running and the last one succeeded (or none ran yet).
	SyncStatusIdle SyncStatus = "idle"
	// SyncStatusSyncing means a sync holds the hiker's advisory lock.
	SyncStatusSyncing SyncStatus = "syncing"
	// SyncStatusError means the last sync failed; LastError carries the message.
	SyncStatusError SyncStatus = "error"
)

// CanTransitionTo reports whether the state machine allows moving from s to next.
func (s SyncStatus) CanTransitionTo(next SyncStatus) bool {
	switch s {
	case "", SyncStatusIdle, SyncStatusError:
		return next == SyncStatusSyncing
	case SyncStatusSyncing:
		return next == SyncStatusIdle || next == SyncStatusError
	default:
		return false
	}
}

// Activity is one persisted trail-relevant activity. (UserID, StravaID) is unique.
type Activity struct {
	ID                  uint64                          `gorm:"column:id;primaryKey;autoIncrement"`
	UserID              string                          `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_activities_user_strava,priority:1;index:idx_activities_user_start,priority:1"`
	StravaID            int64                           `gorm:"column:strava_id;not null;uniqueIndex:idx_activities_user_strava,priority:2"`
	Name                string                          `gorm:"column:name;size:255;not null;default:''"`
	StartDateSeconds    int64                           `gorm:"column:start_date_s;not null;index:idx_activities_user_start,priority:2"`
	DistanceMeters      float64                         `gorm:"column:distance_m;not null;default:0"`
	MovingTimeSeconds   int64                           `gorm:"column:moving_time_s;not null;default:0"`
	ElevationGainMeters float64                         `gorm:"column:elevation_gain_m;not null;default:0"`
	ActivityType        string                          `gorm:"column:activity_type;size:64;not null;default:''"`
	ProfileDistanceM    datatypes.JSONSlice[float64]    `gorm:"column:profile_dist_m"`
	ProfileElevationM   datatypes.JSONSlice[float64]    `gorm:"column:profile_elev_m"`
	Coordinates         datatypes.JSONSlice[[2]float64] `gorm:"column:coordinates"`
	CreatedAtSeconds    int64                           `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Activity) TableName() string {
	return "activities"
}

// StartDate returns the activity start as a UTC time.
func (a Activity) StartDate() time.Time {
	return time.Unix(a.StartDateSeconds, 0).UTC()
}

// SyncLease identifies the run holding a hiker's sync lock.
type SyncLease struct {
	UserID           string
	StartedAtSeconds int64
}

// SyncState is the per-hiker sync status row. It doubles as the advisory lock guarding a sync.
type SyncState struct {
	UserID            string     `gorm:"column:user_id;primaryKey;size:190;not null"`
	Status            SyncStatus `gorm:"column:status;size:16;not null;default:'idle'"`
	StartedAtSeconds  int64      `gorm:"column:started_at_s;not null;default:0"`
	LastSyncAtSeconds int64      `gorm:"column:last_sync_at_s;not null;default:0"`
	LastError         string     `gorm:"column:last_error;type:text"`
}

// TableName provides the explicit table binding for GORM.
func (SyncState) TableName() string {
	return "sync_states"
}

// LatestPosition is the most recent on-trail end point of a hiker.
type LatestPosition struct {
	UserID              string  `gorm:"column:user_id;primaryKey;size:190;not null"`
	Lat                 float64 `gorm:"column:lat;not null"`
	Lon                 float64 `gorm:"column:lon;not null"`
	ActivityDateSeconds int64   `gorm:"column:activity_date_s;not null"`
	UpdatedAtSeconds    int64   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (LatestPosition) TableName() string {
	return "latest_positions"
}
