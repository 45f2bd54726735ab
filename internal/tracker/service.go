package tracker

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/pcttracker/internal/geo"
	"github.com/MarcoPoloResearchLab/pcttracker/internal/trail"
	"go.uber.org/zap"
)

const (
	opServiceNew      = "tracker.service.new"
	opStats           = "tracker.stats"
	opTracks          = "tracker.tracks"
	opLatestPosition  = "tracker.latest_position"
	opSyncStatus      = "tracker.sync_status"
	geoJSONCollection = "FeatureCollection"
	geoJSONFeature    = "Feature"
	geoJSONLineString = "LineString"
)

var noOpLogger = zap.NewNop()

// ServiceConfig describes the dependencies of the read-side Service.
type ServiceConfig struct {
	Store  *Store
	Trail  *trail.Trail
	Logger *zap.Logger
}

// Service answers the public questions about a hiker's progress.
type Service struct {
	store  *Store
	trail  *trail.Trail
	logger *zap.Logger
}

// NewService constructs the read-side service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Trail == nil {
		return nil, newServiceError(opServiceNew, "missing_trail", errMissingTrail)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{store: cfg.Store, trail: cfg.Trail, logger: logger}, nil
}

// ActivityRow is the per-activity line of the stats table.
type ActivityRow struct {
	StravaID       int64     `json:"strava_id"`
	Name           string    `json:"name"`
	StartDate      time.Time `json:"start_date"`
	DistanceM      float64   `json:"distance_m"`
	MovingTimeS    int64     `json:"moving_time_s"`
	ElevationGainM float64   `json:"elevation_gain_m"`
	Type           string    `json:"type"`
}

// Stats aggregates a hiker's stored activities.
type Stats struct {
	ActivityCount       int           `json:"activity_count"`
	TotalDistanceM      float64       `json:"total_distance_m"`
	TotalMovingTimeS    int64         `json:"total_moving_time_s"`
	TotalElevationGainM float64       `json:"total_elevation_gain_m"`
	FirstActivityDate   *time.Time    `json:"first_activity_date,omitempty"`
	LastActivityDate    *time.Time    `json:"last_activity_date,omitempty"`
	Activities          []ActivityRow `json:"activities"`
}

// Stats sums distance, moving time and elevation gain over the hiker's activities.
func (s *Service) Stats(ctx context.Context, userID string) (Stats, error) {
	activities, err := s.listActivities(ctx, opStats, userID)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Activities: make([]ActivityRow, 0, len(activities))}
	for _, activity := range activities {
		stats.ActivityCount++
		stats.TotalDistanceM += activity.DistanceMeters
		stats.TotalMovingTimeS += activity.MovingTimeSeconds
		stats.TotalElevationGainM += activity.ElevationGainMeters
		stats.Activities = append(stats.Activities, ActivityRow{
			StravaID:       activity.StravaID,
			Name:           activity.Name,
			StartDate:      activity.StartDate(),
			DistanceM:      activity.DistanceMeters,
			MovingTimeS:    activity.MovingTimeSeconds,
			ElevationGainM: activity.ElevationGainMeters,
			Type:           activity.ActivityType,
		})
	}
	if len(activities) > 0 {
		first := activities[0].StartDate()
		last := activities[len(activities)-1].StartDate()
		stats.FirstActivityDate = &first
		stats.LastActivityDate = &last
	}
	return stats, nil
}

// LineString is a GeoJSON line geometry in [lon, lat] order.
type LineString struct {
	Type        string       `json:"type"`
	Coordinates [][2]float64 `json:"coordinates"`
}

// Feature is a GeoJSON feature carrying one activity track.
type Feature struct {
	Type       string         `json:"type"`
	Geometry   LineString     `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// FeatureCollection is the GeoJSON document served to the map.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Tracks renders every stored activity with a track as a GeoJSON LineString feature. Activities
// stored without geometry are left out.
func (s *Service) Tracks(ctx context.Context, userID string) (FeatureCollection, error) {
	activities, err := s.listActivities(ctx, opTracks, userID)
	if err != nil {
		return FeatureCollection{}, err
	}

	collection := FeatureCollection{Type: geoJSONCollection, Features: []Feature{}}
	for _, activity := range activities {
		if len(activity.Coordinates) < 2 {
			continue
		}
		properties := map[string]any{
			"i":                len(collection.Features),
			"strava_id":        activity.StravaID,
			"name":             activity.Name,
			"start_date":       activity.StartDate().Format(time.RFC3339),
			"distance_m":       activity.DistanceMeters,
			"moving_time_s":    activity.MovingTimeSeconds,
			"type":             activity.ActivityType,
			"elevation_gain_m": activity.ElevationGainMeters,
			"profile_dist_m":   []float64(activity.ProfileDistanceM),
			"profile_elev_m":   []float64(activity.ProfileElevationM),
		}
		collection.Features = append(collection.Features, Feature{
			Type:       geoJSONFeature,
			Geometry:   LineString{Type: geoJSONLineString, Coordinates: activity.Coordinates},
			Properties: properties,
		})
	}
	return collection, nil
}

// LatestPosition returns the hiker's latest on-trail position. found is false when no position
// was recorded yet, which is not an error.
func (s *Service) LatestPosition(ctx context.Context, userID string) (LatestPosition, bool, error) {
	if userID == "" {
		return LatestPosition{}, false, newServiceError(opLatestPosition, "missing_user_id", errMissingUserID)
	}
	position, found, err := s.store.LatestPosition(ctx, userID)
	if err != nil {
		s.logError(opLatestPosition, "query_failed", err, zap.String("user_id", userID))
		return LatestPosition{}, false, newServiceError(opLatestPosition, "query_failed", err)
	}
	return position, found, nil
}

// Progress is the reference trail split at the hiker's latest position.
type Progress struct {
	Direction trail.Direction
	Position  *geo.Coordinate
	Split     trail.Split
}

// Progress splits the reference trail at the latest position. Without a position the whole trail
// is remaining.
func (s *Service) Progress(ctx context.Context, userID string, direction trail.Direction) (Progress, error) {
	position, found, err := s.LatestPosition(ctx, userID)
	if err != nil {
		return Progress{}, err
	}
	if !found {
		return Progress{
			Direction: direction,
			Split:     trail.Split{Completed: []geo.Coordinate{}, Remaining: s.trail.Waypoints()},
		}, nil
	}
	coordinate := geo.Coordinate{Lat: position.Lat, Lon: position.Lon}
	return Progress{
		Direction: direction,
		Position:  &coordinate,
		Split:     s.trail.SplitAt(coordinate, direction),
	}, nil
}

// SyncStatus returns the hiker's sync state. A hiker that never synced reports idle.
func (s *Service) SyncStatus(ctx context.Context, userID string) (SyncState, error) {
	state, found, err := s.store.SyncState(ctx, userID)
	if err != nil {
		s.logError(opSyncStatus, "query_failed", err, zap.String("user_id", userID))
		return SyncState{}, newServiceError(opSyncStatus, "query_failed", err)
	}
	if !found {
		return SyncState{UserID: userID, Status: SyncStatusIdle}, nil
	}
	return state, nil
}

func (s *Service) listActivities(ctx context.Context, operation, userID string) ([]Activity, error) {
	if userID == "" {
		return nil, newServiceError(operation, "missing_user_id", errMissingUserID)
	}
	activities, err := s.store.Activities(ctx, userID)
	if err != nil {
		s.logError(operation, "query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(operation, "query_failed", err)
	}
	return activities, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("tracker service error", attrs...)
}
