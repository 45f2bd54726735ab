// Package trail holds the reference trail centerline and answers proximity and progress questions
// against it.
package trail

import (
	"errors"
	"fmt"
	"math"

	"github.com/MarcoPoloResearchLab/pcttracker/internal/geo"
)

// DefaultProximityMeters is the distance within which a position counts as on the trail.
const DefaultProximityMeters = 15000.0

var (
	// ErrTooFewWaypoints indicates that a trail was built from fewer than two waypoints.
	ErrTooFewWaypoints = errors.New("trail: at least two waypoints required")
	// ErrInvalidThreshold indicates a non-positive or non-finite proximity threshold.
	ErrInvalidThreshold = errors.New("trail: invalid proximity threshold")
)

// Trail is an immutable reference polyline oriented from the southern to the northern terminus.
type Trail struct {
	waypoints []geo.Coordinate
	threshold float64
}

// New validates the waypoints and threshold and returns a Trail holding a private copy.
func New(waypoints []geo.Coordinate, thresholdMeters float64) (*Trail, error) {
	if len(waypoints) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrTooFewWaypoints, len(waypoints))
	}
	if thresholdMeters <= 0 || math.IsNaN(thresholdMeters) || math.IsInf(thresholdMeters, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidThreshold, thresholdMeters)
	}
	copied := make([]geo.Coordinate, len(waypoints))
	copy(copied, waypoints)
	return &Trail{waypoints: copied, threshold: thresholdMeters}, nil
}

// WithThreshold returns a trail sharing the same waypoints with a different threshold.
func (t *Trail) WithThreshold(thresholdMeters float64) (*Trail, error) {
	return New(t.waypoints, thresholdMeters)
}

// Threshold returns the proximity threshold in meters.
func (t *Trail) Threshold() float64 {
	return t.threshold
}

// Waypoints returns a copy of the reference polyline.
func (t *Trail) Waypoints() []geo.Coordinate {
	copied := make([]geo.Coordinate, len(t.waypoints))
	copy(copied, t.waypoints)
	return copied
}

// IsNear reports whether the position lies within the threshold of any trail segment.
// Non-finite positions are never near.
func (t *Trail) IsNear(position geo.Coordinate) bool {
	for index := 0; index < len(t.waypoints)-1; index++ {
		distance := geo.DistanceToSegment(position, t.waypoints[index], t.waypoints[index+1])
		if distance <= t.threshold {
			return true
		}
	}
	return false
}

// DistanceMeters returns the minimum distance from the position to the polyline.
func (t *Trail) DistanceMeters(position geo.Coordinate) float64 {
	best := math.Inf(1)
	for index := 0; index < len(t.waypoints)-1; index++ {
		distance := geo.DistanceToSegment(position, t.waypoints[index], t.waypoints[index+1])
		if distance < best {
			best = distance
		}
	}
	return best
}

// SplitAt partitions the reference polyline around the vertex nearest to position.
func (t *Trail) SplitAt(position geo.Coordinate, direction Direction) Split {
	return SplitPolyline(t.waypoints, NearestIndex(t.waypoints, position), direction)
}
