package trail

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/pcttracker/internal/geo"
)

// Direction describes which terminus the hiker started from.
type Direction string

const (
	// DirectionNorthbound walks the polyline from its first to its last waypoint.
	DirectionNorthbound Direction = "NOBO"
	// DirectionSouthbound walks the polyline from its last to its first waypoint.
	DirectionSouthbound Direction = "SOBO"
)

// ErrInvalidDirection indicates a direction other than NOBO or SOBO.
var ErrInvalidDirection = errors.New("trail: invalid direction")

// ParseDirection normalizes raw input into a Direction.
func ParseDirection(raw string) (Direction, error) {
	switch Direction(strings.ToUpper(strings.TrimSpace(raw))) {
	case DirectionNorthbound:
		return DirectionNorthbound, nil
	case DirectionSouthbound:
		return DirectionSouthbound, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, raw)
	}
}

// String returns the wire form of the direction.
func (d Direction) String() string {
	return string(d)
}

// Split holds the completed and remaining parts of a polyline. Both share the seam vertex.
type Split struct {
	Completed []geo.Coordinate
	Remaining []geo.Coordinate
}

// NearestIndex returns the index of the polyline vertex closest to position, or -1 when the
// polyline is empty.
func NearestIndex(polyline []geo.Coordinate, position geo.Coordinate) int {
	bestIndex := -1
	bestDistance := 0.0
	for index, vertex := range polyline {
		distance := geo.DistanceMeters(position, vertex)
		if bestIndex == -1 || distance < bestDistance {
			bestIndex = index
			bestDistance = distance
		}
	}
	return bestIndex
}

// SplitPolyline partitions polyline at index for the given direction. An out of range index is
// clamped; an empty polyline yields an empty split.
func SplitPolyline(polyline []geo.Coordinate, index int, direction Direction) Split {
	if len(polyline) == 0 {
		return Split{Completed: []geo.Coordinate{}, Remaining: []geo.Coordinate{}}
	}
	index = max(0, min(len(polyline)-1, index))

	head := append([]geo.Coordinate(nil), polyline[:index+1]...)
	tail := append([]geo.Coordinate(nil), polyline[index:]...)

	if direction == DirectionSouthbound {
		return Split{Completed: tail, Remaining: head}
	}
	return Split{Completed: head, Remaining: tail}
}
