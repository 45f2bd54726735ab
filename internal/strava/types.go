package strava

import (
	"time"

	"github.com/MarcoPoloResearchLab/pcttracker/internal/geo"
)

// Window bounds an activity listing. A zero bound is open.
type Window struct {
	After  time.Time
	Before time.Time
}

// IsZero reports whether neither bound is set.
func (w Window) IsZero() bool {
	return w.After.IsZero() && w.Before.IsZero()
}

// Contains reports whether ts lies in [After, Before).
func (w Window) Contains(ts time.Time) bool {
	if !w.After.IsZero() && ts.Before(w.After) {
		return false
	}
	if !w.Before.IsZero() && !ts.Before(w.Before) {
		return false
	}
	return true
}

// LatLng is a provider [lat, lon] pair. Empty or null arrays decode to an absent position.
type LatLng []float64

// Coordinate returns the position when the pair is present.
func (l LatLng) Coordinate() (geo.Coordinate, bool) {
	if len(l) != 2 {
		return geo.Coordinate{}, false
	}
	return geo.Coordinate{Lat: l[0], Lon: l[1]}, true
}

// ActivitySummary is one entry of the athlete activity listing.
type ActivitySummary struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	StartDate          time.Time `json:"start_date"`
	Distance           float64   `json:"distance"`
	MovingTime         int64     `json:"moving_time"`
	Type               string    `json:"type"`
	TotalElevationGain float64   `json:"total_elevation_gain"`
	StartLatLng        LatLng    `json:"start_latlng"`
	EndLatLng          LatLng    `json:"end_latlng"`
}

// Streams carries the time series of one activity.
type Streams struct {
	LatLng   []geo.Coordinate
	Altitude []float64
}

// HasGeometry reports whether the GPS stream can describe a track.
func (s Streams) HasGeometry() bool {
	return len(s.LatLng) >= 2
}

type streamSet struct {
	LatLng *struct {
		Data [][2]float64 `json:"data"`
	} `json:"latlng"`
	Altitude *struct {
		Data []float64 `json:"data"`
	} `json:"altitude"`
}

func (s streamSet) toStreams() Streams {
	streams := Streams{}
	if s.LatLng != nil {
		streams.LatLng = make([]geo.Coordinate, len(s.LatLng.Data))
		for index, pair := range s.LatLng.Data {
			streams.LatLng[index] = geo.Coordinate{Lat: pair[0], Lon: pair[1]}
		}
	}
	if s.Altitude != nil {
		streams.Altitude = s.Altitude.Data
	}
	return streams
}
