// Package profile derives the distance/elevation chart and elevation gain of a GPS track.
package profile

import "github.com/MarcoPoloResearchLab/pcttracker/internal/geo"

// MaxPoints caps the number of samples kept in the stored chart series.
const MaxPoints = 220

// Profile is the derived geometry of one activity.
type Profile struct {
	// Coordinates holds the full track in GeoJSON [lon, lat] order.
	Coordinates   [][2]float64
	DistanceM     []float64
	ElevationM    []float64
	ElevationGain float64
}

// HasSeries reports whether a chart series could be derived.
func (p Profile) HasSeries() bool {
	return len(p.DistanceM) > 0
}

// Build walks the track once. When altitude matches the track length it accumulates great-circle
// distance and the sum of positive elevation deltas and downsamples the pair to MaxPoints.
// Otherwise the series stay empty and reportedGain is used as the elevation gain.
func Build(latlng []geo.Coordinate, altitude []float64, reportedGain float64) Profile {
	coordinates := make([][2]float64, len(latlng))
	for index, point := range latlng {
		coordinates[index] = point.LonLat()
	}

	if len(latlng) == 0 || len(altitude) != len(latlng) {
		return Profile{
			Coordinates:   coordinates,
			DistanceM:     []float64{},
			ElevationM:    []float64{},
			ElevationGain: reportedGain,
		}
	}

	distances := make([]float64, len(latlng))
	elevations := make([]float64, len(latlng))
	distances[0] = 0
	elevations[0] = altitude[0]

	cumulative := 0.0
	for index := 1; index < len(latlng); index++ {
		cumulative += geo.DistanceMeters(latlng[index-1], latlng[index])
		distances[index] = cumulative
		elevations[index] = altitude[index]
	}

	distanceSeries, elevationSeries := geo.Downsample(distances, elevations, MaxPoints)
	return Profile{
		Coordinates:   coordinates,
		DistanceM:     distanceSeries,
		ElevationM:    elevationSeries,
		ElevationGain: ElevationGain(altitude),
	}
}

// ElevationGain sums the positive deltas of an elevation series.
func ElevationGain(elevations []float64) float64 {
	gain := 0.0
	for index := 1; index < len(elevations); index++ {
		if delta := elevations[index] - elevations[index-1]; delta > 0 {
			gain += delta
		}
	}
	return gain
}
