// Package geo provides the great-circle and planar helpers used to reason about GPS tracks.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used by DistanceMeters.
const EarthRadiusMeters = 6371000.0

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Lat float64
	Lon float64
}

// IsFinite reports whether both components are finite numbers.
func (c Coordinate) IsFinite() bool {
	return !math.IsNaN(c.Lat) && !math.IsNaN(c.Lon) && !math.IsInf(c.Lat, 0) && !math.IsInf(c.Lon, 0)
}

// LonLat returns the coordinate in GeoJSON [lon, lat] order.
func (c Coordinate) LonLat() [2]float64 {
	return [2]float64{c.Lon, c.Lat}
}

// FromLonLat builds a Coordinate from a GeoJSON [lon, lat] pair.
func FromLonLat(pair [2]float64) Coordinate {
	return Coordinate{Lat: pair[1], Lon: pair[0]}
}

// DistanceMeters returns the haversine distance between a and b.
func DistanceMeters(a, b Coordinate) float64 {
	phi1 := toRadians(a.Lat)
	phi2 := toRadians(b.Lat)
	deltaPhi := toRadians(b.Lat - a.Lat)
	deltaLambda := toRadians(b.Lon - a.Lon)

	sinPhi := math.Sin(deltaPhi / 2)
	sinLambda := math.Sin(deltaLambda / 2)
	h := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	// rounding can push h marginally above 1 for antipodal points
	h = math.Min(h, 1)
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// NearestPointOnSegment projects p onto the segment s1-s2 and returns the clamped projection
// together with its great-circle distance from p.
//
// The projection runs on an equirectangular plane whose longitude axis is scaled by the cosine
// of the segment's mean latitude. The projection parameter is clamped to [0, 1], so the result
// never extrapolates past the segment ends. A zero-length segment degrades to s1.
func NearestPointOnSegment(p, s1, s2 Coordinate) (Coordinate, float64) {
	cosLat := math.Cos(toRadians((s1.Lat + s2.Lat) / 2))
	dx := (s2.Lon - s1.Lon) * cosLat
	dy := s2.Lat - s1.Lat
	lengthSquared := dx*dx + dy*dy
	if lengthSquared == 0 {
		return s1, DistanceMeters(p, s1)
	}

	px := (p.Lon - s1.Lon) * cosLat
	py := p.Lat - s1.Lat
	t := (px*dx + py*dy) / lengthSquared
	t = math.Max(0, math.Min(1, t))

	nearest := Coordinate{
		Lat: s1.Lat + t*(s2.Lat-s1.Lat),
		Lon: s1.Lon + t*(s2.Lon-s1.Lon),
	}
	return nearest, DistanceMeters(p, nearest)
}

// DistanceToSegment returns only the distance component of NearestPointOnSegment.
func DistanceToSegment(p, s1, s2 Coordinate) float64 {
	_, distance := NearestPointOnSegment(p, s1, s2)
	return distance
}

// Downsample reduces two parallel series to at most maxPoints samples using nearest-index
// resampling. Series at or below the cap are returned unchanged. The first and last samples are
// always kept when maxPoints is at least two.
func Downsample(xs, ys []float64, maxPoints int) ([]float64, []float64) {
	n := min(len(xs), len(ys))
	if maxPoints <= 0 {
		return []float64{}, []float64{}
	}
	if n <= maxPoints {
		return xs[:n], ys[:n]
	}
	if maxPoints == 1 {
		return []float64{xs[0]}, []float64{ys[0]}
	}

	step := float64(n-1) / float64(maxPoints-1)
	outX := make([]float64, maxPoints)
	outY := make([]float64, maxPoints)
	for i := 0; i < maxPoints; i++ {
		index := int(math.Round(float64(i) * step))
		index = max(0, min(n-1, index))
		outX[i] = xs[index]
		outY[i] = ys[index]
	}
	return outX, outY
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}
