// Package geo holds the spherical geometry used for stop matching and the
// ETA distance heuristic.
package geo

import (
	"github.com/golang/geo/s2"
	"github.com/twpayne/go-polyline"
)

// EarthRadiusMeters is the spherical Earth radius used by DistanceMeters.
const EarthRadiusMeters = 6371000.0

type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// DistanceMeters returns the great-circle (haversine) distance between a and
// b. Coordinates are not validated; out-of-range input still yields a
// deterministic result.
func DistanceMeters(a, b Point) float64 {
	p1 := s2.LatLngFromDegrees(a.Lat, a.Lon)
	p2 := s2.LatLngFromDegrees(b.Lat, b.Lon)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// PathLength sums DistanceMeters over consecutive points.
func PathLength(pts []Point) float64 {
	total := 0.0
	for i := 1; i < len(pts); i++ {
		total += DistanceMeters(pts[i-1], pts[i])
	}
	return total
}

// EncodePolyline encodes pts in the Google polyline format (precision 5).
func EncodePolyline(pts []Point) string {
	coords := make([][]float64, len(pts))
	for i, p := range pts {
		coords[i] = []float64{p.Lat, p.Lon}
	}
	return string(polyline.EncodeCoords(coords))
}
