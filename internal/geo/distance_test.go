package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-polyline"
)

func TestDistanceMeters(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Point
		expected float64
		delta    float64
	}{
		{
			name:     "Same point",
			a:        Point{Lat: -12.05749, Lon: -77.03599},
			b:        Point{Lat: -12.05749, Lon: -77.03599},
			expected: 0,
			delta:    0,
		},
		{
			name:     "One degree of latitude",
			a:        Point{Lat: 0, Lon: 0},
			b:        Point{Lat: 1, Lon: 0},
			expected: EarthRadiusMeters * math.Pi / 180,
			delta:    0.001,
		},
		{
			name:     "Quarter of the equator",
			a:        Point{Lat: 0, Lon: 0},
			b:        Point{Lat: 0, Lon: 90},
			expected: EarthRadiusMeters * math.Pi / 2,
			delta:    0.001,
		},
		{
			// Central -> Estadio Nacional on the Lima trunk line.
			name:     "Adjacent stations",
			a:        Point{Lat: -12.05749, Lon: -77.03599},
			b:        Point{Lat: -12.06836, Lon: -77.03220},
			expected: 1279,
			delta:    5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, DistanceMeters(tt.a, tt.b), tt.delta)
		})
	}
}

func TestDistanceMeters_Symmetric(t *testing.T) {
	points := []Point{
		{Lat: -12.04345, Lon: -77.04190},
		{Lat: -12.17857, Lon: -77.00999},
		{Lat: 51.514797, Lon: -0.141944},
		{Lat: 89.9, Lon: 179.9},
		{Lat: -45, Lon: -179.5},
	}

	for _, a := range points {
		assert.Zero(t, DistanceMeters(a, a))
		for _, b := range points {
			ab := DistanceMeters(a, b)
			ba := DistanceMeters(b, a)
			assert.GreaterOrEqual(t, ab, 0.0)
			assert.InDelta(t, ab, ba, 1e-6, "distance from %v to %v should be symmetric", a, b)
		}
	}
}

func TestPathLength(t *testing.T) {
	pts := []Point{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}, {Lat: 0, Lon: 2}}
	assert.InDelta(t, 2*DistanceMeters(pts[0], pts[1]), PathLength(pts), 1e-6)
	assert.Zero(t, PathLength(pts[:1]))
	assert.Zero(t, PathLength(nil))
}

func TestEncodePolyline(t *testing.T) {
	pts := []Point{
		{Lat: -12.05749, Lon: -77.03599},
		{Lat: -12.06836, Lon: -77.03220},
		{Lat: -12.07646, Lon: -77.02893},
	}

	encoded := EncodePolyline(pts)
	require.NotEmpty(t, encoded)

	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	require.NoError(t, err)
	require.Len(t, coords, len(pts))
	for i, c := range coords {
		assert.InDelta(t, pts[i].Lat, c[0], 1e-5)
		assert.InDelta(t, pts[i].Lon, c[1], 1e-5)
	}
}
