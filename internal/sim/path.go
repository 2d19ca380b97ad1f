package sim

import (
	"math"

	"route-eta/internal/geo"
	"route-eta/internal/transit"
)

// path is a route's stop sequence as a polyline with cumulative distances.
type path struct {
	route transit.RouteKey
	stops []transit.Stop
	pts   []geo.Point
	cum   []float64
}

func newPath(route transit.RouteKey, stops []transit.Stop) path {
	pts := make([]geo.Point, len(stops))
	for i, s := range stops {
		pts[i] = s.Point()
	}
	return path{route: route, stops: stops, pts: pts, cum: cumDistances(pts)}
}

func (p path) length() float64 {
	if len(p.cum) == 0 {
		return 0
	}
	return p.cum[len(p.cum)-1]
}

func cumDistances(pts []geo.Point) []float64 {
	if len(pts) == 0 {
		return nil
	}
	cum := make([]float64, len(pts))
	for i := 1; i < len(pts); i++ {
		cum[i] = cum[i-1] + geo.DistanceMeters(pts[i-1], pts[i])
	}
	return cum
}

// interpolate returns the point dist meters along pts and the bearing of the
// leg it falls on.
func interpolate(pts []geo.Point, cum []float64, dist float64) (geo.Point, float64) {
	n := len(pts)
	if n == 0 {
		return geo.Point{}, 0
	}
	if n == 1 || cum[n-1] == 0 {
		return pts[0], 0
	}
	if dist <= 0 {
		return pts[0], bearingDeg(pts[0], pts[1])
	}
	if dist >= cum[n-1] {
		return pts[n-1], bearingDeg(pts[n-2], pts[n-1])
	}
	i := 1
	for i < n-1 && cum[i] < dist {
		i++
	}
	d0, d1 := cum[i-1], cum[i]
	p0, p1 := pts[i-1], pts[i]
	if d1 == d0 {
		return p0, bearingDeg(p0, p1)
	}
	frac := (dist - d0) / (d1 - d0)
	return geo.Point{
		Lat: p0.Lat + (p1.Lat-p0.Lat)*frac,
		Lon: p0.Lon + (p1.Lon-p0.Lon)*frac,
	}, bearingDeg(p0, p1)
}

func bearingDeg(a, b geo.Point) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	y := math.Sin(toRad(b.Lon-a.Lon)) * math.Cos(toRad(b.Lat))
	x := math.Cos(toRad(a.Lat))*math.Sin(toRad(b.Lat)) - math.Sin(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Cos(toRad(b.Lon-a.Lon))
	brng := math.Atan2(y, x) * 180 / math.Pi
	if brng < 0 {
		brng += 360
	}
	return brng
}
