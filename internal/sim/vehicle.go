package sim

import (
	"time"

	"route-eta/internal/catalog"
	"route-eta/internal/geo"
)

// vehicle moves at constant speed along its route, waits at every stop, and
// turns onto the opposite direction at the terminus.
type vehicle struct {
	id       string
	cat      *catalog.Catalog
	path     path
	dist     float64 // meters along path
	next     int     // index of the next stop to reach
	dwell    time.Duration
	speed    float64 // m/s
	dwellFor time.Duration
	at       time.Time // simulated time
}

func newVehicle(id string, cat *catalog.Catalog, p path, startStop int, speedMps float64, dwell time.Duration, at time.Time) *vehicle {
	return &vehicle{
		id:       id,
		cat:      cat,
		path:     p,
		dist:     p.cum[startStop],
		next:     startStop + 1,
		dwell:    dwell,
		speed:    speedMps,
		dwellFor: dwell,
		at:       at,
	}
}

func (v *vehicle) dwelling() bool { return v.dwell > 0 }

// advance moves the vehicle forward by dt of simulated time.
func (v *vehicle) advance(dt time.Duration) {
	v.at = v.at.Add(dt)
	remaining := dt
	for remaining > 0 {
		if v.dwell > 0 {
			use := min(v.dwell, remaining)
			v.dwell -= use
			remaining -= use
			continue
		}
		if v.next >= len(v.path.stops) {
			v.turnAround()
			continue
		}
		target := v.path.cum[v.next]
		need := time.Duration((target - v.dist) / v.speed * float64(time.Second))
		if need > remaining {
			v.dist = min(target, v.dist+v.speed*remaining.Seconds())
			return
		}
		remaining -= need
		v.dist = target
		v.next++
		v.dwell = v.dwellFor
	}
}

func (v *vehicle) turnAround() {
	route := v.path.route
	if opp, ok := v.cat.Opposite(route); ok {
		if stops, ok := v.cat.Route(opp); ok {
			if p := newPath(opp, stops); usable(p) {
				v.path = p
			}
		}
	}
	v.dist = 0
	v.next = 1
}

func (v *vehicle) position() (p geo.Point, bearing, progress float64) {
	p, bearing = interpolate(v.path.pts, v.path.cum, v.dist)
	return p, bearing, v.dist / v.path.length()
}

// usable reports whether a vehicle can make progress along p.
func usable(p path) bool {
	return len(p.stops) >= 2 && p.length() >= 1
}
