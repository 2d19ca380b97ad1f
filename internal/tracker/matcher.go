package tracker

import (
	"route-eta/internal/geo"
	"route-eta/internal/transit"
)

type Match struct {
	Stop           transit.Stop
	Index          int
	DistanceMeters float64
}

// Nearest returns the stop closest to p. Ties go to the earliest stop in
// sequence order. ok is false only when stops is empty.
func Nearest(stops []transit.Stop, p geo.Point) (m Match, ok bool) {
	for i, s := range stops {
		d := geo.DistanceMeters(p, s.Point())
		if !ok || d < m.DistanceMeters {
			m = Match{Stop: s, Index: i, DistanceMeters: d}
			ok = true
		}
	}
	return m, ok
}
