// Package eta estimates travel time between two stops of a route from
// recorded segment averages, falling back to a constant-speed guess for
// segments that have never been observed.
package eta

import (
	"fmt"
	"math"

	"route-eta/internal/catalog"
	"route-eta/internal/geo"
	"route-eta/internal/transit"
)

// DefaultSpeedKmh is the cruising speed assumed for unobserved segments.
const DefaultSpeedKmh = 20.0

const (
	SourceMeasured  = "measured"
	SourceHeuristic = "heuristic"
)

// StatsReader is the read side of the segment statistics store.
type StatsReader interface {
	Lookup(key transit.SegmentKey) (transit.SegmentStat, bool)
}

type Segment struct {
	From           string  `json:"from"`
	To             string  `json:"to"`
	Seconds        int64   `json:"sec"`
	Source         string  `json:"source"`
	Samples        int64   `json:"samples"`
	DistanceMeters float64 `json:"distanceM"`
}

type Estimate struct {
	LineID       string    `json:"lineId"`
	Direction    string    `json:"dir"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	TotalSeconds int64     `json:"etaSec"`
	Segments     []Segment `json:"breakdown"`
}

type Estimator struct {
	catalog *catalog.Catalog
	stats   StatsReader
	speed   float64 // meters per second
}

// NewEstimator builds an estimator whose heuristic assumes speedKmh. A
// non-positive speed selects DefaultSpeedKmh.
func NewEstimator(cat *catalog.Catalog, stats StatsReader, speedKmh float64) *Estimator {
	if speedKmh <= 0 || math.IsNaN(speedKmh) || math.IsInf(speedKmh, 0) {
		speedKmh = DefaultSpeedKmh
	}
	return &Estimator{
		catalog: cat,
		stats:   stats,
		speed:   speedKmh * 1000 / 3600,
	}
}

func (e *Estimator) SpeedKmh() float64 { return e.speed * 3600 / 1000 }

// Estimate sums the segments between from and to in traversal order. It only
// answers forward queries: to must come strictly after from on the route.
func (e *Estimator) Estimate(lineID, direction, from, to string) (Estimate, error) {
	if err := e.catalog.Validate(lineID, direction); err != nil {
		return Estimate{}, err
	}
	route := transit.NewRouteKey(lineID, direction)
	stops, _ := e.catalog.Route(route)

	from, to = transit.Normalize(from), transit.Normalize(to)
	iFrom := indexOf(stops, from, 0)
	if iFrom < 0 {
		return Estimate{}, unknownStop("from", from, route)
	}
	iTo := indexOf(stops, to, iFrom+1)
	if iTo < 0 {
		if indexOf(stops, to, 0) < 0 {
			return Estimate{}, unknownStop("to", to, route)
		}
		return Estimate{}, &transit.ValidationError{
			Field:  "to",
			Reason: fmt.Sprintf("stop %q does not come after %q on %s", to, from, route),
		}
	}

	out := Estimate{
		LineID:    route.LineID,
		Direction: route.Direction,
		From:      from,
		To:        to,
		Segments:  make([]Segment, 0, iTo-iFrom),
	}
	var total float64
	for i := iFrom; i < iTo; i++ {
		a, b := stops[i], stops[i+1]
		seg := Segment{
			From:           a.ID,
			To:             b.ID,
			DistanceMeters: geo.DistanceMeters(a.Point(), b.Point()),
		}

		var seconds float64
		if stat, ok := e.stats.Lookup(transit.NewSegmentKey(route, a.ID, b.ID)); ok && stat.Count > 0 {
			seconds = stat.AvgSeconds
			seg.Source = SourceMeasured
			seg.Samples = stat.Count
		} else {
			seconds = seg.DistanceMeters / e.speed
			seg.Source = SourceHeuristic
		}
		seg.Seconds = int64(math.Round(seconds))
		total += seconds
		out.Segments = append(out.Segments, seg)
	}
	out.TotalSeconds = int64(math.Round(total))
	return out, nil
}

// indexOf returns the first position at or after start holding id, or -1.
func indexOf(stops []transit.Stop, id string, start int) int {
	for i := start; i < len(stops); i++ {
		if stops[i].ID == id {
			return i
		}
	}
	return -1
}

func unknownStop(field, id string, route transit.RouteKey) error {
	return &transit.ValidationError{
		Field:  field,
		Reason: fmt.Sprintf("stop %q is not on %s", id, route),
	}
}
