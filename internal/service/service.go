// Package service is the entry point used by every transport: it validates
// input, injects the default route, and fans tracker results out to
// observers such as metrics and the NATS transition publisher.
package service

import (
	"errors"
	"math"
	"strings"

	"github.com/rs/zerolog/log"
	"route-eta/internal/catalog"
	"route-eta/internal/clock"
	"route-eta/internal/eta"
	"route-eta/internal/stats"
	"route-eta/internal/tracker"
	"route-eta/internal/transit"
)

// Observer is notified after the state change it describes has been
// applied. Implementations must not block.
type Observer interface {
	FixIngested(res tracker.IngestResult)
	FixRejected(err error)
	ETAServed(est eta.Estimate, err error)
}

// NopObserver can be embedded by observers that only care about some events.
type NopObserver struct{}

func (NopObserver) FixIngested(tracker.IngestResult) {}
func (NopObserver) FixRejected(error)                {}
func (NopObserver) ETAServed(eta.Estimate, error)    {}

type Options struct {
	Catalog           *catalog.Catalog
	GeofenceRadius    float64
	DefaultRoute      transit.RouteKey
	HeuristicSpeedKmh float64
	Shards            int
	Clock             clock.Clock
	Observers         []Observer
}

type Service struct {
	catalog   *catalog.Catalog
	stats     *stats.Store
	tracker   *tracker.Tracker
	estimator *eta.Estimator
	clock     clock.Clock
	observers []Observer
	fallback  transit.RouteKey
}

func New(opts Options) (*Service, error) {
	if opts.Catalog == nil {
		return nil, errors.New("service: catalog is required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	fallback := transit.NewRouteKey(opts.DefaultRoute.LineID, opts.DefaultRoute.Direction)
	if _, ok := opts.Catalog.Route(fallback); !ok {
		first := opts.Catalog.Routes()[0]
		log.Warn().
			Str("line", fallback.LineID).
			Str("dir", fallback.Direction).
			Str("using", first.String()).
			Msg("default route not in catalog")
		fallback = first
	}

	st := stats.NewStore(opts.Shards)
	return &Service{
		catalog: opts.Catalog,
		stats:   st,
		tracker: tracker.New(opts.Catalog, st, tracker.Config{
			GeofenceRadius: opts.GeofenceRadius,
			DefaultRoute:   tracker.FixedDefault(fallback),
			Shards:         opts.Shards,
		}),
		estimator: eta.NewEstimator(opts.Catalog, st, opts.HeuristicSpeedKmh),
		clock:     clk,
		observers: opts.Observers,
		fallback:  fallback,
	}, nil
}

func (s *Service) Catalog() *catalog.Catalog { return s.catalog }

// DefaultRoute is the route given to devices that report before being
// assigned one.
func (s *Service) DefaultRoute() transit.RouteKey { return s.fallback }

func (s *Service) GeofenceRadius() float64 { return s.tracker.GeofenceRadius() }

func (s *Service) AssignRoute(deviceKey, lineID, direction string) (transit.DevicePosition, error) {
	if err := checkDeviceKey(deviceKey); err != nil {
		return transit.DevicePosition{}, err
	}
	pos, err := s.tracker.Assign(deviceKey, lineID, direction)
	if err != nil {
		log.Debug().Err(err).Str("device", deviceKey).Msg("route assignment rejected")
		return transit.DevicePosition{}, err
	}
	log.Info().
		Str("device", deviceKey).
		Str("line", pos.LineID).
		Str("dir", pos.Direction).
		Msg("route assigned")
	return pos, nil
}

// IngestFix validates a fix and applies it. A zero timestamp is replaced by
// the service clock.
func (s *Service) IngestFix(deviceKey string, fix transit.Fix) (tracker.IngestResult, error) {
	if err := checkDeviceKey(deviceKey); err != nil {
		s.rejected(deviceKey, err)
		return tracker.IngestResult{}, err
	}
	if err := checkCoordinates(fix.Lat, fix.Lon); err != nil {
		s.rejected(deviceKey, err)
		return tracker.IngestResult{}, err
	}
	if fix.Timestamp.IsZero() {
		fix.Timestamp = s.clock.Now()
	}

	res := s.tracker.Ingest(deviceKey, fix)

	ev := log.Debug().
		Str("device", deviceKey).
		Float64("lat", fix.Lat).
		Float64("lon", fix.Lon).
		Str("phase", res.Device.Phase.String())
	if res.Matched {
		ev = ev.Str("nearest", res.Nearest.Stop.ID).Float64("distance_m", res.Nearest.DistanceMeters)
	}
	ev.Msg("fix")

	if res.RouteChanged {
		log.Info().
			Str("device", deviceKey).
			Str("line", res.Device.LineID).
			Str("dir", res.Device.Direction).
			Msg("route switched by fix")
	}
	if tr := res.Transition; tr != nil {
		log.Info().
			Str("device", deviceKey).
			Str("line", tr.Segment.LineID).
			Str("dir", tr.Segment.Direction).
			Str("from", tr.Segment.From).
			Str("to", tr.Segment.To).
			Int64("seconds", tr.Seconds).
			Int64("samples", tr.Stat.Count).
			Float64("avg_sec", tr.Stat.AvgSeconds).
			Msg("segment transition")
	}

	for _, o := range s.observers {
		o.FixIngested(res)
	}
	return res, nil
}

func (s *Service) rejected(deviceKey string, err error) {
	log.Debug().Err(err).Str("device", deviceKey).Msg("fix rejected")
	for _, o := range s.observers {
		o.FixRejected(err)
	}
}

func (s *Service) DeviceState(deviceKey string) (transit.DevicePosition, error) {
	pos, ok := s.tracker.Device(deviceKey)
	if !ok {
		return transit.DevicePosition{}, &transit.NotFoundError{Resource: "device", ID: deviceKey}
	}
	return pos, nil
}

// RouteStops returns a copy of the route's stops.
func (s *Service) RouteStops(lineID, direction string) ([]transit.Stop, error) {
	stops, ok := s.catalog.Stops(lineID, direction)
	if !ok {
		return nil, &transit.NotFoundError{
			Resource: "route",
			ID:       transit.NewRouteKey(lineID, direction).String(),
		}
	}
	return append([]transit.Stop(nil), stops...), nil
}

func (s *Service) ETA(lineID, direction, from, to string) (eta.Estimate, error) {
	est, err := s.estimator.Estimate(lineID, direction, from, to)
	if err != nil {
		log.Debug().Err(err).
			Str("line", lineID).
			Str("dir", direction).
			Str("from", from).
			Str("to", to).
			Msg("eta rejected")
	}
	for _, o := range s.observers {
		o.ETAServed(est, err)
	}
	return est, err
}

type Line struct {
	ID         string   `json:"id"`
	Directions []string `json:"directions"`
}

type AggregateState struct {
	Lines    []Line                   `json:"lines"`
	Devices  []transit.DevicePosition `json:"devices"`
	Segments []stats.Segment          `json:"segments"`
}

// Aggregate snapshots every line, device and segment. Each device and each
// segment is individually consistent; the set as a whole is not a single
// atomic snapshot.
func (s *Service) Aggregate() AggregateState {
	return AggregateState{
		Lines:    s.Lines(),
		Devices:  s.tracker.Devices(),
		Segments: s.stats.All(),
	}
}

func (s *Service) Lines() []Line {
	ids := s.catalog.Lines()
	out := make([]Line, 0, len(ids))
	for _, l := range ids {
		out = append(out, Line{ID: l, Directions: s.catalog.Directions(l)})
	}
	return out
}

// Counts returns the number of tracked devices and recorded segments.
func (s *Service) Counts() (devices, segments int) {
	return s.tracker.Len(), s.stats.Len()
}

func checkDeviceKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return &transit.ValidationError{Field: "deviceId", Reason: "must not be empty"}
	}
	return nil
}

func checkCoordinates(lat, lon float64) error {
	switch {
	case math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0):
		return transit.InvalidCoordinates("lat and lon must be finite numbers")
	case lat < -90 || lat > 90:
		return transit.InvalidCoordinates("lat must be within [-90, 90]")
	case lon < -180 || lon > 180:
		return transit.InvalidCoordinates("lon must be within [-180, 180]")
	}
	return nil
}
