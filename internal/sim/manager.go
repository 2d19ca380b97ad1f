package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"route-eta/internal/catalog"
	"route-eta/internal/clock"
	mmetrics "route-eta/internal/metrics"
	"route-eta/internal/tracker"
	"route-eta/internal/transit"
)

// Report is one simulated position.
type Report struct {
	VehicleID string
	LineID    string
	Direction string
	Timestamp time.Time
	Lat       float64
	Lon       float64
	Bearing   float64
	Progress  float64
	SpeedMps  float64
}

type Sink interface {
	Report(ctx context.Context, r Report) error
}

type SinkFunc func(ctx context.Context, r Report) error

func (f SinkFunc) Report(ctx context.Context, r Report) error { return f(ctx, r) }

// Ingester is the part of the service a simulator feeds in-process.
type Ingester interface {
	IngestFix(deviceKey string, fix transit.Fix) (tracker.IngestResult, error)
}

// IngestSink delivers reports straight to svc. Every report carries the
// vehicle's current route so direction changes at the terminus take effect.
func IngestSink(svc Ingester) Sink {
	return SinkFunc(func(_ context.Context, r Report) error {
		_, err := svc.IngestFix(r.VehicleID, transit.Fix{
			Lat:       r.Lat,
			Lon:       r.Lon,
			Timestamp: r.Timestamp,
			LineID:    r.LineID,
			Direction: r.Direction,
		})
		return err
	})
}

type Options struct {
	Catalog         *catalog.Catalog
	Sink            Sink
	PublishInterval time.Duration
	SpeedMultiplier float64
	SpeedKmh        float64
	Dwell           time.Duration
	Clock           clock.Clock
	Metrics         *mmetrics.Collector
}

type Manager struct {
	catalog         *catalog.Catalog
	sink            Sink
	publishInterval time.Duration
	speedMultiplier float64
	speedMps        float64
	dwell           time.Duration
	clock           clock.Clock
	metrics         *mmetrics.Collector
	routes          []path

	mu      sync.Mutex
	running map[string]context.CancelFunc // vehicleID -> cancel
	wg      sync.WaitGroup
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Catalog == nil || opts.Sink == nil {
		return nil, errors.New("sim: catalog and sink are required")
	}
	if opts.PublishInterval <= 0 {
		opts.PublishInterval = time.Second
	}
	if opts.SpeedMultiplier <= 0 {
		opts.SpeedMultiplier = 1
	}
	if opts.SpeedKmh <= 0 {
		opts.SpeedKmh = 25
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}

	var routes []path
	for _, key := range opts.Catalog.Routes() {
		stops, _ := opts.Catalog.Route(key)
		if p := newPath(key, stops); usable(p) {
			routes = append(routes, p)
		}
	}
	if len(routes) == 0 {
		return nil, errors.New("sim: no route has two distinct stops")
	}

	return &Manager{
		catalog:         opts.Catalog,
		sink:            opts.Sink,
		publishInterval: opts.PublishInterval,
		speedMultiplier: opts.SpeedMultiplier,
		speedMps:        opts.SpeedKmh * 1000 / 3600,
		dwell:           opts.Dwell,
		clock:           opts.Clock,
		metrics:         opts.Metrics,
		routes:          routes,
		running:         make(map[string]context.CancelFunc),
	}, nil
}

// Start launches n vehicles spread over the catalog's routes and stops.
func (m *Manager) Start(ctx context.Context, n int) {
	now := m.clock.Now()
	for i := range n {
		p := m.routes[i%len(m.routes)]
		lap := i / len(m.routes)
		start := (lap * 3) % (len(p.stops) - 1)
		v := newVehicle(fmt.Sprintf("sim-%02d", i+1), m.catalog, p, start, m.speedMps, m.dwell, now)
		m.startVehicle(ctx, v)
	}
}

func (m *Manager) startVehicle(parent context.Context, v *vehicle) {
	m.mu.Lock()
	if _, exists := m.running[v.id]; exists {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.running[v.id] = cancel
	m.wg.Add(1)
	if m.metrics != nil {
		m.metrics.SimVehicles.Set(float64(len(m.running)))
	}
	m.mu.Unlock()

	log.Info().
		Str("vehicle", v.id).
		Str("route", v.path.route.String()).
		Str("stop", v.path.stops[v.next-1].ID).
		Msg("starting simulated vehicle")
	go func() {
		defer m.wg.Done()
		if err := m.runVehicle(ctx, v); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("vehicle", v.id).Msg("simulated vehicle stopped")
		}
		m.mu.Lock()
		delete(m.running, v.id)
		if m.metrics != nil {
			m.metrics.SimVehicles.Set(float64(len(m.running)))
		}
		m.mu.Unlock()
	}()
}

func (m *Manager) runVehicle(ctx context.Context, v *vehicle) error {
	m.report(ctx, v)

	tick := time.NewTicker(m.publishInterval)
	defer tick.Stop()
	step := time.Duration(float64(m.publishInterval) * m.speedMultiplier)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			v.advance(step)
			m.report(ctx, v)
		}
	}
}

func (m *Manager) report(ctx context.Context, v *vehicle) {
	p, bearing, progress := v.position()
	r := Report{
		VehicleID: v.id,
		LineID:    v.path.route.LineID,
		Direction: v.path.route.Direction,
		Timestamp: v.at,
		Lat:       p.Lat,
		Lon:       p.Lon,
		Bearing:   bearing,
		Progress:  progress,
	}
	if !v.dwelling() {
		r.SpeedMps = v.speed
	}
	if err := m.sink.Report(ctx, r); err != nil {
		log.Warn().Err(err).Str("vehicle", v.id).Msg("report failed")
	}
}

// Running returns the number of active vehicles.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

func (m *Manager) Stop() {
	m.mu.Lock()
	for _, cancel := range m.running {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
