package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"route-eta/internal/eta"
	"route-eta/internal/service"
	"route-eta/internal/tracker"
	"route-eta/internal/transit"
)

type Collector struct {
	reg *prometheus.Registry

	Fixes       *prometheus.CounterVec // result label: snapped|unsnapped|rejected
	Arrivals    prometheus.Counter
	Transitions *prometheus.CounterVec // line, dir labels
	RouteSwaps  prometheus.Counter

	TransitionSeconds prometheus.Histogram

	ETAQueries  *prometheus.CounterVec // result label: ok|invalid
	ETASegments *prometheus.CounterVec // source label: measured|heuristic

	NATSReceived    prometheus.Counter
	NATSDecodeErrs  prometheus.Counter
	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	SimVehicles prometheus.Gauge

	HTTPRequests *prometheus.CounterVec // method, path, status
	HTTPDuration *prometheus.HistogramVec

	GeofenceRadius  prometheus.Gauge // meters
	HeuristicSpeed  prometheus.Gauge // km/h
	SpeedMultiplier prometheus.Gauge
	PublishInterval prometheus.Gauge // seconds
}

func NewCollector(geofenceRadius, heuristicSpeedKmh, speedMultiplier float64, publishInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Fixes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routeeta_fixes_total",
			Help: "Fixes processed, by outcome.",
		}, []string{"result"}),
		Arrivals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routeeta_stop_arrivals_total",
			Help: "Fixes that snapped a device to a new stop.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routeeta_segment_transitions_total",
			Help: "Stop-to-stop transitions recorded.",
		}, []string{"line", "dir"}),
		RouteSwaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routeeta_route_overrides_total",
			Help: "Fixes whose line or direction override changed the device route.",
		}),
		TransitionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "routeeta_transition_duration_seconds",
			Help:    "Observed stop-to-stop travel times.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}),
		ETAQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routeeta_eta_queries_total",
			Help: "ETA queries, by outcome.",
		}, []string{"result"}),
		ETASegments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routeeta_eta_segments_total",
			Help: "Segments summed into ETA answers, by source.",
		}, []string{"source"}),
		NATSReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routeeta_nats_received_total",
			Help: "Total NATS fix messages received.",
		}),
		NATSDecodeErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routeeta_nats_decode_errors_total",
			Help: "NATS fix messages that could not be decoded.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routeeta_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routeeta_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routeeta_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "routeeta_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		SimVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routeeta_sim_vehicles",
			Help: "Number of running simulated vehicles.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routeeta_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "routeeta_http_request_duration_seconds",
			Help:    "HTTP request latency distribution.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		GeofenceRadius: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routeeta_geofence_radius_meters",
			Help: "Configured stop geofence radius.",
		}),
		HeuristicSpeed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routeeta_heuristic_speed_kmh",
			Help: "Speed assumed for unobserved segments.",
		}),
		SpeedMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routeeta_sim_speed_multiplier",
			Help: "Current simulator speed multiplier.",
		}),
		PublishInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routeeta_sim_publish_interval_seconds",
			Help: "Simulator publish interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.Fixes, c.Arrivals, c.Transitions, c.RouteSwaps, c.TransitionSeconds,
		c.ETAQueries, c.ETASegments,
		c.NATSReceived, c.NATSDecodeErrs, c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.PublishDuration, c.SimVehicles, c.HTTPRequests, c.HTTPDuration,
		c.GeofenceRadius, c.HeuristicSpeed, c.SpeedMultiplier, c.PublishInterval,
	)

	c.GeofenceRadius.Set(geofenceRadius)
	c.HeuristicSpeed.Set(heuristicSpeedKmh)
	c.SpeedMultiplier.Set(speedMultiplier)
	c.PublishInterval.Set(publishInterval.Seconds())

	return c
}

// WatchState exports the tracked device and segment counts, read from counts
// at scrape time.
func (c *Collector) WatchState(counts func() (devices, segments int)) {
	c.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "routeeta_devices",
			Help: "Number of tracked devices.",
		}, func() float64 {
			d, _ := counts()
			return float64(d)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "routeeta_segments",
			Help: "Number of segments with at least one sample.",
		}, func() float64 {
			_, s := counts()
			return float64(s)
		}),
	)
}

var _ service.Observer = (*Collector)(nil)

// FixIngested implements service.Observer.
func (c *Collector) FixIngested(res tracker.IngestResult) {
	if res.Snapped {
		c.Fixes.WithLabelValues("snapped").Inc()
	} else {
		c.Fixes.WithLabelValues("unsnapped").Inc()
	}
	if res.Arrived {
		c.Arrivals.Inc()
	}
	if res.RouteChanged {
		c.RouteSwaps.Inc()
	}
	if tr := res.Transition; tr != nil {
		c.Transitions.WithLabelValues(tr.Segment.LineID, tr.Segment.Direction).Inc()
		c.TransitionSeconds.Observe(float64(tr.Seconds))
	}
}

func (c *Collector) FixRejected(error) {
	c.Fixes.WithLabelValues("rejected").Inc()
}

func (c *Collector) ETAServed(est eta.Estimate, err error) {
	if err != nil {
		result := "error"
		if transit.IsValidation(err) {
			result = "invalid"
		}
		c.ETAQueries.WithLabelValues(result).Inc()
		return
	}
	c.ETAQueries.WithLabelValues("ok").Inc()
	for _, seg := range est.Segments {
		c.ETASegments.WithLabelValues(seg.Source).Inc()
	}
}

// ObserveHTTP records one served request. path is the route pattern, not the
// raw URL, to keep label cardinality bounded.
func (c *Collector) ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	c.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
	log.Info().Str("addr", addr).Msg("metrics listening")
	return srv
}
