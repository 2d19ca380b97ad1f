package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"route-eta/internal/eta"
	"route-eta/internal/tracker"
	"route-eta/internal/transit"
)

func TestNewCollector_ConfigGauges(t *testing.T) {
	c := NewCollector(60, 20, 2, 1500*time.Millisecond)

	assert.Equal(t, 60.0, testutil.ToFloat64(c.GeofenceRadius))
	assert.Equal(t, 20.0, testutil.ToFloat64(c.HeuristicSpeed))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.SpeedMultiplier))
	assert.Equal(t, 1.5, testutil.ToFloat64(c.PublishInterval))
}

func TestFixIngested(t *testing.T) {
	c := NewCollector(60, 20, 1, time.Second)

	c.FixIngested(tracker.IngestResult{Matched: true})
	c.FixIngested(tracker.IngestResult{Matched: true, Snapped: true, Arrived: true, DeviceCreated: true})
	c.FixIngested(tracker.IngestResult{
		Matched:      true,
		Snapped:      true,
		Arrived:      true,
		RouteChanged: true,
		Transition: &transit.Transition{
			Segment: transit.NewSegmentKey(transit.NewRouteKey("troncal_c", "sur_norte"), "a", "b"),
			Seconds: 42,
		},
		SegmentCreated: true,
	})
	c.FixRejected(transit.InvalidCoordinates("lat must be within [-90, 90]"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Fixes.WithLabelValues("unsnapped")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Fixes.WithLabelValues("snapped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Fixes.WithLabelValues("rejected")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Arrivals))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RouteSwaps))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Transitions.WithLabelValues("troncal_c", "sur_norte")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.TransitionSeconds))
}

func TestETAServed(t *testing.T) {
	c := NewCollector(60, 20, 1, time.Second)

	c.ETAServed(eta.Estimate{Segments: []eta.Segment{
		{Source: eta.SourceMeasured},
		{Source: eta.SourceHeuristic},
		{Source: eta.SourceHeuristic},
	}}, nil)
	c.ETAServed(eta.Estimate{}, &transit.ValidationError{Field: "to", Reason: "before from"})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.ETAQueries.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ETAQueries.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ETASegments.WithLabelValues(eta.SourceMeasured)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.ETASegments.WithLabelValues(eta.SourceHeuristic)))
}

func TestObserveHTTP(t *testing.T) {
	c := NewCollector(60, 20, 1, time.Second)

	c.ObserveHTTP(http.MethodGet, "/eta", http.StatusOK, 3*time.Millisecond)
	c.ObserveHTTP(http.MethodGet, "/eta", http.StatusBadRequest, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.HTTPRequests.WithLabelValues("GET", "/eta", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.HTTPRequests.WithLabelValues("GET", "/eta", "400")))
}

func TestHandler_ExposesStateGauges(t *testing.T) {
	c := NewCollector(60, 20, 1, time.Second)
	devices, segments := 3, 7
	c.WatchState(func() (int, int) { return devices, segments })

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "routeeta_devices 3")
	assert.Contains(t, string(body), "routeeta_segments 7")
	assert.Contains(t, string(body), "routeeta_geofence_radius_meters 60")
}
