package eta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"route-eta/internal/catalog"
	"route-eta/internal/geo"
	"route-eta/internal/stats"
	"route-eta/internal/transit"
)

var (
	forward = transit.NewRouteKey("x", "forward")
	stopsX  = []transit.Stop{
		{ID: "a", Name: "A", Lat: -12.00, Lon: -77.0},
		{ID: "b", Name: "B", Lat: -12.01, Lon: -77.0},
		{ID: "c", Name: "C", Lat: -12.02, Lon: -77.0},
		{ID: "d", Name: "D", Lat: -12.03, Lon: -77.0},
	}
)

func testEstimator(t *testing.T) (*Estimator, *stats.Store) {
	t.Helper()
	cat, err := catalog.New([]transit.Route{
		{Key: forward, Stops: stopsX},
		{Key: transit.NewRouteKey("loop", "cw"), Stops: []transit.Stop{
			{ID: "hub", Lat: 0, Lon: 0},
			{ID: "north", Lat: 0.01, Lon: 0},
			{ID: "hub", Lat: 0, Lon: 0},
		}},
	})
	require.NoError(t, err)
	st := stats.NewStore(4)
	return NewEstimator(cat, st, DefaultSpeedKmh), st
}

func heuristicSeconds(a, b transit.Stop) float64 {
	return geo.DistanceMeters(a.Point(), b.Point()) / (20000.0 / 3600.0)
}

func TestEstimate_InvalidQueries(t *testing.T) {
	e, _ := testEstimator(t)

	tests := []struct {
		name      string
		line      string
		direction string
		from      string
		to        string
		field     string
	}{
		{name: "Same stop", line: "x", direction: "forward", from: "b", to: "b", field: "to"},
		{name: "Reversed", line: "x", direction: "forward", from: "d", to: "a", field: "to"},
		{name: "Unknown from", line: "x", direction: "forward", from: "z", to: "d", field: "from"},
		{name: "Unknown to", line: "x", direction: "forward", from: "a", to: "z", field: "to"},
		{name: "Unknown line", line: "y", direction: "forward", from: "a", to: "b", field: "lineId"},
		{name: "Unknown direction", line: "x", direction: "back", from: "a", to: "b", field: "direction"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Estimate(tt.line, tt.direction, tt.from, tt.to)
			var verr *transit.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestEstimate_AllHeuristic(t *testing.T) {
	e, _ := testEstimator(t)

	est, err := e.Estimate("X", "Forward", "A", "D")
	require.NoError(t, err)
	require.Len(t, est.Segments, 3)

	var want float64
	for i, seg := range est.Segments {
		s := heuristicSeconds(stopsX[i], stopsX[i+1])
		want += s
		assert.Equal(t, SourceHeuristic, seg.Source)
		assert.Zero(t, seg.Samples)
		assert.Equal(t, stopsX[i].ID, seg.From)
		assert.Equal(t, stopsX[i+1].ID, seg.To)
		assert.InDelta(t, s, float64(seg.Seconds), 0.5)
	}
	// ~1112 m per hop at 20 km/h is ~200 s.
	assert.InDelta(t, want, float64(est.TotalSeconds), 0.5)
	assert.InDelta(t, 600, float64(est.TotalSeconds), 3)
}

func TestEstimate_AllMeasured(t *testing.T) {
	e, st := testEstimator(t)
	st.Record(transit.NewSegmentKey(forward, "a", "b"), 30)
	st.Record(transit.NewSegmentKey(forward, "b", "c"), 45)
	st.Record(transit.NewSegmentKey(forward, "c", "d"), 61)

	est, err := e.Estimate("x", "forward", "a", "d")
	require.NoError(t, err)
	assert.Equal(t, int64(136), est.TotalSeconds)
	for _, seg := range est.Segments {
		assert.Equal(t, SourceMeasured, seg.Source)
		assert.Equal(t, int64(1), seg.Samples)
	}
	assert.Equal(t, []int64{30, 45, 61}, []int64{est.Segments[0].Seconds, est.Segments[1].Seconds, est.Segments[2].Seconds})
}

func TestEstimate_SubPathIgnoresOutsideSegments(t *testing.T) {
	e, st := testEstimator(t)
	st.Record(transit.NewSegmentKey(forward, "a", "b"), 30)

	est, err := e.Estimate("x", "forward", "b", "d")
	require.NoError(t, err)
	require.Len(t, est.Segments, 2)
	assert.Equal(t, "b", est.Segments[0].From)
	assert.Equal(t, "d", est.Segments[1].To)
	for _, seg := range est.Segments {
		assert.Equal(t, SourceHeuristic, seg.Source)
	}
	want := heuristicSeconds(stopsX[1], stopsX[2]) + heuristicSeconds(stopsX[2], stopsX[3])
	assert.InDelta(t, want, float64(est.TotalSeconds), 0.5)
}

func TestEstimate_MixedSourcesTotalRoundsOnce(t *testing.T) {
	e, st := testEstimator(t)
	st.Record(transit.NewSegmentKey(forward, "a", "b"), 10)
	st.Record(transit.NewSegmentKey(forward, "a", "b"), 11) // avg 10.5

	st.Record(transit.NewSegmentKey(forward, "b", "c"), 20)
	st.Record(transit.NewSegmentKey(forward, "b", "c"), 21) // avg 20.5

	est, err := e.Estimate("x", "forward", "a", "c")
	require.NoError(t, err)
	// Per-segment values round to 11 and 21, but the total is round(31.0).
	assert.Equal(t, int64(11), est.Segments[0].Seconds)
	assert.Equal(t, int64(21), est.Segments[1].Seconds)
	assert.Equal(t, int64(31), est.TotalSeconds)
	assert.Equal(t, int64(2), est.Segments[0].Samples)
}

func TestEstimate_LoopUsesNextOccurrence(t *testing.T) {
	e, _ := testEstimator(t)

	est, err := e.Estimate("loop", "cw", "hub", "hub")
	require.NoError(t, err)
	require.Len(t, est.Segments, 2)
	assert.Equal(t, "north", est.Segments[0].To)
}

func TestNewEstimator_Speed(t *testing.T) {
	cat := catalog.Builtin()
	assert.InDelta(t, DefaultSpeedKmh, NewEstimator(cat, stats.NewStore(1), 0).SpeedKmh(), 1e-9)
	assert.InDelta(t, 36.0, NewEstimator(cat, stats.NewStore(1), 36).SpeedKmh(), 1e-9)
}
