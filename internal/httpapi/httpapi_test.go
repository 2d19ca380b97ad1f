package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"route-eta/internal/catalog"
	"route-eta/internal/clock"
	"route-eta/internal/metrics"
	"route-eta/internal/service"
	"route-eta/internal/transit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, opts Options) (*gin.Engine, *service.Service) {
	t.Helper()
	svc, err := service.New(service.Options{
		Catalog:      catalog.Builtin(),
		DefaultRoute: transit.NewRouteKey("troncal_c", "sur_norte"),
		Clock:        clock.NewMockClock(time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	return NewRouter(svc, opts), svc
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t, Options{})
	w := do(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflight(t *testing.T) {
	r, _ := newTestRouter(t, Options{})
	w := do(r, http.MethodOptions, "/telemetry", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestRequestID(t *testing.T) {
	r, _ := newTestRouter(t, Options{})

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "Generated when absent", incoming: "", keep: false},
		{name: "Valid id is kept", incoming: "abc-123.def:9", keep: true},
		{name: "Invalid characters replaced", incoming: "bad id<script>", keep: false},
		{name: "Too long replaced", incoming: strings.Repeat("a", 129), keep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			if tt.incoming != "" {
				req.Header.Set(requestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			got := w.Header().Get(requestIDHeader)
			require.NotEmpty(t, got)
			if tt.keep {
				assert.Equal(t, tt.incoming, got)
			} else {
				assert.NotEqual(t, tt.incoming, got)
				assert.Len(t, got, 36)
			}
		})
	}
}

func TestIndex(t *testing.T) {
	r, _ := newTestRouter(t, Options{})
	w := do(r, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "troncal_c")
	assert.Contains(t, w.Body.String(), "expreso_1")
	assert.Contains(t, w.Body.String(), "/eta")
}

func TestSetLine(t *testing.T) {
	r, svc := newTestRouter(t, Options{})

	tests := []struct {
		name   string
		body   string
		status int
		field  string
	}{
		{name: "Missing deviceId", body: `{"lineId":"troncal_c","dir":"norte_sur"}`, status: http.StatusBadRequest},
		{name: "Unknown line", body: `{"deviceId":"bus-1","lineId":"nope","dir":"norte_sur"}`, status: http.StatusBadRequest, field: "lineId"},
		{name: "Unknown direction", body: `{"deviceId":"bus-1","lineId":"troncal_c","dir":"east"}`, status: http.StatusBadRequest, field: "direction"},
		{name: "Malformed body", body: `{"deviceId":`, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/set-line", tt.body)
			assert.Equal(t, tt.status, w.Code)
			resp := decode[errorResponse](t, w)
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, tt.field, resp.Field)
		})
	}

	_, err := svc.DeviceState("bus-1")
	assert.True(t, transit.IsNotFound(err), "rejected assignment must not create the device")

	w := do(r, http.MethodPost, "/set-line", `{"deviceId":"bus-1","lineId":"Expreso_1","dir":"NORTE_SUR"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"deviceId":"bus-1","lineId":"expreso_1","dir":"norte_sur"}`, w.Body.String())

	w = do(r, http.MethodPost, "/set-line", `{"deviceId":"bus-2"}`)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[setLineResponse](t, w)
	assert.Equal(t, "troncal_c", resp.LineID)
	assert.Equal(t, "sur_norte", resp.Direction)
}

func TestTelemetry_Validation(t *testing.T) {
	r, _ := newTestRouter(t, Options{})

	tests := []struct {
		name string
		body string
	}{
		{name: "Missing lat", body: `{"deviceId":"bus-1","lon":-77.0}`},
		{name: "Missing lon", body: `{"deviceId":"bus-1","lat":-12.0}`},
		{name: "Latitude out of range", body: `{"deviceId":"bus-1","lat":91,"lon":-77.0}`},
		{name: "Longitude out of range", body: `{"deviceId":"bus-1","lat":-12,"lon":181}`},
		{name: "Not JSON", body: `lat=1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/telemetry", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestTelemetry_DeviceFallsBackToClientAddress(t *testing.T) {
	r, svc := newTestRouter(t, Options{})

	req := httptest.NewRequest(http.MethodPost, "/telemetry", strings.NewReader(`{"lat":-12.04345,"lon":-77.04190}`))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.7:40000"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[telemetryResponse](t, w)
	assert.Equal(t, "192.0.2.7", resp.DeviceID)
	assert.Equal(t, "troncal_c", resp.LineID)
	assert.Equal(t, "sur_norte", resp.Direction)
	assert.Equal(t, "ramon_castilla", resp.NearestStop)

	_, err := svc.DeviceState("192.0.2.7")
	assert.NoError(t, err)
}

func TestTelemetry_TransitionFeedsStateAndETA(t *testing.T) {
	r, _ := newTestRouter(t, Options{})

	w := do(r, http.MethodPost, "/set-line", `{"deviceId":"bus-1","lineId":"troncal_c","dir":"norte_sur"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPost, "/telemetry",
		`{"deviceId":"bus-1","lat":-12.04345,"lon":-77.04190,"ts":"2026-01-01T10:00:00Z"}`)
	require.Equal(t, http.StatusOK, w.Code)
	first := decode[telemetryResponse](t, w)
	assert.Equal(t, transit.PhaseSnapped, first.Phase)
	assert.Equal(t, "ramon_castilla", first.LastStopID)
	assert.Nil(t, first.Transition)

	// Between stations, outside every geofence.
	w = do(r, http.MethodPost, "/telemetry",
		`{"deviceId":"bus-1","lat":-12.04480,"lon":-77.03950,"ts":"2026-01-01T10:00:40Z"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, transit.PhaseUnsnapped, decode[telemetryResponse](t, w).Phase)

	w = do(r, http.MethodPost, "/telemetry",
		`{"deviceId":"bus-1","lat":-12.04626,"lon":-77.03718,"ts":"2026-01-01T10:01:30Z"}`)
	require.Equal(t, http.StatusOK, w.Code)
	third := decode[telemetryResponse](t, w)
	require.NotNil(t, third.Transition)
	assert.Equal(t, int64(90), third.Transition.Seconds)
	assert.Equal(t, "ramon_castilla", third.Transition.Segment.From)
	assert.Equal(t, "tacna", third.Transition.Segment.To)

	w = do(r, http.MethodGet, "/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[stateResponse](t, w)
	require.Len(t, st.Segments, 1)
	assert.Equal(t, segmentView{
		LineID:    "troncal_c",
		Direction: "norte_sur",
		Segment:   "ramon_castilla->tacna",
		Samples:   1,
		AvgSec:    90,
	}, st.Segments[0])
	require.Len(t, st.Devices, 1)
	assert.Equal(t, "tacna", st.Devices[0].LastStopID)
	assert.Len(t, st.Lines, 2)

	w = do(r, http.MethodGet, "/eta?line=troncal_c&dir=norte_sur&from=ramon_castilla&to=jiron_union", "")
	require.Equal(t, http.StatusOK, w.Code)
	est := decode[etaResponse](t, w)
	require.Len(t, est.Detail, 2)
	assert.Equal(t, "measured", est.Detail[0].Source)
	assert.Equal(t, int64(90), est.Detail[0].Seconds)
	assert.Equal(t, "heuristic", est.Detail[1].Source)
	assert.Equal(t, est.Detail[0].Seconds+est.Detail[1].Seconds, est.Seconds)

	w = do(r, http.MethodGet, "/devices/bus-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tacna", decode[transit.DevicePosition](t, w).LastStopID)
}

func TestETA(t *testing.T) {
	r, _ := newTestRouter(t, Options{})

	tests := []struct {
		name   string
		query  string
		status int
		field  string
	}{
		{name: "Default route", query: "from=matellini&to=teran", status: http.StatusOK},
		{name: "Missing to", query: "from=matellini", status: http.StatusBadRequest},
		{name: "Reversed order", query: "from=teran&to=matellini", status: http.StatusBadRequest, field: "to"},
		{name: "Unknown stop", query: "from=nowhere&to=teran", status: http.StatusBadRequest, field: "from"},
		{name: "Unknown line", query: "line=x&from=matellini&to=teran", status: http.StatusBadRequest, field: "lineId"},
		{name: "Unknown direction", query: "line=expreso_1&dir=x&from=matellini&to=teran", status: http.StatusBadRequest, field: "direction"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodGet, "/eta?"+tt.query, "")
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status != http.StatusOK {
				assert.Equal(t, tt.field, decode[errorResponse](t, w).Field)
				return
			}
			est := decode[etaResponse](t, w)
			assert.Equal(t, "troncal_c", est.LineID)
			assert.Equal(t, "sur_norte", est.Direction)
			require.Len(t, est.Detail, 2)
			assert.Equal(t, "matellini", est.Detail[0].From)
			assert.Equal(t, "plaza_lima_sur", est.Detail[0].To)
			assert.Positive(t, est.Seconds)
		})
	}
}

func TestRoutes(t *testing.T) {
	r, _ := newTestRouter(t, Options{})

	w := do(r, http.MethodGet, "/routes", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Routes []routeSummary `json:"routes"`
	}](t, w)
	require.Len(t, list.Routes, 4)
	for _, rt := range list.Routes {
		assert.Positive(t, rt.Stops)
		assert.Positive(t, rt.LengthM)
	}

	w = do(r, http.MethodGet, "/routes/EXPRESO_1/norte_sur", "")
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[routeDetail](t, w)
	assert.Equal(t, "expreso_1", detail.LineID)
	require.Len(t, detail.Stops, 10)
	assert.Equal(t, "central", detail.Stops[0].ID)
	assert.NotEmpty(t, detail.Polyline)

	w = do(r, http.MethodGet, "/routes/expreso_1/east", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDevice_NotFound(t *testing.T) {
	r, _ := newTestRouter(t, Options{})
	w := do(r, http.MethodGet, "/devices/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decode[errorResponse](t, w).Error, "ghost")
}

func TestRateLimit(t *testing.T) {
	clk := clock.NewMockClock(time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))
	r, _ := newTestRouter(t, Options{RateLimitPerSec: 2, Clock: clk})

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/health", "").Code)

	w := do(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))

	clk.Advance(time.Second)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/health", "").Code)
}

func TestRateLimiter_EvictsIdleClients(t *testing.T) {
	clk := clock.NewMockClock(time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))
	rl := newRateLimiter(5, clk)

	rl.get("10.0.0.1")
	rl.get("10.0.0.2")
	assert.Equal(t, 2, rl.size())

	clk.Advance(5 * time.Minute)
	rl.get("10.0.0.2")

	clk.Advance(6 * time.Minute)
	rl.get("10.0.0.3") // triggers a sweep; .1 has been idle 11 minutes
	assert.Equal(t, 2, rl.size())
}

func TestMetricsMiddleware(t *testing.T) {
	m := metrics.NewCollector(60, 20, 1, time.Second)
	r, _ := newTestRouter(t, Options{Metrics: m})

	do(r, http.MethodGet, "/devices/a", "")
	do(r, http.MethodGet, "/devices/b", "")
	do(r, http.MethodGet, "/nope", "")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/devices/:id", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "unmatched", "404")))
}
