package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"route-eta/internal/eta"
	"route-eta/internal/geo"
	"route-eta/internal/service"
	"route-eta/internal/transit"
)

type handler struct {
	svc *service.Service
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// writeError maps domain errors to HTTP status codes. Anything that is not a
// validation or not-found error is logged and reported as a 500.
func writeError(c *gin.Context, err error) {
	var verr *transit.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error(), Field: verr.Field})
	case transit.IsNotFound(err):
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type setLineRequest struct {
	DeviceID  string `json:"deviceId"`
	LineID    string `json:"lineId"`
	Direction string `json:"dir"`
}

type setLineResponse struct {
	OK        bool   `json:"ok"`
	DeviceID  string `json:"deviceId"`
	LineID    string `json:"lineId"`
	Direction string `json:"dir"`
}

func (h *handler) setLine(c *gin.Context) {
	var req setLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		badRequest(c, "deviceId is required")
		return
	}
	def := h.svc.DefaultRoute()
	if req.LineID == "" {
		req.LineID = def.LineID
	}
	if req.Direction == "" {
		req.Direction = def.Direction
	}

	pos, err := h.svc.AssignRoute(req.DeviceID, req.LineID, req.Direction)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, setLineResponse{
		OK:        true,
		DeviceID:  pos.DeviceKey,
		LineID:    pos.LineID,
		Direction: pos.Direction,
	})
}

type telemetryRequest struct {
	DeviceID  string     `json:"deviceId"`
	Lat       *float64   `json:"lat"`
	Lon       *float64   `json:"lon"`
	LineID    string     `json:"lineId"`
	Direction string     `json:"dir"`
	Timestamp *time.Time `json:"ts"`
}

type telemetryResponse struct {
	OK          bool                `json:"ok"`
	DeviceID    string              `json:"deviceId"`
	LineID      string              `json:"lineId"`
	Direction   string              `json:"dir"`
	Phase       transit.Phase       `json:"phase"`
	NearestStop string              `json:"nearestStopId,omitempty"`
	DistanceM   *float64            `json:"distanceM,omitempty"`
	LastStopID  string              `json:"lastStopId,omitempty"`
	Transition  *transit.Transition `json:"transition,omitempty"`
}

func (h *handler) telemetry(c *gin.Context) {
	var req telemetryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	if req.Lat == nil || req.Lon == nil {
		badRequest(c, "lat/lon required")
		return
	}
	key := req.DeviceID
	if strings.TrimSpace(key) == "" {
		key = c.ClientIP()
	}

	fix := transit.Fix{
		Lat:       *req.Lat,
		Lon:       *req.Lon,
		LineID:    req.LineID,
		Direction: req.Direction,
	}
	if req.Timestamp != nil {
		fix.Timestamp = *req.Timestamp
	}

	res, err := h.svc.IngestFix(key, fix)
	if err != nil {
		writeError(c, err)
		return
	}
	out := telemetryResponse{
		OK:         true,
		DeviceID:   res.Device.DeviceKey,
		LineID:     res.Device.LineID,
		Direction:  res.Device.Direction,
		Phase:      res.Device.Phase,
		LastStopID: res.Device.LastStopID,
		Transition: res.Transition,
	}
	if res.Matched {
		d := math.Round(res.Nearest.DistanceMeters*10) / 10
		out.NearestStop = res.Nearest.Stop.ID
		out.DistanceM = &d
	}
	c.JSON(http.StatusOK, out)
}

type segmentView struct {
	LineID    string `json:"lineId"`
	Direction string `json:"dir"`
	Segment   string `json:"segment"`
	Samples   int64  `json:"samples"`
	AvgSec    int64  `json:"avgSec"`
}

type stateResponse struct {
	Lines    []service.Line           `json:"lines"`
	Devices  []transit.DevicePosition `json:"devices"`
	Segments []segmentView            `json:"segments"`
}

func (h *handler) state(c *gin.Context) {
	agg := h.svc.Aggregate()
	out := stateResponse{
		Lines:    agg.Lines,
		Devices:  agg.Devices,
		Segments: make([]segmentView, 0, len(agg.Segments)),
	}
	if out.Devices == nil {
		out.Devices = []transit.DevicePosition{}
	}
	for _, s := range agg.Segments {
		out.Segments = append(out.Segments, segmentView{
			LineID:    s.Key.LineID,
			Direction: s.Key.Direction,
			Segment:   s.Key.From + "->" + s.Key.To,
			Samples:   s.Stat.Count,
			AvgSec:    int64(math.Round(s.Stat.AvgSeconds)),
		})
	}
	c.JSON(http.StatusOK, out)
}

type etaDetail struct {
	From      string  `json:"a"`
	To        string  `json:"b"`
	Seconds   int64   `json:"sec"`
	Source    string  `json:"source"`
	Samples   int64   `json:"samples"`
	DistanceM float64 `json:"distanceM"`
}

type etaResponse struct {
	LineID    string      `json:"lineId"`
	Direction string      `json:"dir"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Seconds   int64       `json:"seconds"`
	Detail    []etaDetail `json:"detail"`
}

func newETAResponse(est eta.Estimate) etaResponse {
	out := etaResponse{
		LineID:    est.LineID,
		Direction: est.Direction,
		From:      est.From,
		To:        est.To,
		Seconds:   est.TotalSeconds,
		Detail:    make([]etaDetail, 0, len(est.Segments)),
	}
	for _, s := range est.Segments {
		out.Detail = append(out.Detail, etaDetail{
			From:      s.From,
			To:        s.To,
			Seconds:   s.Seconds,
			Source:    s.Source,
			Samples:   s.Samples,
			DistanceM: math.Round(s.DistanceMeters),
		})
	}
	return out
}

func (h *handler) estimate(c *gin.Context) {
	def := h.svc.DefaultRoute()
	line := c.DefaultQuery("line", def.LineID)
	dir := c.DefaultQuery("dir", def.Direction)
	from, to := c.Query("from"), c.Query("to")
	if from == "" || to == "" {
		badRequest(c, "from and to are required")
		return
	}

	est, err := h.svc.ETA(line, dir, from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newETAResponse(est))
}

type routeSummary struct {
	LineID    string `json:"lineId"`
	Direction string `json:"dir"`
	Stops     int    `json:"stops"`
	LengthM   int64  `json:"lengthM"`
}

func (h *handler) routes(c *gin.Context) {
	cat := h.svc.Catalog()
	keys := cat.Routes()
	out := make([]routeSummary, 0, len(keys))
	for _, k := range keys {
		stops, _ := cat.Route(k)
		out = append(out, routeSummary{
			LineID:    k.LineID,
			Direction: k.Direction,
			Stops:     len(stops),
			LengthM:   int64(math.Round(geo.PathLength(stopPoints(stops)))),
		})
	}
	c.JSON(http.StatusOK, gin.H{"routes": out})
}

type routeDetail struct {
	LineID    string         `json:"lineId"`
	Direction string         `json:"dir"`
	Stops     []transit.Stop `json:"stops"`
	Polyline  string         `json:"polyline"`
}

func (h *handler) route(c *gin.Context) {
	line, dir := c.Param("line"), c.Param("dir")
	stops, err := h.svc.RouteStops(line, dir)
	if err != nil {
		writeError(c, err)
		return
	}
	key := transit.NewRouteKey(line, dir)
	c.JSON(http.StatusOK, routeDetail{
		LineID:    key.LineID,
		Direction: key.Direction,
		Stops:     stops,
		Polyline:  geo.EncodePolyline(stopPoints(stops)),
	})
}

func (h *handler) device(c *gin.Context) {
	pos, err := h.svc.DeviceState(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pos)
}

func stopPoints(stops []transit.Stop) []geo.Point {
	pts := make([]geo.Point, len(stops))
	for i, s := range stops {
		pts[i] = s.Point()
	}
	return pts
}
