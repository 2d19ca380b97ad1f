package transit

import (
	"fmt"
	"strings"
	"time"

	"route-eta/internal/geo"
)

// Normalize trims and lowercases an identifier. Every line, direction and
// stop identifier is compared in this form.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

type Stop struct {
	ID   string  `json:"id" yaml:"id"`
	Name string  `json:"name" yaml:"name"`
	Lat  float64 `json:"lat" yaml:"lat"`
	Lon  float64 `json:"lon" yaml:"lon"`
}

func (s Stop) Point() geo.Point { return geo.Point{Lat: s.Lat, Lon: s.Lon} }

type RouteKey struct {
	LineID    string `json:"lineId"`
	Direction string `json:"dir"`
}

func NewRouteKey(lineID, direction string) RouteKey {
	return RouteKey{LineID: Normalize(lineID), Direction: Normalize(direction)}
}

func (k RouteKey) String() string { return k.LineID + "/" + k.Direction }

type Route struct {
	Key   RouteKey
	Stops []Stop
}

// Fix is a single reported position. LineID and Direction are optional and,
// when they resolve to a known route, replace the device's assignment.
type Fix struct {
	Lat       float64
	Lon       float64
	Timestamp time.Time // zero means "stamp on arrival"
	LineID    string
	Direction string
}

func (f Fix) Point() geo.Point { return geo.Point{Lat: f.Lat, Lon: f.Lon} }

// SegmentKey identifies an ordered stop pair on one route. A→B and B→A are
// different segments.
type SegmentKey struct {
	LineID    string `json:"lineId"`
	Direction string `json:"dir"`
	From      string `json:"from"`
	To        string `json:"to"`
}

func NewSegmentKey(route RouteKey, from, to string) SegmentKey {
	return SegmentKey{
		LineID:    Normalize(route.LineID),
		Direction: Normalize(route.Direction),
		From:      Normalize(from),
		To:        Normalize(to),
	}
}

func (k SegmentKey) Route() RouteKey { return RouteKey{LineID: k.LineID, Direction: k.Direction} }

// String renders the key as "line|dir|from->to".
func (k SegmentKey) String() string {
	return k.LineID + "|" + k.Direction + "|" + k.From + "->" + k.To
}

type SegmentStat struct {
	Count      int64   `json:"samples"`
	AvgSeconds float64 `json:"avgSec"`
}

// Transition is a completed stop-to-stop traversal observed for one device.
type Transition struct {
	DeviceKey string      `json:"deviceId"`
	Segment   SegmentKey  `json:"segment"`
	Seconds   int64       `json:"seconds"`
	At        time.Time   `json:"at"`
	Stat      SegmentStat `json:"stat"`
}

type Phase uint8

const (
	PhaseUnassigned Phase = iota
	PhaseUnsnapped
	PhaseSnapped
)

func (p Phase) String() string {
	switch p {
	case PhaseUnsnapped:
		return "unsnapped"
	case PhaseSnapped:
		return "snapped"
	default:
		return "unassigned"
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "unsnapped":
		*p = PhaseUnsnapped
	case "snapped":
		*p = PhaseSnapped
	case "unassigned", "":
		*p = PhaseUnassigned
	default:
		return fmt.Errorf("unknown phase %q", b)
	}
	return nil
}

// DevicePosition is a point-in-time copy of one device's tracking state.
// LastStop* describe the most recent qualifying snap, which is kept after the
// device leaves the geofence so the next snap can close the segment.
type DevicePosition struct {
	DeviceKey    string    `json:"deviceId"`
	Phase        Phase     `json:"phase"`
	LineID       string    `json:"lineId,omitempty"`
	Direction    string    `json:"dir,omitempty"`
	Lat          float64   `json:"lastLat"`
	Lon          float64   `json:"lastLon"`
	LastSeen     time.Time `json:"lastSeen"`
	LastStopID   string    `json:"lastStopId,omitempty"`
	LastStopName string    `json:"lastStopName,omitempty"`
	SnappedAt    time.Time `json:"snappedAt"`
}

func (d DevicePosition) Route() RouteKey { return RouteKey{LineID: d.LineID, Direction: d.Direction} }
