// Package tracker follows each device along its assigned route, snaps fixes
// to stops inside the geofence, and feeds completed stop-to-stop traversals
// into the segment statistics store.
package tracker

import (
	"math"
	"sort"
	"sync"
	"time"

	"route-eta/internal/catalog"
	"route-eta/internal/shard"
	"route-eta/internal/stats"
	"route-eta/internal/transit"
)

// DefaultGeofenceRadius is the distance in meters within which a fix counts
// as being at a stop.
const DefaultGeofenceRadius = 60.0

// DefaultRoute picks the route for a device that reports a fix before any
// route was assigned to it.
type DefaultRoute func(deviceKey string) transit.RouteKey

// FixedDefault assigns every unassigned device to route.
func FixedDefault(route transit.RouteKey) DefaultRoute {
	route = transit.NewRouteKey(route.LineID, route.Direction)
	return func(string) transit.RouteKey { return route }
}

type Config struct {
	GeofenceRadius float64
	DefaultRoute   DefaultRoute
	Shards         int
}

type Tracker struct {
	catalog      *catalog.Catalog
	stats        *stats.Store
	radius       float64
	defaultRoute DefaultRoute
	devices      *shard.Map[device]
}

func New(cat *catalog.Catalog, st *stats.Store, cfg Config) *Tracker {
	radius := cfg.GeofenceRadius
	if radius <= 0 {
		radius = DefaultGeofenceRadius
	}
	def := cfg.DefaultRoute
	if def == nil {
		// Fall back to the first route in the catalog.
		def = FixedDefault(cat.Routes()[0])
	}
	n := cfg.Shards
	if n <= 0 {
		n = shard.DefaultShards
	}
	return &Tracker{
		catalog:      cat,
		stats:        st,
		radius:       radius,
		defaultRoute: def,
		devices:      shard.New[device](n),
	}
}

func (t *Tracker) GeofenceRadius() float64 { return t.radius }

// IngestResult describes what a single fix did to its device.
type IngestResult struct {
	Device transit.DevicePosition
	// Nearest is the closest stop on the device's route; valid when Matched.
	Nearest Match
	Matched bool
	// Snapped is true when Nearest lies within the geofence radius.
	Snapped bool
	// Arrived is true when the fix started a new snap, as opposed to
	// dwelling at the stop the device was already snapped to.
	Arrived        bool
	Transition     *transit.Transition
	SegmentCreated bool
	RouteChanged   bool
	DeviceCreated  bool
}

// Assign moves the device to route (lineID, direction) and discards any
// in-flight segment timing. Unknown routes are rejected and leave the device
// untouched.
func (t *Tracker) Assign(deviceKey, lineID, direction string) (transit.DevicePosition, error) {
	if err := t.catalog.Validate(lineID, direction); err != nil {
		return transit.DevicePosition{}, err
	}
	route := transit.NewRouteKey(lineID, direction)

	d, _ := t.devices.GetOrCreate(deviceKey, newDevice(deviceKey))
	d.mu.Lock()
	defer d.mu.Unlock()
	d.assign(route)
	return d.snapshot(), nil
}

// Ingest applies one fix. The fix must carry valid coordinates and a
// timestamp; both are checked by the caller.
func (t *Tracker) Ingest(deviceKey string, fix transit.Fix) IngestResult {
	d, created := t.devices.GetOrCreate(deviceKey, newDevice(deviceKey))
	d.mu.Lock()
	defer d.mu.Unlock()

	res := IngestResult{DeviceCreated: created}
	if d.phase == transit.PhaseUnassigned {
		d.assign(t.defaultRoute(deviceKey))
	}
	if route, ok := t.resolveOverride(d.route, fix); ok && route != d.route {
		d.assign(route)
		res.RouteChanged = true
	}

	d.lat, d.lon = fix.Lat, fix.Lon
	d.lastSeen = fix.Timestamp

	stops, _ := t.catalog.Route(d.route)
	m, ok := Nearest(stops, fix.Point())
	if !ok {
		d.phase = transit.PhaseUnsnapped
		res.Device = d.snapshot()
		return res
	}
	res.Nearest, res.Matched = m, true

	if m.DistanceMeters > t.radius {
		// Leaving the geofence keeps the last snap so the next stop can
		// close the segment.
		d.phase = transit.PhaseUnsnapped
		res.Device = d.snapshot()
		return res
	}
	res.Snapped = true
	d.phase = transit.PhaseSnapped

	if d.last != nil && d.last.stop.ID == m.Stop.ID {
		// Dwelling at (or returning to) the same stop keeps the original
		// arrival time.
		res.Device = d.snapshot()
		return res
	}

	if d.last != nil {
		seconds := elapsedSeconds(d.last.since, fix.Timestamp)
		key := transit.NewSegmentKey(d.route, d.last.stop.ID, m.Stop.ID)
		stat, segCreated := t.stats.Record(key, float64(seconds))
		res.Transition = &transit.Transition{
			DeviceKey: deviceKey,
			Segment:   key,
			Seconds:   seconds,
			At:        fix.Timestamp,
			Stat:      stat,
		}
		res.SegmentCreated = segCreated
	}
	d.last = &snap{stop: m.Stop, since: fix.Timestamp}
	res.Arrived = true
	res.Device = d.snapshot()
	return res
}

// resolveOverride returns the route named by the fix's optional line and
// direction. Parts that do not exist in the catalog are ignored, and the
// override is dropped entirely if the resulting pair is not a route.
func (t *Tracker) resolveOverride(current transit.RouteKey, fix transit.Fix) (transit.RouteKey, bool) {
	if fix.LineID == "" && fix.Direction == "" {
		return current, false
	}
	next := current
	if fix.LineID != "" && t.catalog.HasLine(fix.LineID) {
		next.LineID = transit.Normalize(fix.LineID)
	}
	if fix.Direction != "" {
		if _, ok := t.catalog.Stops(next.LineID, fix.Direction); ok {
			next.Direction = transit.Normalize(fix.Direction)
		}
	}
	if _, ok := t.catalog.Route(next); !ok {
		return current, false
	}
	return next, true
}

// elapsedSeconds rounds the time between two snaps to whole seconds and
// never returns less than one, even if the clock went backwards.
func elapsedSeconds(from, to time.Time) int64 {
	s := int64(math.Round(to.Sub(from).Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

func (t *Tracker) Device(deviceKey string) (transit.DevicePosition, bool) {
	d, ok := t.devices.Get(deviceKey)
	if !ok {
		return transit.DevicePosition{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot(), true
}

// Devices returns a snapshot of every known device ordered by key.
func (t *Tracker) Devices() []transit.DevicePosition {
	var out []transit.DevicePosition
	t.devices.Range(func(_ string, d *device) {
		d.mu.Lock()
		out = append(out, d.snapshot())
		d.mu.Unlock()
	})
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceKey < out[j].DeviceKey })
	return out
}

func (t *Tracker) Len() int { return t.devices.Len() }

type snap struct {
	stop  transit.Stop
	since time.Time
}

type device struct {
	mu       sync.Mutex
	key      string
	phase    transit.Phase
	route    transit.RouteKey
	lat, lon float64
	lastSeen time.Time
	last     *snap
}

func newDevice(key string) func() *device {
	return func() *device { return &device{key: key} }
}

func (d *device) assign(route transit.RouteKey) {
	d.route = route
	d.phase = transit.PhaseUnsnapped
	d.last = nil
}

func (d *device) snapshot() transit.DevicePosition {
	p := transit.DevicePosition{
		DeviceKey: d.key,
		Phase:     d.phase,
		LineID:    d.route.LineID,
		Direction: d.route.Direction,
		Lat:       d.lat,
		Lon:       d.lon,
		LastSeen:  d.lastSeen,
	}
	if d.last != nil {
		p.LastStopID = d.last.stop.ID
		p.LastStopName = d.last.stop.Name
		p.SnappedAt = d.last.since
	}
	return p
}
