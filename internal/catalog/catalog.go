// Package catalog holds the static route table: for every line and
// direction, the ordered list of stops a vehicle visits. A Catalog is
// immutable once built and safe for concurrent use without locking.
package catalog

import (
	"errors"
	"fmt"
	"sort"

	"route-eta/internal/transit"
)

type Catalog struct {
	routes map[transit.RouteKey][]transit.Stop
	lines  map[string][]string // line -> directions, sorted
}

// New validates and normalizes routes. Every route needs at least one stop,
// stop IDs must not repeat back to back, and a (line, direction) pair may
// only be defined once.
func New(routes []transit.Route) (*Catalog, error) {
	if len(routes) == 0 {
		return nil, errors.New("catalog: no routes")
	}

	c := &Catalog{
		routes: make(map[transit.RouteKey][]transit.Stop, len(routes)),
		lines:  make(map[string][]string),
	}
	for _, r := range routes {
		key := transit.NewRouteKey(r.Key.LineID, r.Key.Direction)
		if key.LineID == "" || key.Direction == "" {
			return nil, fmt.Errorf("catalog: route %q has an empty line or direction", r.Key.String())
		}
		if _, dup := c.routes[key]; dup {
			return nil, fmt.Errorf("catalog: route %s defined twice", key)
		}
		if len(r.Stops) == 0 {
			return nil, fmt.Errorf("catalog: route %s has no stops", key)
		}

		stops := make([]transit.Stop, len(r.Stops))
		for i, s := range r.Stops {
			s.ID = transit.Normalize(s.ID)
			if s.ID == "" {
				return nil, fmt.Errorf("catalog: route %s stop %d has an empty id", key, i)
			}
			if i > 0 && stops[i-1].ID == s.ID {
				return nil, fmt.Errorf("catalog: route %s repeats stop %q at positions %d and %d", key, s.ID, i-1, i)
			}
			stops[i] = s
		}
		c.routes[key] = stops
		c.lines[key.LineID] = append(c.lines[key.LineID], key.Direction)
	}
	for _, dirs := range c.lines {
		sort.Strings(dirs)
	}
	return c, nil
}

// Stops returns the ordered stops of a route. The returned slice is shared
// and must be treated as read-only.
func (c *Catalog) Stops(lineID, direction string) ([]transit.Stop, bool) {
	stops, ok := c.routes[transit.NewRouteKey(lineID, direction)]
	return stops, ok
}

func (c *Catalog) Route(key transit.RouteKey) ([]transit.Stop, bool) {
	return c.Stops(key.LineID, key.Direction)
}

func (c *Catalog) HasLine(lineID string) bool {
	_, ok := c.lines[transit.Normalize(lineID)]
	return ok
}

// Validate reports a ValidationError naming the first unknown part of the
// route, or nil when the route exists.
func (c *Catalog) Validate(lineID, direction string) error {
	if !c.HasLine(lineID) {
		return transit.InvalidLine(lineID)
	}
	if _, ok := c.Stops(lineID, direction); !ok {
		return transit.InvalidDirection(lineID, direction)
	}
	return nil
}

func (c *Catalog) Lines() []string {
	lines := make([]string, 0, len(c.lines))
	for l := range c.lines {
		lines = append(lines, l)
	}
	sort.Strings(lines)
	return lines
}

func (c *Catalog) Directions(lineID string) []string {
	dirs := c.lines[transit.Normalize(lineID)]
	return append([]string(nil), dirs...)
}

// Routes lists every route key ordered by line then direction.
func (c *Catalog) Routes() []transit.RouteKey {
	keys := make([]transit.RouteKey, 0, len(c.routes))
	for _, l := range c.Lines() {
		for _, d := range c.lines[l] {
			keys = append(keys, transit.RouteKey{LineID: l, Direction: d})
		}
	}
	return keys
}

// Opposite returns another direction of the same line, if the line has one.
func (c *Catalog) Opposite(key transit.RouteKey) (transit.RouteKey, bool) {
	for _, d := range c.lines[key.LineID] {
		if d != key.Direction {
			return transit.RouteKey{LineID: key.LineID, Direction: d}, true
		}
	}
	return transit.RouteKey{}, false
}
