package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"route-eta/internal/transit"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// representativeTrips picks, for every (route, direction), the trip with the
// most stop_times. Its stop sequence becomes the route's stop list.
const representativeTrips = `
SELECT DISTINCT ON (t.route_id, dir) t.route_id, dir, t.trip_id
FROM (
  SELECT route_id, trip_id, COALESCE(direction_id::text, '0') AS dir FROM trips
) t
JOIN (
  SELECT trip_id, COUNT(*) AS n FROM stop_times GROUP BY trip_id
) c ON c.trip_id = t.trip_id
ORDER BY t.route_id, dir, c.n DESC, t.trip_id`

type tripRef struct {
	routeID   string
	direction string
	tripID    string
}

// FetchRoutes builds one catalog route per GTFS route and direction. GTFS
// direction ids are mapped through DirectionName.
func FetchRoutes(ctx context.Context, db *sql.DB) ([]transit.Route, error) {
	rows, err := db.QueryContext(ctx, representativeTrips)
	if err != nil {
		return nil, fmt.Errorf("query representative trips: %w", err)
	}
	var refs []tripRef
	for rows.Next() {
		var r tripRef
		if err := rows.Scan(&r.routeID, &r.direction, &r.tripID); err != nil {
			rows.Close()
			return nil, err
		}
		refs = append(refs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	q, err := stopsQuery(ctx, db)
	if err != nil {
		return nil, err
	}
	routes := make([]transit.Route, 0, len(refs))
	for _, r := range refs {
		stops, err := fetchTripStops(ctx, db, q, r.tripID)
		if err != nil {
			return nil, fmt.Errorf("stops for trip %s: %w", r.tripID, err)
		}
		if len(stops) == 0 {
			continue
		}
		routes = append(routes, transit.Route{
			Key:   transit.NewRouteKey(r.routeID, DirectionName(r.direction)),
			Stops: stops,
		})
	}
	return routes, nil
}

// DirectionName maps a GTFS direction_id to a catalog direction.
func DirectionName(directionID string) string {
	switch strings.ToLower(strings.TrimSpace(directionID)) {
	case "1", "inbound":
		return "inbound"
	default:
		return "outbound"
	}
}

// stopsQuery prefers stop_lat/stop_lon, but supports PostGIS stop_loc geography as fallback.
func stopsQuery(ctx context.Context, db *sql.DB) (string, error) {
	latlonExists, err := hasColumns(ctx, db, "public", "stops", "stop_lat", "stop_lon")
	if err != nil {
		return "", fmt.Errorf("introspect stops columns: %w", err)
	}
	if latlonExists["stop_lat"] && latlonExists["stop_lon"] {
		return `SELECT st.stop_id, COALESCE(s.stop_name, st.stop_id), COALESCE(s.stop_lat, 0), COALESCE(s.stop_lon, 0)
             FROM stop_times st
             JOIN stops s ON s.stop_id = st.stop_id
             WHERE st.trip_id = $1
             ORDER BY st.stop_sequence`, nil
	}
	locExists, err := hasColumns(ctx, db, "public", "stops", "stop_loc")
	if err != nil {
		return "", fmt.Errorf("introspect stops stop_loc: %w", err)
	}
	if !locExists["stop_loc"] {
		return "", fmt.Errorf("stops table missing expected columns (stop_lat/lon or stop_loc)")
	}
	return `SELECT st.stop_id, COALESCE(s.stop_name, st.stop_id),
                COALESCE(ST_Y(s.stop_loc::geometry), 0),
                COALESCE(ST_X(s.stop_loc::geometry), 0)
             FROM stop_times st
             JOIN stops s ON s.stop_id = st.stop_id
             WHERE st.trip_id = $1
             ORDER BY st.stop_sequence`, nil
}

func fetchTripStops(ctx context.Context, db *sql.DB, q, tripID string) ([]transit.Stop, error) {
	rows, err := db.QueryContext(ctx, q, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stops []transit.Stop
	for rows.Next() {
		var s transit.Stop
		if err := rows.Scan(&s.ID, &s.Name, &s.Lat, &s.Lon); err != nil {
			return nil, err
		}
		stops = append(stops, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return dedupeAdjacent(stops), nil
}

// dedupeAdjacent drops consecutive visits to the same stop, which some feeds
// use to model a timing point.
func dedupeAdjacent(stops []transit.Stop) []transit.Stop {
	out := stops[:0]
	for _, s := range stops {
		if n := len(out); n > 0 && transit.Normalize(out[n-1].ID) == transit.Normalize(s.ID) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// hasColumns returns a map of requested column names to existence for the given table.
func hasColumns(ctx context.Context, db *sql.DB, schema, table string, cols ...string) (map[string]bool, error) {
	res := make(map[string]bool, len(cols))
	if len(cols) == 0 {
		return res, nil
	}
	for _, c := range cols {
		res[c] = false
	}
	q := `SELECT column_name FROM information_schema.columns
          WHERE table_schema = $1 AND table_name = $2 AND column_name = ANY($3)`
	rows, err := db.QueryContext(ctx, q, schema, table, cols)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res[name] = true
	}
	return res, rows.Err()
}
