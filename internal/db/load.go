package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"route-eta/internal/transit"
)

// LoadRoutes connects to the GTFS database and reads its routes. When city
// is set, the newest successful import for that city is used instead of the
// database named in dsn.
func LoadRoutes(ctx context.Context, dsn, city string) ([]transit.Route, error) {
	finalDSN := dsn
	if city != "" {
		// Connect to the 'postgres' database to read latest_successful_imports
		rootDSN, err := WithDBName(dsn, "postgres")
		if err != nil {
			return nil, fmt.Errorf("invalid base DSN: %w", err)
		}
		metaDB, err := Open(rootDSN)
		if err != nil {
			return nil, fmt.Errorf("db open (meta): %w", err)
		}
		defer metaDB.Close()
		if err := Ping(ctx, metaDB); err != nil {
			return nil, fmt.Errorf("db ping (meta): %w", err)
		}
		name, err := ResolveLatestImportDBName(ctx, metaDB, city)
		if err != nil {
			return nil, fmt.Errorf("resolve latest import for city %q: %w", city, err)
		}
		if finalDSN, err = WithDBName(dsn, name); err != nil {
			return nil, fmt.Errorf("compose DSN: %w", err)
		}
		log.Info().Str("database", name).Str("city", city).Msg("using city database")
	}

	sqlDB, err := Open(finalDSN)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	defer sqlDB.Close()
	if err := Ping(ctx, sqlDB); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}

	routes, err := FetchRoutes(ctx, sqlDB)
	if err != nil {
		return nil, err
	}
	log.Info().Int("routes", len(routes)).Msg("loaded routes from database")
	return routes, nil
}

// WithDBName returns dsn with its database path replaced by name. Only URL
// style DSNs (postgres:// or postgresql://) are supported.
func WithDBName(dsn, name string) (string, error) {
	if dsn == "" {
		return "", errors.New("empty DSN")
	}
	if !strings.Contains(dsn, "://") {
		dsn = "postgres://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("unsupported DSN scheme %q", u.Scheme)
	}
	u.Path = "/" + strings.TrimPrefix(name, "/")
	return u.String(), nil
}

// ResolveLatestImportDBName returns the db_name with the most recent
// imported_at from public.latest_successful_imports matching city.
func ResolveLatestImportDBName(ctx context.Context, meta *sql.DB, city string) (string, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return "", errors.New("city is required")
	}
	const q = `
SELECT db_name
FROM public.latest_successful_imports
WHERE db_name ILIKE '%' || $1 || '%'
ORDER BY imported_at DESC
LIMIT 1`
	var name sql.NullString
	if err := meta.QueryRowContext(ctx, q, city).Scan(&name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("no database found for city like %q", city)
		}
		return "", err
	}
	if !name.Valid || name.String == "" {
		return "", fmt.Errorf("empty db_name for city like %q", city)
	}
	return name.String, nil
}
