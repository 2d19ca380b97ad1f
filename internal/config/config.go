package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Catalog sources.
const (
	SourceBuiltin  = "builtin"
	SourceFile     = "file"
	SourcePostgres = "postgres"
)

type Config struct {
	HTTPAddr    string
	MetricsAddr string

	GeofenceRadius    float64
	DefaultLineID     string
	DefaultDirection  string
	HeuristicSpeedKmh float64
	StateShards       int

	CatalogSource string
	RoutesFile    string
	DatabaseURL   string
	City          string

	NATSURL              string
	NATSFixSubject       string
	NATSTransitionPrefix string
	LogNATSSubjects      bool

	RateLimitPerSec float64

	PublishInterval time.Duration
	SpeedMultiplier float64
	SimVehicles     int
	SimSpeedKmh     float64
	SimDwell        time.Duration

	LogFormat string
	LogLevel  string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// HTTP listen address: HTTP_ADDR wins, PORT is accepted for PaaS-style deploys
	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":" + getenvDefault("PORT", "3000")
	}

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	var err error
	if cfg.GeofenceRadius, err = positiveFloat("GEOFENCE_RADIUS_M", 60); err != nil {
		return nil, err
	}
	if cfg.HeuristicSpeedKmh, err = positiveFloat("HEURISTIC_SPEED_KMH", 20); err != nil {
		return nil, err
	}
	cfg.DefaultLineID = getenvDefault("DEFAULT_LINE_ID", "troncal_c")
	cfg.DefaultDirection = getenvDefault("DEFAULT_DIRECTION", "sur_norte")

	if v := os.Getenv("STATE_SHARDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1<<16 {
			return nil, fmt.Errorf("invalid STATE_SHARDS: %q", v)
		}
		cfg.StateShards = n
	} else {
		cfg.StateShards = 32
	}

	// Route catalog source
	cfg.CatalogSource = strings.ToLower(strings.TrimSpace(getenvDefault("CATALOG_SOURCE", SourceBuiltin)))
	switch cfg.CatalogSource {
	case SourceBuiltin:
	case SourceFile:
		cfg.RoutesFile = os.Getenv("ROUTES_FILE")
		if cfg.RoutesFile == "" {
			return nil, errors.New("ROUTES_FILE must be set when CATALOG_SOURCE=file")
		}
	case SourcePostgres:
		dsn, err := databaseURL()
		if err != nil {
			return nil, err
		}
		cfg.DatabaseURL = dsn
	default:
		return nil, fmt.Errorf("invalid CATALOG_SOURCE: %q (want builtin, file or postgres)", cfg.CatalogSource)
	}

	// City name for dynamic DB resolution
	cfg.City = firstNonEmpty(os.Getenv("CITY"), os.Getenv("CITY_NAME"))

	// NATS is optional; empty NATS_URL disables ingestion and transition events
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSFixSubject = getenvDefault("NATS_FIX_SUBJECT", "vehicles.>")
	cfg.NATSTransitionPrefix = strings.Trim(getenvDefault("NATS_TRANSITION_PREFIX", "segments"), ".")
	cfg.LogNATSSubjects = parseBool(os.Getenv("LOG_NATS_SUBJECTS"))

	if v := os.Getenv("RATE_LIMIT_PER_SEC"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_PER_SEC: %q", v)
		}
		cfg.RateLimitPerSec = f
	} else {
		cfg.RateLimitPerSec = 50
	}

	// Publish interval
	if v := os.Getenv("PUBLISH_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid PUBLISH_INTERVAL_MS: %q", v)
		}
		cfg.PublishInterval = time.Duration(ms) * time.Millisecond
	} else {
		cfg.PublishInterval = time.Second
	}

	if cfg.SpeedMultiplier, err = positiveFloat("SPEED_MULTIPLIER", 1); err != nil {
		return nil, err
	}
	if cfg.SimSpeedKmh, err = positiveFloat("SIM_SPEED_KMH", 25); err != nil {
		return nil, err
	}

	if v := os.Getenv("SIM_VEHICLES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid SIM_VEHICLES: %q", v)
		}
		cfg.SimVehicles = n
	}

	if v := os.Getenv("SIM_DWELL_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec < 0 {
			return nil, fmt.Errorf("invalid SIM_DWELL_SEC: %q", v)
		}
		cfg.SimDwell = time.Duration(sec) * time.Second
	} else {
		cfg.SimDwell = 20 * time.Second
	}

	cfg.LogFormat = getenvDefault("LOG_FORMAT", "console")
	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")

	return cfg, nil
}

// databaseURL prefers DATABASE_URL / PG_DSN, else builds a DSN from PG* vars.
func databaseURL() (string, error) {
	if dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN")); dsn != "" {
		return dsn, nil
	}
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	db := os.Getenv("PGDATABASE")
	// If CITY is provided, default base DB to 'postgres' when PGDATABASE is not set.
	if db == "" && os.Getenv("CITY") != "" {
		db = "postgres"
	}
	if db == "" {
		return "", errors.New("PGDATABASE or DATABASE_URL must be set (set PGDATABASE=postgres when using CITY)")
	}
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode), nil
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode), nil
}

func positiveFloat(k string, def float64) (float64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return f, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
