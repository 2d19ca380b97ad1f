package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"route-eta/internal/catalog"
	"route-eta/internal/config"
	"route-eta/internal/db"
	"route-eta/internal/logging"
	"route-eta/internal/metrics"
	"route-eta/internal/natsbus"
)

type app struct {
	cfg *config.Config
}

func main() {
	a := &app{}
	cliApp := &cli.App{
		Name:  "route-eta",
		Usage: "track vehicles along fixed routes and estimate stop-to-stop arrival times",
		Before: func(*cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Setup(cfg.LogFormat, cfg.LogLevel)
			a.cfg = cfg
			return nil
		},
		Commands: []*cli.Command{
			a.serveCommand(),
			a.etaCommand(),
			a.routesCommand(),
			a.simulateCommand(),
		},
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Send()
	}
}

// loadCatalog builds the route catalog from the configured source.
func (a *app) loadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	switch a.cfg.CatalogSource {
	case config.SourceFile:
		cat, err := catalog.LoadFile(a.cfg.RoutesFile)
		if err != nil {
			return nil, err
		}
		log.Info().Str("file", a.cfg.RoutesFile).Int("routes", len(cat.Routes())).Msg("catalog loaded")
		return cat, nil
	case config.SourcePostgres:
		loadCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		routes, err := db.LoadRoutes(loadCtx, a.cfg.DatabaseURL, a.cfg.City)
		if err != nil {
			return nil, fmt.Errorf("load routes from database: %w", err)
		}
		cat, err := catalog.New(routes)
		if err != nil {
			return nil, err
		}
		log.Info().Str("city", a.cfg.City).Int("routes", len(cat.Routes())).Msg("catalog loaded")
		return cat, nil
	default:
		return catalog.Builtin(), nil
	}
}

// serveMetrics starts the Prometheus listener when METRICS_ADDR is set and
// shuts it down when ctx ends.
func (a *app) serveMetrics(ctx context.Context, mcol *metrics.Collector) {
	if a.cfg.MetricsAddr == "" {
		return
	}
	srv := mcol.Serve(a.cfg.MetricsAddr)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// wrapBusMetrics adapts the Collector to the natsbus.Metrics interface.
func wrapBusMetrics(c *metrics.Collector) natsbus.Metrics {
	if c == nil {
		return nil
	}
	return &busMetrics{c: c}
}

type busMetrics struct{ c *metrics.Collector }

func (b *busMetrics) NATSPublishedInc()              { b.c.NATSPublished.Inc() }
func (b *busMetrics) NATSPublishErrInc()             { b.c.NATSPublishErrs.Inc() }
func (b *busMetrics) NATSReceivedInc()               { b.c.NATSReceived.Inc() }
func (b *busMetrics) NATSDecodeErrInc()              { b.c.NATSDecodeErrs.Inc() }
func (b *busMetrics) PublishObserve(d time.Duration) { b.c.PublishDuration.Observe(d.Seconds()) }
func (b *busMetrics) NATSSetConnected(ok bool) {
	if ok {
		b.c.NATSConnected.Set(1)
	} else {
		b.c.NATSConnected.Set(0)
	}
}
