package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"route-eta/internal/httpapi"
	"route-eta/internal/metrics"
	"route-eta/internal/natsbus"
	"route-eta/internal/service"
	"route-eta/internal/sim"
	"route-eta/internal/transit"
)

func (a *app) serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API, optional NATS ingestion and optional in-process simulator",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "sim-vehicles",
				Usage: "number of simulated vehicles fed into the service (overrides SIM_VEHICLES)",
				Value: -1,
			},
		},
		Action: func(c *cli.Context) error {
			n := a.cfg.SimVehicles
			if c.Int("sim-vehicles") >= 0 {
				n = c.Int("sim-vehicles")
			}
			return a.serve(c.Context, n)
		},
	}
}

func (a *app) serve(ctx context.Context, simVehicles int) error {
	cfg := a.cfg
	gin.SetMode(gin.ReleaseMode)

	cat, err := a.loadCatalog(ctx)
	if err != nil {
		return err
	}

	mcol := metrics.NewCollector(cfg.GeofenceRadius, cfg.HeuristicSpeedKmh, cfg.SpeedMultiplier, cfg.PublishInterval)
	observers := []service.Observer{mcol}

	var bus *natsbus.Bus
	if cfg.NATSURL != "" {
		bus, err = natsbus.Connect(cfg.NATSURL, "route-eta", cfg.LogNATSSubjects, wrapBusMetrics(mcol))
		if err != nil {
			return err
		}
		defer bus.Close()
		observers = append(observers, natsbus.NewTransitionPublisher(bus, cfg.NATSTransitionPrefix))
	}

	svc, err := service.New(service.Options{
		Catalog:           cat,
		GeofenceRadius:    cfg.GeofenceRadius,
		DefaultRoute:      transit.NewRouteKey(cfg.DefaultLineID, cfg.DefaultDirection),
		HeuristicSpeedKmh: cfg.HeuristicSpeedKmh,
		Shards:            cfg.StateShards,
		Observers:         observers,
	})
	if err != nil {
		return err
	}
	mcol.WatchState(svc.Counts)
	a.serveMetrics(ctx, mcol)

	if bus != nil {
		if err := bus.SubscribeFixes(cfg.NATSFixSubject, svc); err != nil {
			return err
		}
		log.Info().Str("subject", cfg.NATSFixSubject).Msg("consuming fixes from nats")
	}

	var mgr *sim.Manager
	if simVehicles > 0 {
		mgr, err = sim.NewManager(sim.Options{
			Catalog:         cat,
			Sink:            sim.IngestSink(svc),
			PublishInterval: cfg.PublishInterval,
			SpeedMultiplier: cfg.SpeedMultiplier,
			SpeedKmh:        cfg.SimSpeedKmh,
			Dwell:           cfg.SimDwell,
			Metrics:         mcol,
		})
		if err != nil {
			return err
		}
		mgr.Start(ctx, simVehicles)
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(svc, httpapi.Options{
			Metrics:         mcol,
			RateLimitPerSec: cfg.RateLimitPerSec,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.HTTPAddr).
			Str("default_route", svc.DefaultRoute().String()).
			Float64("geofence_m", svc.GeofenceRadius()).
			Msg("http api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if mgr != nil {
			mgr.Stop()
		}
		return err
	}

	if mgr != nil {
		mgr.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	log.Info().Msg("shutdown complete")
	return nil
}
