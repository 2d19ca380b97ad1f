package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"route-eta/internal/metrics"
	"route-eta/internal/natsbus"
	"route-eta/internal/sim"
)

func (a *app) simulateCommand() *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "publish simulated vehicle fixes to NATS",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "vehicles", Usage: "number of vehicles (overrides SIM_VEHICLES)"},
			&cli.DurationFlag{Name: "duration", Usage: "stop after this long; zero runs until interrupted"},
		},
		Action: func(c *cli.Context) error {
			n := a.cfg.SimVehicles
			if c.IsSet("vehicles") {
				n = c.Int("vehicles")
			}
			return a.simulate(c.Context, n, c.Duration("duration"))
		},
	}
}

func (a *app) simulate(ctx context.Context, vehicles int, d time.Duration) error {
	cfg := a.cfg
	if cfg.NATSURL == "" {
		return errors.New("simulate: NATS_URL is required")
	}
	if vehicles <= 0 {
		return errors.New("simulate: at least one vehicle is required")
	}
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	cat, err := a.loadCatalog(ctx)
	if err != nil {
		return err
	}

	mcol := metrics.NewCollector(cfg.GeofenceRadius, cfg.HeuristicSpeedKmh, cfg.SpeedMultiplier, cfg.PublishInterval)
	a.serveMetrics(ctx, mcol)

	bus, err := natsbus.Connect(cfg.NATSURL, "route-eta-simulator", cfg.LogNATSSubjects, wrapBusMetrics(mcol))
	if err != nil {
		return err
	}
	defer bus.Close()

	prefix := natsbus.SubjectPrefix(cfg.NATSFixSubject)
	sink := sim.SinkFunc(func(_ context.Context, r sim.Report) error {
		lat, lon := r.Lat, r.Lon
		return bus.PublishPosition(prefix, natsbus.PositionMessage{
			DeviceID:  r.VehicleID,
			LineID:    r.LineID,
			Direction: r.Direction,
			Timestamp: r.Timestamp,
			Lat:       &lat,
			Lon:       &lon,
			Bearing:   r.Bearing,
			Progress:  r.Progress,
			SpeedMps:  r.SpeedMps,
		})
	})

	mgr, err := sim.NewManager(sim.Options{
		Catalog:         cat,
		Sink:            sink,
		PublishInterval: cfg.PublishInterval,
		SpeedMultiplier: cfg.SpeedMultiplier,
		SpeedKmh:        cfg.SimSpeedKmh,
		Dwell:           cfg.SimDwell,
		Metrics:         mcol,
	})
	if err != nil {
		return err
	}
	mgr.Start(ctx, vehicles)
	log.Info().
		Int("vehicles", mgr.Running()).
		Str("prefix", prefix).
		Msg("simulation started")

	<-ctx.Done()
	mgr.Stop()
	log.Info().Msg("simulation stopped")
	return nil
}
