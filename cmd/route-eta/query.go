package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"route-eta/internal/geo"
	"route-eta/internal/service"
	"route-eta/internal/transit"
)

func (a *app) etaCommand() *cli.Command {
	return &cli.Command{
		Name:  "eta",
		Usage: "print the distance-based ETA between two stops of a route",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "line", Usage: "line id (defaults to DEFAULT_LINE_ID)"},
			&cli.StringFlag{Name: "dir", Usage: "direction (defaults to DEFAULT_DIRECTION)"},
			&cli.StringFlag{Name: "from", Required: true},
			&cli.StringFlag{Name: "to", Required: true},
		},
		Action: func(c *cli.Context) error {
			cat, err := a.loadCatalog(c.Context)
			if err != nil {
				return err
			}
			svc, err := service.New(service.Options{
				Catalog:           cat,
				DefaultRoute:      transit.NewRouteKey(a.cfg.DefaultLineID, a.cfg.DefaultDirection),
				HeuristicSpeedKmh: a.cfg.HeuristicSpeedKmh,
			})
			if err != nil {
				return err
			}

			line, dir := c.String("line"), c.String("dir")
			if line == "" {
				line = svc.DefaultRoute().LineID
			}
			if dir == "" {
				dir = svc.DefaultRoute().Direction
			}
			est, err := svc.ETA(line, dir, c.String("from"), c.String("to"))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(est)
		},
	}
}

func (a *app) routesCommand() *cli.Command {
	return &cli.Command{
		Name:  "routes",
		Usage: "list the routes of the configured catalog",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "line", Usage: "only show this line"},
			&cli.BoolFlag{Name: "stops", Usage: "list every stop"},
		},
		Action: func(c *cli.Context) error {
			cat, err := a.loadCatalog(c.Context)
			if err != nil {
				return err
			}
			only := transit.Normalize(c.String("line"))
			for _, key := range cat.Routes() {
				if only != "" && key.LineID != only {
					continue
				}
				stops, _ := cat.Route(key)
				pts := make([]geo.Point, len(stops))
				for i, s := range stops {
					pts[i] = s.Point()
				}
				fmt.Printf("%-24s %3d stops %8.0f m\n", key, len(stops), geo.PathLength(pts))
				if !c.Bool("stops") {
					continue
				}
				for i, s := range stops {
					name := s.Name
					if strings.TrimSpace(name) == "" {
						name = s.ID
					}
					fmt.Printf("  %3d  %-24s %10.5f %10.5f  %s\n", i+1, s.ID, s.Lat, s.Lon, name)
				}
			}
			return nil
		},
	}
}
