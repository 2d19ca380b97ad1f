package catalog

import (
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"route-eta/internal/transit"
)

// File is the YAML layout accepted by LoadFile:
//
//	lines:
//	  - id: troncal_c
//	    directions:
//	      - id: norte_sur
//	        stops:
//	          - {id: central, name: Estación Central, lat: -12.05749, lon: -77.03599}
type File struct {
	Lines []FileLine `yaml:"lines" validate:"required,min=1,dive"`
}

type FileLine struct {
	ID         string          `yaml:"id" validate:"required"`
	Directions []FileDirection `yaml:"directions" validate:"required,min=1,dive"`
}

type FileDirection struct {
	ID    string     `yaml:"id" validate:"required"`
	Stops []FileStop `yaml:"stops" validate:"required,min=1,dive"`
}

type FileStop struct {
	ID   string  `yaml:"id" validate:"required"`
	Name string  `yaml:"name"`
	Lat  float64 `yaml:"lat" validate:"gte=-90,lte=90"`
	Lon  float64 `yaml:"lon" validate:"gte=-180,lte=180"`
}

// LoadFile reads a YAML route file and builds a Catalog from it.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open routes file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func Load(r io.Reader) (*Catalog, error) {
	var file File
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode routes file: %w", err)
	}
	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("validate routes file: %w", err)
	}
	return New(file.Routes())
}

func (f File) Routes() []transit.Route {
	var routes []transit.Route
	for _, l := range f.Lines {
		for _, d := range l.Directions {
			stops := make([]transit.Stop, len(d.Stops))
			for i, s := range d.Stops {
				name := s.Name
				if name == "" {
					name = s.ID
				}
				stops[i] = transit.Stop{ID: s.ID, Name: name, Lat: s.Lat, Lon: s.Lon}
			}
			routes = append(routes, transit.Route{Key: transit.NewRouteKey(l.ID, d.ID), Stops: stops})
		}
	}
	return routes
}
