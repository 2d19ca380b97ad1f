package catalog

import (
	"fmt"

	"route-eta/internal/transit"
)

// Lima Metropolitano BRT stations shared by the built-in lines.
var limaStations = []transit.Stop{
	{ID: "ramon_castilla", Name: "Estación Ramón Castilla", Lat: -12.04345, Lon: -77.04190},
	{ID: "tacna", Name: "Estación Tacna", Lat: -12.04626, Lon: -77.03718},
	{ID: "jiron_union", Name: "Estación Jirón de la Unión", Lat: -12.04822, Lon: -77.03300},
	{ID: "colmena", Name: "Estación Colmena", Lat: -12.04873, Lon: -77.03287},
	{ID: "central", Name: "Estación Central", Lat: -12.05749, Lon: -77.03599},
	{ID: "estadio_nacional", Name: "Estación Estadio Nacional", Lat: -12.06836, Lon: -77.03220},
	{ID: "mexico", Name: "Estación México", Lat: -12.07646, Lon: -77.02893},
	{ID: "canada", Name: "Estación Canadá", Lat: -12.08147, Lon: -77.02660},
	{ID: "javier_prado", Name: "Estación Javier Prado", Lat: -12.09031, Lon: -77.02268},
	{ID: "canaval_moreyra", Name: "Estación Canaval y Moreyra", Lat: -12.09587, Lon: -77.02510},
	{ID: "aramburu", Name: "Estación Aramburú", Lat: -12.10192, Lon: -77.02723},
	{ID: "domingo_orue", Name: "Estación Domingo Orué", Lat: -12.10820, Lon: -77.02645},
	{ID: "angamos", Name: "Estación Angamos", Lat: -12.11314, Lon: -77.02596},
	{ID: "ricardo_palma", Name: "Estación Ricardo Palma", Lat: -12.11820, Lon: -77.02582},
	{ID: "benavides", Name: "Estación Benavides", Lat: -12.12453, Lon: -77.02434},
	{ID: "28_de_julio", Name: "Estación 28 de Julio", Lat: -12.12887, Lon: -77.02279},
	{ID: "plaza_de_flores", Name: "Estación Plaza de Flores", Lat: -12.13527, Lon: -77.01871},
	{ID: "balta", Name: "Estación Balta", Lat: -12.13552, Lon: -77.01868},
	{ID: "bulevar", Name: "Estación Bulevar", Lat: -12.14799, Lon: -77.02015},
	{ID: "estadio_union", Name: "Estación Estadio Unión", Lat: -12.15300, Lon: -77.01971},
	{ID: "escuela_militar", Name: "Estación Escuela Militar", Lat: -12.15945, Lon: -77.01890},
	{ID: "teran", Name: "Estación Terán", Lat: -12.16845, Lon: -77.01870},
	{ID: "plaza_lima_sur", Name: "Estación Plaza Lima Sur", Lat: -12.17337, Lon: -77.01478},
	{ID: "matellini", Name: "Estación Matellini", Lat: -12.17857, Lon: -77.00999},
}

// Each direction is listed on its own; they are not derived from each other.
var limaRoutes = []struct {
	line, dir string
	stops     []string
}{
	{"troncal_c", "norte_sur", []string{
		"ramon_castilla", "tacna", "jiron_union", "colmena", "central", "estadio_nacional",
		"mexico", "canada", "javier_prado", "canaval_moreyra", "aramburu", "domingo_orue",
		"angamos", "ricardo_palma", "benavides", "28_de_julio", "plaza_de_flores", "balta",
		"bulevar", "estadio_union", "escuela_militar", "teran", "plaza_lima_sur", "matellini",
	}},
	{"troncal_c", "sur_norte", []string{
		"matellini", "plaza_lima_sur", "teran", "escuela_militar", "estadio_union", "bulevar",
		"balta", "plaza_de_flores", "28_de_julio", "benavides", "ricardo_palma", "angamos",
		"domingo_orue", "aramburu", "canaval_moreyra", "javier_prado", "canada", "mexico",
		"estadio_nacional", "central", "colmena", "jiron_union", "tacna", "ramon_castilla",
	}},
	{"expreso_1", "norte_sur", []string{
		"central", "estadio_nacional", "javier_prado", "canaval_moreyra", "angamos",
		"28_de_julio", "balta", "estadio_union", "teran", "matellini",
	}},
	{"expreso_1", "sur_norte", []string{
		"matellini", "teran", "estadio_union", "balta", "28_de_julio", "angamos",
		"canaval_moreyra", "javier_prado", "estadio_nacional", "central",
	}},
}

// BuiltinRoutes returns the Lima Metropolitano trunk line C and express 1
// in both directions.
func BuiltinRoutes() []transit.Route {
	byID := make(map[string]transit.Stop, len(limaStations))
	for _, s := range limaStations {
		byID[s.ID] = s
	}

	routes := make([]transit.Route, 0, len(limaRoutes))
	for _, r := range limaRoutes {
		stops := make([]transit.Stop, 0, len(r.stops))
		for _, id := range r.stops {
			s, ok := byID[id]
			if !ok {
				panic(fmt.Sprintf("catalog: built-in route %s/%s references unknown station %q", r.line, r.dir, id))
			}
			stops = append(stops, s)
		}
		routes = append(routes, transit.Route{Key: transit.NewRouteKey(r.line, r.dir), Stops: stops})
	}
	return routes
}

// Builtin builds a Catalog from BuiltinRoutes.
func Builtin() *Catalog {
	c, err := New(BuiltinRoutes())
	if err != nil {
		panic(fmt.Sprintf("catalog: built-in routes are invalid: %v", err))
	}
	return c
}
