package style

import "github.com/wegman-software/tilequeue-go/internal/rawr"

func zoom(z float64) *float64 { return &z }

// DefaultConfig returns constant-zoom layers keyed on common OSM tags. It
// needs no Lua.
func DefaultConfig() *Config {
	return &Config{
		Layers: []LayerConfig{
			{
				Name: rawr.LayerWater, ShapeTypes: []string{"polygon", "line"}, MinZoom: zoom(0),
				Filter: &FilterConfig{Include: map[string][]string{
					"natural": {"water", "coastline"}, "waterway": nil, "water": nil,
				}},
			},
			{
				Name: rawr.LayerLanduse, ShapeTypes: []string{"polygon"}, MinZoom: zoom(9),
				Filter: &FilterConfig{RequireAny: []string{"landuse", "leisure", "natural"},
					Exclude: map[string][]string{"natural": {"water", "coastline"}}},
			},
			{
				Name: rawr.LayerBuildings, ShapeTypes: []string{"polygon"}, MinZoom: zoom(13),
				Filter: &FilterConfig{Exclude: map[string][]string{"building": {"no"}},
					RequireAny: []string{"building", "building:part"}},
			},
			{
				Name: rawr.LayerRoads, ShapeTypes: []string{"line"}, MinZoom: zoom(5),
				Filter: &FilterConfig{RequireAny: []string{"highway", "railway"}},
			},
			{
				Name: rawr.LayerPois, ShapeTypes: []string{"point"}, MinZoom: zoom(12),
				Filter: &FilterConfig{RequireAny: []string{"amenity", "shop", "tourism", "railway", "public_transport"}},
			},
			{
				Name: "places", ShapeTypes: []string{"point"}, MinZoom: zoom(2),
				Filter: &FilterConfig{RequireAny: []string{"place"}},
			},
		},
		LabelPlacementLayers: map[string][]string{
			"polygon": {rawr.LayerLanduse, rawr.LayerBuildings, rawr.LayerWater},
		},
	}
}
