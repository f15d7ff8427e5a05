package rawr

import (
	"maps"
	"slices"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"

	"github.com/wegman-software/tilequeue-go/internal/coord"
)

// Layers with special handling after lookup
const (
	LayerPois      = "pois"
	LayerLanduse   = "landuse"
	LayerBuildings = "buildings"
	LayerRoads     = "roads"
	LayerWater     = "water"
)

// layers that may own a feature's name, highest priority first
var nameOwnerLayers = []string{LayerPois, LayerLanduse, LayerBuildings}

// WaterPadFactor grows the water clip box so coastline edges overlap neighbours
const WaterPadFactor = 1.1

// TileConfig controls how a Tile is built and queried
type TileConfig struct {
	Layers []LayerInfo
	// LabelPlacementLayers lists, per shape type, the layers that get a label point
	LabelPlacementLayers map[ShapeType][]string
}

func (c TileConfig) wantsLabel(shape ShapeType, layer string) bool {
	for _, l := range c.LabelPlacementLayers[shape] {
		if l == layer {
			return true
		}
	}
	return false
}

// Tile answers feature queries for every descendant of one top-level tile.
type Tile struct {
	pyramid Pyramid
	cfg     TileConfig
	osm     *OSM
	indexes []*FeatureTileIndex
}

// NewTile builds the relation graph, then indexes every feature row into
// each layer it belongs to.
func NewTile(pyramid Pyramid, tables *Tables, cfg TileConfig) (*Tile, error) {
	o, features, err := buildOSM(tables)
	if err != nil {
		return nil, err
	}

	t := &Tile{pyramid: pyramid, cfg: cfg, osm: o}
	meta := Meta{OSM: o}
	for _, layer := range cfg.Layers {
		t.indexes = append(t.indexes, NewFeatureTileIndex(pyramid, layer, meta))
	}

	for _, name := range []string{TablePoint, TableLine, TablePolygon} {
		for _, f := range features[name] {
			if f.Shape == 0 {
				continue
			}
			for _, idx := range t.indexes {
				idx.Add(f)
			}
		}
	}
	return t, nil
}

// OSM returns the relation graph of the tile
func (t *Tile) OSM() *OSM {
	return t.osm
}

// Pyramid returns the tile's extent
func (t *Tile) Pyramid() Pyramid {
	return t.pyramid
}

// LayerFeature is one feature as it appears in one layer of an output tile
type LayerFeature struct {
	ID         int64
	Shape      ShapeType
	Geometry   orb.Geometry
	Props      map[string]any
	LabelPoint *orb.Point
}

// LayerFeatures is the content of one layer
type LayerFeatures struct {
	Layer    string
	Features []LayerFeature
}

type layerHit struct {
	layer   int
	entries []indexEntry
}

// Fetch returns, per layer, the features visible at zoom inside bounds,
// clipped to bounds and with derived properties applied.
func (t *Tile) Fetch(zoom int, bounds orb.Bound) []LayerFeatures {
	hits := make([]layerHit, len(t.indexes))
	owners := make(map[*Feature]string)
	for i, idx := range t.indexes {
		hits[i] = layerHit{layer: i, entries: idx.lookup(zoom, bounds)}
		name := idx.layer.Name
		rank := ownerRank(name)
		if rank < 0 {
			continue
		}
		for _, e := range hits[i].entries {
			if cur, ok := owners[e.feature]; !ok || ownerRank(cur) > rank {
				owners[e.feature] = name
			}
		}
	}

	out := make([]LayerFeatures, 0, len(t.indexes))
	for _, h := range hits {
		layer := t.indexes[h.layer].layer
		clipBox := bounds
		if layer.Name == LayerWater {
			clipBox = coord.PadBounds(bounds, WaterPadFactor)
		}

		lf := LayerFeatures{Layer: layer.Name}
		for _, e := range h.entries {
			f := e.feature
			if !f.Bound.Intersects(clipBox) {
				continue
			}
			geom := clip.Geometry(clipBox, f.Geometry)
			if geom == nil || isEmpty(geom) {
				continue
			}

			props := t.layerProps(layer, f, e.minZoom)
			if owner, ok := owners[f]; ok && owner != layer.Name {
				stripNames(props)
			}
			switch layer.Name {
			case LayerPois:
				t.addTransit(f, props)
			case LayerRoads:
				t.addNetworks(f, props, zoom)
			}

			item := LayerFeature{ID: f.ID, Shape: f.Shape, Geometry: geom, Props: props}
			if t.cfg.wantsLabel(f.Shape, layer.Name) {
				item.LabelPoint = labelPoint(f.Geometry)
			}
			lf.Features = append(lf.Features, item)
		}
		out = append(out, lf)
	}
	return out
}

func ownerRank(layer string) int {
	for i, l := range nameOwnerLayers {
		if l == layer {
			return i
		}
	}
	return -1
}

func (t *Tile) layerProps(layer LayerInfo, f *Feature, minZoom float64) map[string]any {
	var props map[string]any
	if layer.Props != nil {
		props = layer.Props(f.Shape, f.Props, f.ID, Meta{Source: f.Source, OSM: t.osm})
	}
	if props == nil {
		props = maps.Clone(f.Props)
	}
	if props == nil {
		props = map[string]any{}
	}
	props["min_zoom"] = minZoom
	return props
}

func isNameKey(k string) bool {
	return k == "name" || strings.HasPrefix(k, "name:") || strings.HasSuffix(k, "_name")
}

func stripNames(props map[string]any) {
	for k := range props {
		if isNameKey(k) {
			delete(props, k)
		}
	}
}

func isEmpty(g orb.Geometry) bool {
	switch v := g.(type) {
	case orb.MultiPoint:
		return len(v) == 0
	case orb.LineString:
		return len(v) == 0
	case orb.MultiLineString:
		return len(v) == 0
	case orb.Polygon:
		return len(v) == 0
	case orb.MultiPolygon:
		return len(v) == 0
	}
	return false
}

func labelPoint(g orb.Geometry) *orb.Point {
	if p, ok := g.(orb.Point); ok {
		return &p
	}
	c, _ := planar.CentroidArea(g)
	var polys orb.MultiPolygon
	switch g := g.(type) {
	case orb.Polygon:
		polys = orb.MultiPolygon{g}
	case orb.MultiPolygon:
		polys = g
	default:
		return &c
	}
	if planar.MultiPolygonContains(polys, c) {
		return &c
	}
	if p, ok := scanlinePoint(polys); ok {
		return &p
	}
	return &c
}

// scanlinePoint returns the middle of the widest inside span along the
// horizontal line through the middle of the bound.
func scanlinePoint(polys orb.MultiPolygon) (orb.Point, bool) {
	y := (polys.Bound().Min[1] + polys.Bound().Max[1]) / 2
	var xs []float64
	for _, poly := range polys {
		for _, ring := range poly {
			for i := 1; i < len(ring); i++ {
				a, b := ring[i-1], ring[i]
				if (a[1] > y) == (b[1] > y) {
					continue
				}
				xs = append(xs, a[0]+(y-a[1])*(b[0]-a[0])/(b[1]-a[1]))
			}
		}
	}
	slices.Sort(xs)

	best, width := orb.Point{}, -1.0
	for i := 0; i+1 < len(xs); i += 2 {
		if w := xs[i+1] - xs[i]; w > width {
			best, width = orb.Point{(xs[i] + xs[i+1]) / 2, y}, w
		}
	}
	return best, width > 0
}

func (t *Tile) addTransit(f *Feature, props map[string]any) {
	if propString(f.Props, "railway") != "station" {
		return
	}
	var node, way, rel int64
	switch {
	case f.ID < 0:
		rel = -f.ID
	case f.Shape == ShapePoint:
		node = f.ID
	default:
		way = f.ID
	}

	res := TransitRoutesAndScore(t.osm, node, way, rel)
	props["mz_transit_score"] = res.Score
	if res.RootRelationID != 0 {
		props["mz_transit_root_relation_id"] = res.RootRelationID
	}
	setRoutes(props, "train_routes", res.TrainRoutes)
	setRoutes(props, "subway_routes", res.SubwayRoutes)
	setRoutes(props, "light_rail_routes", res.LightRailRoutes)
	setRoutes(props, "tram_routes", res.TramRoutes)
	setRoutes(props, "railway_routes", res.RailwayRoutes)
}

func setRoutes(props map[string]any, key string, routes []string) {
	if len(routes) > 0 {
		props[key] = routes
	}
}

var cyclingNetworkRank = map[string]int{"icn": 4, "ncn": 3, "rcn": 2, "lcn": 1}

// busRouteMinZoom is the zoom from which service roads carry is_bus_route
const busRouteMinZoom = 12

func (t *Tile) addNetworks(f *Feature, props map[string]any, zoom int) {
	if f.ID <= 0 || f.Shape != ShapeLine {
		return
	}
	var networks []string
	cycling := ""
	bus := false
	for _, id := range t.osm.RelationsUsingWay(f.ID) {
		r := t.osm.Relation(id)
		if r == nil || r.Tags.Find("type") != "route" {
			continue
		}
		route := r.Tags.Find("route")
		network := r.Tags.Find("network")
		switch route {
		case "road", "bicycle", "hiking", "foot", "walking", "bus", "trolleybus":
			networks = append(networks, route, network, r.Tags.Find("ref"))
		}
		if route == "bicycle" && cyclingNetworkRank[network] > cyclingNetworkRank[cycling] {
			cycling = network
		}
		if route == "bus" || route == "trolleybus" {
			bus = true
		}
	}

	if len(networks) > 0 {
		props["mz_networks"] = networks
	}
	if cycling != "" {
		props["mz_cycling_network"] = cycling
	}
	if bus && (propString(f.Props, "highway") != "service" || zoom >= busRouteMinZoom) {
		props["is_bus_route"] = true
	}
}
