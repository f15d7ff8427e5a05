package rawr

import (
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"

	"github.com/wegman-software/tilequeue-go/internal/coord"
)

// Meta is passed to layer functions alongside each feature
type Meta struct {
	Source string
	OSM    *OSM
}

// MinZoomFunc returns the zoom a feature first appears at in a layer.
// ok=false leaves the feature out of the layer at every zoom.
type MinZoomFunc func(shape ShapeType, props map[string]any, id int64, meta Meta) (minZoom float64, ok bool)

// PropsFunc derives the layer properties of a feature. It must not modify props.
type PropsFunc func(shape ShapeType, props map[string]any, id int64, meta Meta) map[string]any

// LayerInfo describes one output layer
type LayerInfo struct {
	Name       string
	MinZoom    MinZoomFunc
	Props      PropsFunc
	ShapeTypes []ShapeType // nil allows every shape
}

// Allows reports whether shape may appear in the layer
func (l LayerInfo) Allows(shape ShapeType) bool {
	if l.ShapeTypes == nil {
		return true
	}
	for _, s := range l.ShapeTypes {
		if s == shape {
			return true
		}
	}
	return false
}

// Pyramid is the top-level tile an index covers and the deepest zoom it answers
type Pyramid struct {
	Top     coord.Coord
	MaxZoom int
}

// Bounds returns the mercator footprint of the top tile
func (p Pyramid) Bounds() orb.Bound {
	return coord.Bounds(p.Top)
}

type indexEntry struct {
	seq     int
	feature *Feature
	minZoom float64
}

// FeatureTileIndex holds the features of one layer, each stored in the
// tiles at the zoom it first becomes visible.
type FeatureTileIndex struct {
	pyramid Pyramid
	layer   LayerInfo
	meta    Meta
	added   int
	// tiles by zoom, then by coordinate
	tiles map[int]map[coord.Coord][]indexEntry
}

// NewFeatureTileIndex returns an empty index for layer over pyramid
func NewFeatureTileIndex(pyramid Pyramid, layer LayerInfo, meta Meta) *FeatureTileIndex {
	return &FeatureTileIndex{
		pyramid: pyramid,
		layer:   layer,
		meta:    meta,
		tiles:   make(map[int]map[coord.Coord][]indexEntry),
	}
}

// Layer returns the layer this index serves
func (idx *FeatureTileIndex) Layer() LayerInfo {
	return idx.layer
}

// Add stores f in every tile at its visible zoom that its bounds touch.
// Features the layer rejects are dropped.
func (idx *FeatureTileIndex) Add(f *Feature) {
	if !idx.layer.Allows(f.Shape) {
		return
	}
	meta := idx.meta
	meta.Source = f.Source
	minZoom, ok := idx.layer.MinZoom(f.Shape, f.Props, f.ID, meta)
	if !ok {
		return
	}

	z := int(math.Floor(minZoom))
	z = max(z, idx.pyramid.Top.Zoom)
	z = min(z, idx.pyramid.MaxZoom)

	b, ok := intersection(f.Bound, idx.pyramid.Bounds())
	if !ok {
		return
	}
	entry := indexEntry{seq: idx.added, feature: f, minZoom: minZoom}
	idx.added++
	level := idx.tiles[z]
	if level == nil {
		level = make(map[coord.Coord][]indexEntry)
		idx.tiles[z] = level
	}
	for c := range coord.TileRange(b, z).Coords() {
		if !idx.pyramid.Top.Contains(c) {
			continue
		}
		level[c] = append(level[c], entry)
	}
}

func intersection(a, b orb.Bound) (orb.Bound, bool) {
	if !a.Intersects(b) {
		return orb.Bound{}, false
	}
	return orb.Bound{
		Min: orb.Point{math.Max(a.Min[0], b.Min[0]), math.Max(a.Min[1], b.Min[1])},
		Max: orb.Point{math.Min(a.Max[0], b.Max[0]), math.Min(a.Max[1], b.Max[1])},
	}, true
}

// footprintSlack tolerates float error at the edges of the top tile
const footprintSlack = 1e-6

// Lookup returns the features visible at zoom inside bounds. Each feature is
// returned once. Querying outside the pyramid panics.
func (idx *FeatureTileIndex) Lookup(zoom int, bounds orb.Bound) []*Feature {
	entries := idx.lookup(zoom, bounds)
	out := make([]*Feature, len(entries))
	for i, e := range entries {
		out[i] = e.feature
	}
	return out
}

func (idx *FeatureTileIndex) lookup(zoom int, bounds orb.Bound) []indexEntry {
	p := idx.pyramid
	if zoom < p.Top.Zoom || zoom > p.MaxZoom {
		panic(fmt.Sprintf("rawr: query zoom %d outside pyramid %s..%d", zoom, p.Top, p.MaxZoom))
	}
	top := p.Bounds()
	if bounds.Min[0] < top.Min[0]-footprintSlack || bounds.Min[1] < top.Min[1]-footprintSlack ||
		bounds.Max[0] > top.Max[0]+footprintSlack || bounds.Max[1] > top.Max[1]+footprintSlack {
		panic(fmt.Sprintf("rawr: query bounds %v outside pyramid %s", bounds, p.Top))
	}

	// A stored tile is visible when it is the query tile or one of its
	// ancestors, i.e. when it lies in the query range at its own zoom.
	seen := make(map[*Feature]struct{})
	var out []indexEntry
	collect := func(entries []indexEntry) {
		for _, e := range entries {
			if _, dup := seen[e.feature]; dup {
				continue
			}
			seen[e.feature] = struct{}{}
			out = append(out, e)
		}
	}
	for z := p.Top.Zoom; z <= zoom; z++ {
		level := idx.tiles[z]
		if len(level) == 0 {
			continue
		}
		r := coord.TileRange(bounds, z)
		if r.Count() <= len(level) {
			for c := range r.Coords() {
				collect(level[c])
			}
			continue
		}
		for c, entries := range level {
			if r.Contains(c) {
				collect(entries)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
