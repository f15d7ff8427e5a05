package rawr

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/wegman-software/tilequeue-go/internal/coord"
)

// mercPoint returns WKB for the center of tile c
func mercPoint(c coord.Coord) []byte {
	return wkb.MustMarshal(coord.Bounds(c).Center())
}

func mercPolygon(b orb.Bound) []byte {
	return wkb.MustMarshal(b.ToPolygon())
}

func stopArea(id int64, kind string, nodes, ways, rels []int64) RelRow {
	parts := append(append(append([]int64(nil), nodes...), ways...), rels...)
	return RelRow{
		ID:     id,
		WayOff: len(nodes),
		RelOff: len(nodes) + len(ways),
		Parts:  parts,
		Tags:   []string{"type", "public_transport", "public_transport", kind},
	}
}

func route(id int64, mode, ref string, nodes, ways, rels []int64) RelRow {
	r := stopArea(id, "", nodes, ways, rels)
	r.Tags = []string{"type", "route", "route", mode, "ref", ref}
	return r
}

func constMinZoom(z float64) MinZoomFunc {
	return func(ShapeType, map[string]any, int64, Meta) (float64, bool) { return z, true }
}

func mustWKB(g orb.Geometry) []byte {
	return wkb.MustMarshal(g)
}
