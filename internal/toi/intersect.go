package toi

import (
	"github.com/wegman-software/tilequeue-go/internal/coord"
)

// IntersectMetrics counts what an intersection kept and dropped
type IntersectMetrics struct {
	Total   int
	Hits    int
	Misses  int
	TOISize int
}

// ExplodeAndIntersect expands each packed coordinate with its ancestors down
// to untilZoom and keeps those in the set. Every input and ancestor is
// counted once as a hit or miss.
func ExplodeAndIntersect(coords []int64, s Set, untilZoom int) ([]int64, IntersectMetrics) {
	m := IntersectMetrics{TOISize: len(s)}
	seen := make(map[int64]struct{}, len(coords))
	var out []int64
	for _, v := range coords {
		for {
			if _, ok := seen[v]; ok {
				break
			}
			seen[v] = struct{}{}
			m.Total++
			if s.ContainsInt(v) {
				m.Hits++
				out = append(out, v)
			} else {
				m.Misses++
			}
			if coord.IntZoom(v) <= untilZoom {
				break
			}
			v = coord.IntZoomUp(v)
		}
	}
	return out, m
}

// Intersector narrows expired coordinates to those worth rendering
type Intersector interface {
	Intersect(coords []coord.Coord, untilZoom int) ([]coord.Coord, IntersectMetrics)
}

// SetIntersector intersects against a fixed set
type SetIntersector struct {
	Set Set
}

func (i SetIntersector) Intersect(coords []coord.Coord, untilZoom int) ([]coord.Coord, IntersectMetrics) {
	ints := make([]int64, len(coords))
	for k, c := range coords {
		ints[k] = coord.MarshalInt(c)
	}
	kept, m := ExplodeAndIntersect(ints, i.Set, untilZoom)
	out := make([]coord.Coord, len(kept))
	for k, v := range kept {
		out[k] = coord.UnmarshalInt(v)
	}
	return out, m
}

// AllIntersector keeps every coordinate and no ancestors
type AllIntersector struct{}

func (AllIntersector) Intersect(coords []coord.Coord, _ int) ([]coord.Coord, IntersectMetrics) {
	return coords, IntersectMetrics{Total: len(coords), Hits: len(coords)}
}
