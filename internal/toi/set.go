// Package toi holds the tiles-of-interest set: the coordinates worth
// rendering, stored as packed integers.
package toi

import (
	"slices"

	"github.com/wegman-software/tilequeue-go/internal/coord"
)

// Set is a set of packed coordinates
type Set map[int64]struct{}

// NewSet returns a set holding coords
func NewSet(coords ...coord.Coord) Set {
	s := make(Set, len(coords))
	for _, c := range coords {
		s.Add(c)
	}
	return s
}

// Add inserts c
func (s Set) Add(c coord.Coord) {
	s[coord.MarshalInt(c)] = struct{}{}
}

// Len returns the number of coordinates
func (s Set) Len() int { return len(s) }

// Contains reports whether c is in the set
func (s Set) Contains(c coord.Coord) bool {
	if !c.Valid() {
		return false
	}
	_, ok := s[coord.MarshalInt(c)]
	return ok
}

// ContainsInt reports whether the packed coordinate v is in the set
func (s Set) ContainsInt(v int64) bool {
	_, ok := s[v]
	return ok
}

// Sorted returns the packed coordinates in ascending order
func (s Set) Sorted() []int64 {
	out := make([]int64, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Coords unpacks the set in ascending packed order
func (s Set) Coords() []coord.Coord {
	sorted := s.Sorted()
	out := make([]coord.Coord, len(sorted))
	for i, v := range sorted {
		out[i] = coord.UnmarshalInt(v)
	}
	return out
}

// CountByZoom returns the number of coordinates at each zoom
func (s Set) CountByZoom() map[int]int {
	counts := make(map[int]int)
	for v := range s {
		counts[coord.IntZoom(v)]++
	}
	return counts
}
