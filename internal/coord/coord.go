package coord

import (
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
)

// MaxZoom is the deepest zoom a Coord can be packed at.
const MaxZoom = 31

// ErrInvalid is returned when a z/x/y string does not name a tile.
var ErrInvalid = errors.New("coord: invalid coordinate")

// Coord identifies a tile in the slippy-map quadtree
type Coord struct {
	Zoom   int
	Column int
	Row    int
}

// New returns a coordinate, panicking if it is outside the pyramid
func New(zoom, column, row int) Coord {
	c := Coord{Zoom: zoom, Column: column, Row: row}
	mustValid(c)
	return c
}

// String returns the tile in z/x/y format
func (c Coord) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Zoom, c.Column, c.Row)
}

// Valid reports whether 0 <= column, row < 2^zoom.
func (c Coord) Valid() bool {
	if c.Zoom < 0 || c.Zoom > MaxZoom {
		return false
	}
	n := 1 << c.Zoom
	return c.Column >= 0 && c.Column < n && c.Row >= 0 && c.Row < n
}

func mustValid(c Coord) {
	if !c.Valid() {
		panic(fmt.Sprintf("coord: %s is outside the tile pyramid", c))
	}
}

// ZoomTo moves the coordinate to zoom z (up or down) by shifting column and row.
// Moving down yields the top-left descendant. No range check is made, so
// mapper code can bucket coordinates it later drops.
func (c Coord) ZoomTo(z int) Coord {
	if z == c.Zoom {
		return c
	}
	if z < c.Zoom {
		d := c.Zoom - z
		return Coord{Zoom: z, Column: c.Column >> d, Row: c.Row >> d}
	}
	d := z - c.Zoom
	return Coord{Zoom: z, Column: c.Column << d, Row: c.Row << d}
}

// Parent returns the containing tile one zoom up. Zoom 0 is its own parent.
func (c Coord) Parent() Coord {
	if c.Zoom == 0 {
		return c
	}
	return c.ZoomTo(c.Zoom - 1)
}

// Contains reports whether o is c or one of its descendants.
func (c Coord) Contains(o Coord) bool {
	if o.Zoom < c.Zoom {
		return false
	}
	return o.ZoomTo(c.Zoom) == c
}

// Parse reads a z/x/y string
func Parse(s string) (Coord, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return Coord{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	var vals [3]int
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return Coord{}, fmt.Errorf("%w: %q", ErrInvalid, s)
		}
		vals[i] = int(v)
	}
	c := Coord{Zoom: vals[0], Column: vals[1], Row: vals[2]}
	if !c.Valid() {
		return Coord{}, fmt.Errorf("%w: %q out of range", ErrInvalid, s)
	}
	return c, nil
}

// Children returns the four tiles one zoom down, in the order
// (0,0), (1,0), (0,1), (1,1) relative to the top-left child.
func Children(c Coord) [4]Coord {
	mustValid(c)
	if c.Zoom == MaxZoom {
		panic(fmt.Sprintf("coord: %s has no children", c))
	}
	z, x, y := c.Zoom+1, c.Column*2, c.Row*2
	return [4]Coord{
		{Zoom: z, Column: x, Row: y},
		{Zoom: z, Column: x + 1, Row: y},
		{Zoom: z, Column: x, Row: y + 1},
		{Zoom: z, Column: x + 1, Row: y + 1},
	}
}

// ChildrenRange yields every descendant of c from zoom c.Zoom+1 to untilZoom
// inclusive, zoom by zoom, row-major within a zoom as in Children.
func ChildrenRange(c Coord, untilZoom int) iter.Seq[Coord] {
	return subrange(c, c.Zoom+1, untilZoom)
}

// ChildrenSubrange returns the descendants of c (c itself included when
// fromZoom == c.Zoom) from fromZoom to untilZoom inclusive.
func ChildrenSubrange(c Coord, fromZoom, untilZoom int) []Coord {
	var out []Coord
	for d := range subrange(c, fromZoom, untilZoom) {
		out = append(out, d)
	}
	return out
}

func subrange(c Coord, fromZoom, untilZoom int) iter.Seq[Coord] {
	mustValid(c)
	if untilZoom > MaxZoom {
		panic(fmt.Sprintf("coord: zoom %d exceeds %d", untilZoom, MaxZoom))
	}
	if fromZoom < c.Zoom {
		fromZoom = c.Zoom
	}
	return func(yield func(Coord) bool) {
		for z := fromZoom; z <= untilZoom; z++ {
			top := c.ZoomTo(z)
			side := 1 << (z - c.Zoom)
			for y := top.Row; y < top.Row+side; y++ {
				for x := top.Column; x < top.Column+side; x++ {
					if !yield(Coord{Zoom: z, Column: x, Row: y}) {
						return
					}
				}
			}
		}
	}
}

// CommonParent returns the deepest tile containing both a and b.
func CommonParent(a, b Coord) Coord {
	mustValid(a)
	mustValid(b)
	if a.Zoom > b.Zoom {
		a = a.ZoomTo(b.Zoom)
	} else if b.Zoom > a.Zoom {
		b = b.ZoomTo(a.Zoom)
	}
	for a != b {
		a = a.Parent()
		b = b.Parent()
	}
	return a
}

// CommonParentOf folds CommonParent over coords. It panics on an empty slice.
func CommonParentOf(coords []Coord) Coord {
	if len(coords) == 0 {
		panic("coord: common parent of no coordinates")
	}
	parent := coords[0]
	mustValid(parent)
	for _, c := range coords[1:] {
		parent = CommonParent(parent, c)
	}
	return parent
}

// ParentAtZoom returns the single ancestor at zoom shared by all coords.
// Coords above zoom, or disagreeing ancestors, are an error.
func ParentAtZoom(coords []Coord, zoom int) (Coord, error) {
	if len(coords) == 0 {
		return Coord{}, errors.New("coord: no coordinates")
	}
	var parent Coord
	for i, c := range coords {
		if c.Zoom < zoom {
			return Coord{}, fmt.Errorf("coord: %s is above zoom %d", c, zoom)
		}
		p := c.ZoomTo(zoom)
		if i == 0 {
			parent = p
		} else if p != parent {
			return Coord{}, fmt.Errorf("coord: %s and %s have different parents at zoom %d", coords[0], c, zoom)
		}
	}
	return parent, nil
}

// ExplodeWithParents returns coords plus every ancestor up to zoom 0.
// Walking an ancestor chain stops at the first tile already seen.
func ExplodeWithParents(coords []Coord) map[Coord]struct{} {
	seen := make(map[Coord]struct{}, len(coords)*2)
	for _, c := range coords {
		mustValid(c)
		for {
			if _, ok := seen[c]; ok {
				break
			}
			seen[c] = struct{}{}
			if c.Zoom == 0 {
				break
			}
			c = c.Parent()
		}
	}
	return seen
}
