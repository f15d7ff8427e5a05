package metatile

import (
	"fmt"
	"math/bits"
	"sort"

	"github.com/wegman-software/tilequeue-go/internal/coord"
)

// BaseTileSize is the pixel size of a tile at its own zoom
const BaseTileSize = 256

// ZoomFromSize converts a metatile size (tiles per side) to its zoom span.
// Zero means unset and maps to zoom 0.
func ZoomFromSize(size int) (int, error) {
	if size == 0 {
		return 0, nil
	}
	if size < 0 || !isPowerOfTwo(size) {
		return 0, fmt.Errorf("metatile size %d must be a power of two", size)
	}
	return bits.TrailingZeros(uint(size)), nil
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// sizeZoom is log2(tileSize / 256)
func sizeZoom(tileSize int) int {
	return bits.TrailingZeros(uint(tileSize / BaseTileSize))
}

func checkTileSize(tileSize, metatileZoom int) {
	if tileSize < BaseTileSize || tileSize > BaseTileSize<<metatileZoom || !isPowerOfTwo(tileSize) {
		panic(fmt.Sprintf("metatile: tile size %d not valid for metatile zoom %d", tileSize, metatileZoom))
	}
}

// SizesByZoom returns, per nominal zoom, the tile sizes cut from the metatile
// whose top-left tile is c.
//
// The metatile's own nominal zoom gets the configured sizes. When that zoom
// reaches maxZoom it also gets every halving down to 256. A metatile at zoom 0
// additionally covers the nominal zooms below its own with the configured
// sizes that fit (a 512px tile cannot be nominal zoom 0). Those are filled
// from nominal zoom 0 upward and only onto tile zooms nothing else is cut at,
// so no two cuts share a coordinate.
func SizesByZoom(c coord.Coord, metatileZoom int, tileSizes []int, maxZoom int) map[int][]int {
	for _, s := range tileSizes {
		checkTileSize(s, metatileZoom)
	}

	nominal := c.Zoom + metatileZoom
	top := append([]int(nil), tileSizes...)
	if nominal >= maxZoom && len(top) > 0 {
		smallest := top[0]
		for _, s := range top {
			smallest = min(smallest, s)
		}
		for smallest > BaseTileSize {
			smallest /= 2
			top = append(top, smallest)
		}
	}

	byZoom := map[int][]int{nominal: top}
	if c.Zoom != 0 {
		return byZoom
	}

	taken := make(map[int]bool)
	for _, s := range top {
		taken[nominal-sizeZoom(s)] = true
	}
	for z := 0; z < nominal; z++ {
		var sizes []int
		for _, s := range tileSizes {
			at := z - sizeZoom(s)
			if at < 0 || taken[at] {
				continue
			}
			taken[at] = true
			sizes = append(sizes, s)
		}
		if len(sizes) > 0 {
			byZoom[z] = sizes
		}
	}
	return byZoom
}

// ChildrenWithSize returns the tiles cut from the metatile at c so that each
// tileSize-pixel tile represents nominalZoom.
func ChildrenWithSize(c coord.Coord, metatileZoom, nominalZoom, tileSize int) []coord.Coord {
	checkTileSize(tileSize, metatileZoom)
	zoom := nominalZoom - sizeZoom(tileSize)
	if zoom < c.Zoom {
		panic(fmt.Sprintf("metatile: %dpx tile at nominal zoom %d is above %s", tileSize, nominalZoom, c))
	}
	if zoom == c.Zoom {
		return []coord.Coord{c}
	}
	return coord.ChildrenSubrange(c, zoom, zoom)
}

// Cut is one tile produced from a metatile
type Cut struct {
	Coord       coord.Coord
	NominalZoom int
	TileSize    int
}

// CutCoordsByZoom lists, per nominal zoom, every tile cut from the metatile at c.
func CutCoordsByZoom(c coord.Coord, metatileZoom int, tileSizes []int, maxZoom int) map[int][]coord.Coord {
	out := make(map[int][]coord.Coord)
	for _, cut := range Cuts(c, metatileZoom, tileSizes, maxZoom) {
		out[cut.NominalZoom] = append(out[cut.NominalZoom], cut.Coord)
	}
	return out
}

// Cuts is CutCoordsByZoom flattened, keeping the tile size of each cut.
// Cuts are ordered by nominal zoom, then by descending size. Every cut has
// its own coordinate; a collision panics.
func Cuts(c coord.Coord, metatileZoom int, tileSizes []int, maxZoom int) []Cut {
	byZoom := SizesByZoom(c, metatileZoom, tileSizes, maxZoom)
	zooms := make([]int, 0, len(byZoom))
	for z := range byZoom {
		zooms = append(zooms, z)
	}
	sort.Ints(zooms)

	var cuts []Cut
	seen := make(map[coord.Coord]Cut)
	for _, z := range zooms {
		sizes := append([]int(nil), byZoom[z]...)
		sort.Sort(sort.Reverse(sort.IntSlice(sizes)))
		for _, s := range sizes {
			for _, child := range ChildrenWithSize(c, metatileZoom, z, s) {
				if prev, ok := seen[child]; ok {
					panic(fmt.Sprintf("metatile: %s cut as %dpx at nominal zoom %d and %dpx at nominal zoom %d",
						child, prev.TileSize, prev.NominalZoom, s, z))
				}
				cut := Cut{Coord: child, NominalZoom: z, TileSize: s}
				seen[child] = cut
				cuts = append(cuts, cut)
			}
		}
	}
	return cuts
}
