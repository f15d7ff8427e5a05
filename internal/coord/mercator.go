package coord

import (
	"iter"
	"math"

	"github.com/paulmach/orb"
)

// Web Mercator half-extent in meters
const MaxExtent = 20037508.342789244

// boundsEpsilon absorbs float error when a bound sits exactly on a tile edge
const boundsEpsilon = 1e-7

// LonLatToMercator projects WGS84 to EPSG:3857.
func LonLatToMercator(lon, lat float64) (x, y float64) {
	x = lon * MaxExtent / 180.0
	y = math.Log(math.Tan((90.0+lat)*math.Pi/360.0)) / (math.Pi / 180.0)
	y = y * MaxExtent / 180.0
	return x, y
}

// MercatorToLonLat is the inverse of LonLatToMercator.
func MercatorToLonLat(x, y float64) (lon, lat float64) {
	lon = x / MaxExtent * 180.0
	lat = y / MaxExtent * 180.0
	lat = 180.0 / math.Pi * (2*math.Atan(math.Exp(lat*math.Pi/180.0)) - math.Pi/2.0)
	return lon, lat
}

// Bounds returns the tile footprint in mercator meters.
func Bounds(c Coord) orb.Bound {
	size := 2 * MaxExtent / float64(int64(1)<<c.Zoom)
	minX := -MaxExtent + float64(c.Column)*size
	maxY := MaxExtent - float64(c.Row)*size
	return orb.Bound{
		Min: orb.Point{minX, maxY - size},
		Max: orb.Point{minX + size, maxY},
	}
}

// PadBounds grows b around its center so each side is factor times longer.
func PadBounds(b orb.Bound, factor float64) orb.Bound {
	dx := 0.5 * (b.Max[0] - b.Min[0]) * (factor - 1)
	dy := 0.5 * (b.Max[1] - b.Min[1]) * (factor - 1)
	return orb.Bound{
		Min: orb.Point{b.Min[0] - dx, b.Min[1] - dy},
		Max: orb.Point{b.Max[0] + dx, b.Max[1] + dy},
	}
}

// Range is an inclusive rectangle of tiles at one zoom
type Range struct {
	Zoom           int
	MinCol, MaxCol int
	MinRow, MaxRow int
}

// TileRange returns the tiles at zoom that intersect b. A bound lying on a
// tile edge does not pull in the neighbouring tile.
func TileRange(b orb.Bound, zoom int) Range {
	n := 1 << zoom
	size := 2 * MaxExtent / float64(n)

	minCol := int(math.Floor((b.Min[0]+MaxExtent)/size + boundsEpsilon))
	maxCol := int(math.Ceil((b.Max[0]+MaxExtent)/size-boundsEpsilon)) - 1
	minRow := int(math.Floor((MaxExtent-b.Max[1])/size + boundsEpsilon))
	maxRow := int(math.Ceil((MaxExtent-b.Min[1])/size-boundsEpsilon)) - 1

	minCol, maxCol = clampPair(minCol, maxCol, n)
	minRow, maxRow = clampPair(minRow, maxRow, n)

	return Range{Zoom: zoom, MinCol: minCol, MaxCol: maxCol, MinRow: minRow, MaxRow: maxRow}
}

func clampPair(lo, hi, n int) (int, int) {
	lo = min(max(lo, 0), n-1)
	hi = min(max(hi, 0), n-1)
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// Count returns the number of tiles in the range
func (r Range) Count() int {
	return (r.MaxCol - r.MinCol + 1) * (r.MaxRow - r.MinRow + 1)
}

// Coords yields every tile in the range
func (r Range) Coords() iter.Seq[Coord] {
	return func(yield func(Coord) bool) {
		for x := r.MinCol; x <= r.MaxCol; x++ {
			for y := r.MinRow; y <= r.MaxRow; y++ {
				if !yield(Coord{Zoom: r.Zoom, Column: x, Row: y}) {
					return
				}
			}
		}
	}
}

// Contains reports whether c lies in the range
func (r Range) Contains(c Coord) bool {
	return c.Zoom == r.Zoom && c.Column >= r.MinCol && c.Column <= r.MaxCol &&
		c.Row >= r.MinRow && c.Row <= r.MaxRow
}
