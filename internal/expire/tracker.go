// Package expire collects the tiles touched by OSM edits.
package expire

import (
	"sync"

	"github.com/paulmach/orb"

	"github.com/wegman-software/tilequeue-go/internal/coord"
	"github.com/wegman-software/tilequeue-go/internal/toi"
)

// MaxMercatorLat is the latitude of the top edge of the tile pyramid
const MaxMercatorLat = 85.0511287798

// Tracker collects expired tiles at a single zoom. It is safe for
// concurrent use.
type Tracker struct {
	zoom int

	mu    sync.Mutex
	tiles toi.Set
}

// NewTracker creates a tracker expiring tiles at zoom
func NewTracker(zoom int) *Tracker {
	return &Tracker{zoom: zoom, tiles: toi.Set{}}
}

// Zoom returns the zoom tiles are expired at
func (t *Tracker) Zoom() int {
	return t.zoom
}

// ExpirePoint expires the tile containing a WGS84 location. Latitudes
// beyond the mercator limit clamp to the edge row.
func (t *Tracker) ExpirePoint(lon, lat float64) {
	lat = min(max(lat, -MaxMercatorLat), MaxMercatorLat)
	lon = min(max(lon, -180), 180)
	x, y := coord.LonLatToMercator(lon, lat)
	t.ExpireBound(orb.Bound{Min: orb.Point{x, y}, Max: orb.Point{x, y}})
}

// ExpireBound expires every tile intersecting a mercator bound
func (t *Tracker) ExpireBound(b orb.Bound) {
	r := coord.TileRange(b, t.zoom)
	t.mu.Lock()
	defer t.mu.Unlock()
	for c := range r.Coords() {
		t.tiles.Add(c)
	}
}

// Len returns the number of distinct expired tiles
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tiles)
}

// Coords returns the expired tiles sorted by packed value
func (t *Tracker) Coords() []coord.Coord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tiles.Coords()
}

// Reset drops every tracked tile
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tiles = toi.Set{}
}

// WriteFile writes the expired tiles as z/x/y lines
func (t *Tracker) WriteFile(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return toi.WriteFile(path, t.tiles)
}
