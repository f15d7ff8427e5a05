// Package store reads and writes rendered tiles keyed by layer, format and
// coordinate.
package store

import (
	"context"
	"fmt"
	"path"

	"github.com/wegman-software/tilequeue-go/internal/coord"
	"github.com/wegman-software/tilequeue-go/internal/format"
)

// Store persists tile payloads. ReadTile returns nil, nil for a missing tile.
type Store interface {
	WriteTile(ctx context.Context, layer string, f format.Format, c coord.Coord, data []byte) error
	ReadTile(ctx context.Context, layer string, f format.Format, c coord.Coord) ([]byte, error)
}

// TilePath is the relative location of a tile: layer/z/x/y.ext
func TilePath(layer string, f format.Format, c coord.Coord) string {
	return path.Join(layer, fmt.Sprint(c.Zoom), fmt.Sprint(c.Column), fmt.Sprintf("%d.%s", c.Row, f.Extension))
}
