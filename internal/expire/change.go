package expire

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmxml"
	"go.uber.org/zap"

	"github.com/wegman-software/tilequeue-go/internal/logger"
)

// ChangeStats counts the objects seen in a change file
type ChangeStats struct {
	Nodes     int
	Ways      int
	Relations int
	// Located is the number of nodes that carried a position
	Located int
}

// ExpireChange scans an osmChange document and expires the tile of every
// node position in it. Ways and relations carry no geometry in a change
// file; their edits show up through the nodes that moved.
func (t *Tracker) ExpireChange(ctx context.Context, r io.Reader) (ChangeStats, error) {
	var stats ChangeStats
	scanner := osmxml.New(ctx, r)
	defer scanner.Close()

	for scanner.Scan() {
		switch o := scanner.Object().(type) {
		case *osm.Node:
			stats.Nodes++
			if o.Lat == 0 && o.Lon == 0 {
				continue
			}
			stats.Located++
			t.ExpirePoint(o.Lon, o.Lat)
		case *osm.Way:
			stats.Ways++
		case *osm.Relation:
			stats.Relations++
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("failed to scan change: %w", err)
	}
	return stats, nil
}

// ExpireChangeFile reads an .osc or .osc.gz file
func (t *Tracker) ExpireChangeFile(ctx context.Context, path string) (ChangeStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ChangeStats{}, fmt.Errorf("failed to open change file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return ChangeStats{}, fmt.Errorf("failed to open gzip change file: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	stats, err := t.ExpireChange(ctx, r)
	if err != nil {
		return stats, err
	}
	logger.Get().Info("Expired tiles from change file",
		zap.String("file", path),
		zap.Int("nodes", stats.Nodes),
		zap.Int("ways", stats.Ways),
		zap.Int("relations", stats.Relations),
		zap.Int("zoom", t.zoom),
		zap.Int("tiles", t.Len()))
	return stats, nil
}
