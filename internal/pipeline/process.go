package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/tilequeue-go/internal/coord"
	"github.com/wegman-software/tilequeue-go/internal/format"
	"github.com/wegman-software/tilequeue-go/internal/logger"
	"github.com/wegman-software/tilequeue-go/internal/metatile"
	"github.com/wegman-software/tilequeue-go/internal/metrics"
	"github.com/wegman-software/tilequeue-go/internal/queue"
	"github.com/wegman-software/tilequeue-go/internal/rawr"
	"github.com/wegman-software/tilequeue-go/internal/store"
)

// RenderConfig controls how metatiles are cut and encoded
type RenderConfig struct {
	MetatileZoom int
	TileSizes    []int
	MaxZoom      int
	// GroupZoom is the zoom RAWR tiles are stored at. Jobs above it read
	// from the database source.
	GroupZoom  int
	Layer      string
	Formatters []format.Formatter
	Tile       rawr.TileConfig
}

// TileProcessor renders queued metatile jobs and stores the results
type TileProcessor struct {
	reader   *queue.Reader
	rawr     rawr.TableSource
	database rawr.TableSource
	store    store.Store
	cfg      RenderConfig
	metrics  *metrics.Pipeline

	mu       sync.Mutex
	lastTop  coord.Coord
	lastTile *rawr.Tile
}

// NewTileProcessor creates a processor. rawrSource may be nil, in which case
// every job reads from database.
func NewTileProcessor(r *queue.Reader, rawrSource, database rawr.TableSource, st store.Store, cfg RenderConfig, m *metrics.Pipeline) *TileProcessor {
	if m == nil {
		m = &metrics.Pipeline{}
	}
	return &TileProcessor{
		reader:   r,
		rawr:     rawrSource,
		database: database,
		store:    st,
		cfg:      cfg,
		metrics:  m,
	}
}

// Step reads a batch of jobs and processes them. A failed job is logged and
// left in flight so its message is redelivered.
func (p *TileProcessor) Step(ctx context.Context) (bool, error) {
	jobs, err := p.reader.Read(ctx)
	if err != nil {
		return false, err
	}
	for _, job := range jobs {
		if err := p.Process(ctx, job.Coord); err != nil {
			logger.LogError("Failed to process tile", err, job.Coord)
			p.metrics.AddFailure()
			continue
		}
		if err := p.reader.Done(ctx, job); err != nil {
			logger.LogError("Failed to mark tile done", err, job.Coord)
		}
	}
	return len(jobs) > 0, nil
}

// source picks where the rows for c come from and the top tile they cover
func (p *TileProcessor) source(c coord.Coord) (rawr.TableSource, coord.Coord) {
	if p.rawr != nil && c.Zoom >= p.cfg.GroupZoom {
		return p.rawr, c.ZoomTo(p.cfg.GroupZoom)
	}
	return p.database, c
}

// tile returns the indexed tile for c, reusing the last one when the top
// tile is the same.
func (p *TileProcessor) tile(ctx context.Context, c coord.Coord) (*rawr.Tile, error) {
	src, top := p.source(c)

	p.mu.Lock()
	if p.lastTile != nil && p.lastTop == top {
		t := p.lastTile
		p.mu.Unlock()
		return t, nil
	}
	p.mu.Unlock()

	tables, err := src.Tables(ctx, top)
	if err != nil {
		return nil, err
	}
	t, err := rawr.NewTile(rawr.Pyramid{Top: top, MaxZoom: p.cfg.MaxZoom}, tables, p.cfg.Tile)
	if err != nil {
		return nil, fmt.Errorf("failed to index %s: %w", top, err)
	}

	p.mu.Lock()
	p.lastTop, p.lastTile = top, t
	p.mu.Unlock()
	return t, nil
}

// Render cuts the metatile at c from t, encodes every cut in every format
// and packages the result.
func (p *TileProcessor) Render(c coord.Coord, t *rawr.Tile) ([]metatile.Tile, error) {
	var tiles []metatile.Tile
	for _, ct := range metatile.Cuts(c, p.cfg.MetatileZoom, p.cfg.TileSizes, p.cfg.MaxZoom) {
		layers := t.Fetch(ct.NominalZoom, coord.Bounds(ct.Coord))
		for _, f := range p.cfg.Formatters {
			data, err := f.Encode(ct.Coord, ct.NominalZoom, layers)
			if err != nil {
				return nil, fmt.Errorf("failed to encode %s as %s: %w", ct.Coord, f.Info().Name, err)
			}
			tiles = append(tiles, metatile.Tile{
				Data:   data,
				Coord:  ct.Coord,
				Format: f.Info(),
				Layer:  p.cfg.Layer,
			})
		}
	}
	return metatile.MakeMetatiles(p.cfg.MetatileZoom, tiles, time.Time{})
}

// Process renders the metatile at c and writes it unless the stored copy
// already has the same content.
func (p *TileProcessor) Process(ctx context.Context, c coord.Coord) error {
	t, err := p.tile(ctx, c)
	if err != nil {
		return err
	}
	metatiles, err := p.Render(c, t)
	if err != nil {
		return err
	}

	log := logger.Get()
	for _, mt := range metatiles {
		existing, err := p.store.ReadTile(ctx, mt.Layer, format.Zip, mt.Coord)
		if err != nil {
			log.Warn("Failed to read existing metatile", zap.Stringer("coord", mt.Coord), zap.Error(err))
		}
		if existing != nil && metatile.Equal(existing, mt.Data) {
			p.metrics.AddUnchanged(1)
			log.Debug("Metatile unchanged", zap.Stringer("coord", mt.Coord))
			continue
		}
		if err := p.store.WriteTile(ctx, mt.Layer, format.Zip, mt.Coord, mt.Data); err != nil {
			return fmt.Errorf("failed to store metatile %s: %w", mt.Coord, err)
		}
		p.metrics.AddRendered(1)
		log.Debug("Stored metatile", zap.Stringer("coord", mt.Coord), zap.Int("bytes", len(mt.Data)))
	}
	return nil
}
