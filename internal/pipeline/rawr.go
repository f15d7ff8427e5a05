package pipeline

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/wegman-software/tilequeue-go/internal/coord"
	"github.com/wegman-software/tilequeue-go/internal/format"
	"github.com/wegman-software/tilequeue-go/internal/logger"
	"github.com/wegman-software/tilequeue-go/internal/metrics"
	"github.com/wegman-software/tilequeue-go/internal/parquet"
	"github.com/wegman-software/tilequeue-go/internal/queue"
	"github.com/wegman-software/tilequeue-go/internal/rawr"
	"github.com/wegman-software/tilequeue-go/internal/store"
	"github.com/wegman-software/tilequeue-go/internal/toi"
)

// rawrSendChunk is the number of payloads per send to the RAWR queue
const rawrSendChunk = 10

// RawrSource reads stored RAWR tiles back as tables
type RawrSource struct {
	Store store.Store
	Layer string
}

// Tables implements rawr.TableSource
func (s RawrSource) Tables(ctx context.Context, top coord.Coord) (*rawr.Tables, error) {
	data, err := s.Store.ReadTile(ctx, s.Layer, format.Zip, top)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrRawrMissing, top)
	}
	return parquet.Decode(ctx, data)
}

// RawrGenerator fetches the rows of a top-level tile and stores them as a
// RAWR tile.
type RawrGenerator struct {
	source rawr.TableSource
	store  store.Store
	layer  string
}

// NewRawrGenerator creates a generator writing to layer of st
func NewRawrGenerator(source rawr.TableSource, st store.Store, layer string) *RawrGenerator {
	return &RawrGenerator{source: source, store: st, layer: layer}
}

// Generate builds and stores the RAWR tile for top, returning its row count
func (g *RawrGenerator) Generate(ctx context.Context, top coord.Coord) (int, error) {
	tables, err := g.source.Tables(ctx, top)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch tables: %w", err)
	}
	data, err := parquet.Encode(tables)
	if err != nil {
		return 0, err
	}
	if err := g.store.WriteTile(ctx, g.layer, format.Zip, top, data); err != nil {
		return 0, fmt.Errorf("failed to store rawr tile: %w", err)
	}
	logger.Get().Debug("Generated rawr tile",
		zap.Stringer("coord", top),
		zap.Int("rows", tables.Len()),
		zap.Int("bytes", len(data)))
	return tables.Len(), nil
}

// ToMetatile maps a tile coordinate to the metatile that renders it. Tiles
// deeper than maxZoom map through their ancestor at maxZoom.
func ToMetatile(c coord.Coord, metatileZoom, maxZoom int) coord.Coord {
	z := min(c.Zoom, maxZoom) - metatileZoom
	return c.ZoomTo(max(z, 0))
}

// Enqueuer turns expired tiles into RAWR queue messages. Each message holds
// the tiles sharing one ancestor at the group zoom; tiles above the group
// zoom all go into one message.
type Enqueuer struct {
	queue        queue.Queue
	marshaller   queue.Marshaller
	intersector  toi.Intersector
	groupZoom    int
	metatileZoom int
	maxZoom      int
	metrics      *metrics.Pipeline
}

// NewEnqueuer creates an enqueuer. Expired tiles are converted to metatile
// coordinates before intersection.
func NewEnqueuer(q queue.Queue, in toi.Intersector, groupZoom, metatileZoom, maxZoom int, m *metrics.Pipeline) *Enqueuer {
	if m == nil {
		m = &metrics.Pipeline{}
	}
	return &Enqueuer{
		queue:        q,
		marshaller:   queue.CommaSeparatedMarshaller{},
		intersector:  in,
		groupZoom:    groupZoom,
		metatileZoom: metatileZoom,
		maxZoom:      maxZoom,
		metrics:      m,
	}
}

// Group splits coords into RAWR payload groups: the coords above groupZoom
// first, then one group per ancestor at groupZoom in packed order.
func Group(coords []coord.Coord, groupZoom int) [][]coord.Coord {
	var low []coord.Coord
	byParent := make(map[int64][]coord.Coord)
	for _, c := range coords {
		if c.Zoom < groupZoom {
			low = append(low, c)
			continue
		}
		k := coord.MarshalInt(c.ZoomTo(groupZoom))
		byParent[k] = append(byParent[k], c)
	}

	parents := make([]int64, 0, len(byParent))
	for k := range byParent {
		parents = append(parents, k)
	}
	sort.Slice(parents, func(i, j int) bool { return parents[i] < parents[j] })

	groups := make([][]coord.Coord, 0, len(parents)+1)
	if len(low) > 0 {
		groups = append(groups, low)
	}
	for _, k := range parents {
		groups = append(groups, byParent[k])
	}
	return groups
}

// Enqueue intersects expired with the tiles of interest, groups the result
// and sends it. It returns the number of messages sent.
func (e *Enqueuer) Enqueue(ctx context.Context, expired []coord.Coord) (int, error) {
	log := logger.Get()
	e.metrics.AddExpired(len(expired))

	seen := make(map[coord.Coord]struct{}, len(expired))
	metatiles := make([]coord.Coord, 0, len(expired))
	for _, c := range expired {
		mt := ToMetatile(c, e.metatileZoom, e.maxZoom)
		if _, ok := seen[mt]; ok {
			continue
		}
		seen[mt] = struct{}{}
		metatiles = append(metatiles, mt)
	}

	coords, im := e.intersector.Intersect(metatiles, 0)
	e.metrics.AddTOI(im.Hits, im.Misses)
	log.Info("Intersected expired tiles",
		zap.Int("expired", len(expired)),
		zap.Int("metatiles", len(metatiles)),
		zap.Int("total", im.Total),
		zap.Int("hits", im.Hits),
		zap.Int("misses", im.Misses),
		zap.Int("toi_size", im.TOISize))

	groups := Group(coords, e.groupZoom)
	payloads := make([]string, len(groups))
	for i, g := range groups {
		payloads[i] = e.marshaller.Marshal(g)
	}

	sent := 0
	for start := 0; start < len(payloads); start += rawrSendChunk {
		end := min(start+rawrSendChunk, len(payloads))
		if err := e.queue.EnqueueBatch(ctx, payloads[start:end]); err != nil {
			return sent, fmt.Errorf("failed to send rawr messages: %w", err)
		}
		sent = end
	}
	log.Info("Sent rawr messages", zap.Int("messages", sent), zap.Int("coords", len(coords)))
	return sent, nil
}

// RawrProcessor consumes RAWR queue messages: it generates the RAWR tile of
// the group, then queues the group's tiles of interest for rendering.
type RawrProcessor struct {
	queue       queue.Queue
	marshaller  queue.Marshaller
	generator   *RawrGenerator
	intersector toi.Intersector
	writer      *queue.Writer
	groupZoom   int
	metrics     *metrics.Pipeline
}

// NewRawrProcessor creates a processor reading from q
func NewRawrProcessor(q queue.Queue, gen *RawrGenerator, in toi.Intersector, w *queue.Writer, groupZoom int, m *metrics.Pipeline) *RawrProcessor {
	if m == nil {
		m = &metrics.Pipeline{}
	}
	return &RawrProcessor{
		queue:       q,
		marshaller:  queue.CommaSeparatedMarshaller{},
		generator:   gen,
		intersector: in,
		writer:      w,
		groupZoom:   groupZoom,
		metrics:     m,
	}
}

// Step reads one message and handles it. Handling errors are logged and
// leave the message unacknowledged.
func (p *RawrProcessor) Step(ctx context.Context) (bool, error) {
	msgs, err := p.queue.Read(ctx, 1)
	if err != nil {
		return false, err
	}
	for _, m := range msgs {
		p.handle(ctx, m)
	}
	return len(msgs) > 0, nil
}

func (p *RawrProcessor) ack(ctx context.Context, m *queue.MessageHandle) {
	if err := p.queue.JobDone(ctx, m); err != nil {
		logger.LogError("Failed to acknowledge rawr message", err)
	}
}

func (p *RawrProcessor) handle(ctx context.Context, m *queue.MessageHandle) {
	log := logger.Get()
	coords, err := p.marshaller.Unmarshal(m.Payload)
	if err != nil {
		logger.LogError("Failed to unmarshal rawr message", err)
		p.metrics.AddFailure()
		p.ack(ctx, m)
		return
	}
	if len(coords) == 0 {
		p.ack(ctx, m)
		return
	}

	untilZoom := 0
	if coords[0].Zoom >= p.groupZoom {
		parent, err := coord.ParentAtZoom(coords, p.groupZoom)
		if err != nil {
			logger.LogError("Invalid rawr message", err)
			p.metrics.AddFailure()
			p.ack(ctx, m)
			return
		}
		if _, err := p.generator.Generate(ctx, parent); err != nil {
			logger.LogError("Failed to generate rawr tile", err, parent)
			p.metrics.AddFailure()
			return
		}
		p.metrics.AddRawrGenerated(1)
		untilZoom = p.groupZoom
	}

	todo, im := p.intersector.Intersect(coords, untilZoom)
	p.metrics.AddTOI(im.Hits, im.Misses)
	enqueued, inflight, err := p.writer.EnqueueBatch(ctx, todo)
	p.metrics.AddEnqueued(enqueued)
	p.metrics.AddInFlight(inflight)
	if err != nil {
		logger.LogError("Failed to enqueue tiles", err, coords[0])
		p.metrics.AddFailure()
		return
	}

	log.Debug("Processed rawr message",
		zap.Int("coords", len(coords)),
		zap.Int("toi", len(todo)),
		zap.Int("enqueued", enqueued),
		zap.Int("in_flight", inflight))
	p.ack(ctx, m)
}
