package queue

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wegman-software/tilequeue-go/internal/coord"
	"github.com/wegman-software/tilequeue-go/internal/logger"
)

// DefaultEnqueueBatchSize is the number of messages sent per queue call
const DefaultEnqueueBatchSize = 10

// Writer sends coordinates to their queues, skipping those already in flight
type Writer struct {
	queues     map[string]Queue
	mapper     Mapper
	marshaller Marshaller
	inflight   InFlightManager
	batchSize  int
}

// NewWriter returns a writer. Every queue ID the mapper produces must be in queues.
func NewWriter(queues map[string]Queue, mapper Mapper, marshaller Marshaller, inflight InFlightManager, batchSize int) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultEnqueueBatchSize
	}
	if inflight == nil {
		inflight = NoopInFlight{}
	}
	return &Writer{
		queues:     queues,
		mapper:     mapper,
		marshaller: marshaller,
		inflight:   inflight,
		batchSize:  batchSize,
	}
}

type pendingBatch struct {
	payloads []string
	coords   []coord.Coord
}

// EnqueueBatch filters out in-flight coordinates, groups the rest, sends the
// groups in batches per queue and marks the sent coordinates in flight. It
// returns the number of coordinates enqueued and the number skipped as
// already in flight.
func (w *Writer) EnqueueBatch(ctx context.Context, coords []coord.Coord) (enqueued, inflight int, err error) {
	todo, err := w.inflight.Filter(ctx, coords)
	if err != nil {
		return 0, 0, err
	}
	inflight = len(coords) - len(todo)

	batches := make(map[string]*pendingBatch)
	var order []string
	flush := func(queueID string) error {
		b := batches[queueID]
		if b == nil || len(b.payloads) == 0 {
			return nil
		}
		q, ok := w.queues[queueID]
		if !ok {
			return fmt.Errorf("no queue configured for id %q", queueID)
		}
		if err := q.EnqueueBatch(ctx, b.payloads); err != nil {
			return fmt.Errorf("enqueue to %s: %w", queueID, err)
		}
		if err := w.inflight.MarkInFlight(ctx, b.coords); err != nil {
			return err
		}
		enqueued += len(b.coords)
		b.payloads, b.coords = nil, nil
		return nil
	}

	for _, g := range w.mapper.Group(todo) {
		b := batches[g.QueueID]
		if b == nil {
			b = &pendingBatch{}
			batches[g.QueueID] = b
			order = append(order, g.QueueID)
		}
		b.payloads = append(b.payloads, w.marshaller.Marshal(g.Coords))
		b.coords = append(b.coords, g.Coords...)
		if len(b.payloads) >= w.batchSize {
			if err := flush(g.QueueID); err != nil {
				return enqueued, inflight, err
			}
		}
	}
	for _, id := range order {
		if err := flush(id); err != nil {
			return enqueued, inflight, err
		}
	}

	logger.Get().Debug("Enqueued coordinates",
		zap.Int("enqueued", enqueued),
		zap.Int("inflight", inflight),
		zap.Int("dropped", len(todo)-enqueued))
	return enqueued, inflight, nil
}
