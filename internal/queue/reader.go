package queue

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wegman-software/tilequeue-go/internal/coord"
	"github.com/wegman-software/tilequeue-go/internal/logger"
)

// Job is one coordinate to generate
type Job struct {
	Coord   coord.Coord
	QueueID string
	handle  *CoordHandle
}

// NamedQueue pairs a queue with its ID
type NamedQueue struct {
	ID    string
	Queue Queue
}

// Reader pulls jobs from queues in priority order
type Reader struct {
	queues     []NamedQueue
	marshaller Marshaller
	tracker    CoordTracker
	inflight   InFlightManager
	maxToRead  int
}

// NewReader returns a reader trying queues in the given order
func NewReader(queues []NamedQueue, marshaller Marshaller, tracker CoordTracker, inflight InFlightManager, maxToRead int) *Reader {
	if maxToRead <= 0 {
		maxToRead = 1
	}
	if inflight == nil {
		inflight = NoopInFlight{}
	}
	return &Reader{
		queues:     queues,
		marshaller: marshaller,
		tracker:    tracker,
		inflight:   inflight,
		maxToRead:  maxToRead,
	}
}

func (r *Reader) queue(id string) Queue {
	for _, q := range r.queues {
		if q.ID == id {
			return q.Queue
		}
	}
	return nil
}

// Read returns the jobs of the first queue that has messages. Messages that
// do not unmarshal are logged and acknowledged so they are not redelivered.
// When every queue is exhausted, Read returns ErrExhausted.
func (r *Reader) Read(ctx context.Context) ([]Job, error) {
	log := logger.Get()
	exhausted := 0
	for _, nq := range r.queues {
		msgs, err := nq.Queue.Read(ctx, r.maxToRead)
		if errors.Is(err, ErrExhausted) {
			exhausted++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", nq.ID, err)
		}
		if len(msgs) == 0 {
			continue
		}

		var jobs []Job
		for _, m := range msgs {
			m.QueueID = nq.ID
			coords, err := r.marshaller.Unmarshal(m.Payload)
			if err == nil && len(coords) == 0 {
				err = errors.New("empty payload")
			}
			if err != nil {
				log.Warn("Dropping unreadable message",
					zap.String("queue", nq.ID),
					zap.String("payload", m.Payload),
					zap.Error(err))
				if err := nq.Queue.JobDone(ctx, m); err != nil {
					log.Warn("Failed to acknowledge message", zap.String("queue", nq.ID), zap.Error(err))
				}
				continue
			}
			for _, h := range r.tracker.Track(m, coords) {
				jobs = append(jobs, Job{Coord: h.Coord, QueueID: nq.ID, handle: h})
			}
		}
		return jobs, nil
	}
	if exhausted == len(r.queues) && exhausted > 0 {
		return nil, ErrExhausted
	}
	return nil, nil
}

// Done clears the job's in-flight mark and acknowledges its message once
// every coordinate of that message is done.
func (r *Reader) Done(ctx context.Context, job Job) error {
	if err := r.inflight.Unmark(ctx, job.Coord); err != nil {
		return err
	}
	msg, allDone, err := r.tracker.Done(job.handle)
	if err != nil {
		return fmt.Errorf("%s: %w", job.Coord, err)
	}
	if !allDone {
		return nil
	}
	q := r.queue(msg.QueueID)
	if q == nil {
		return fmt.Errorf("no queue with id %q", msg.QueueID)
	}
	return q.JobDone(ctx, msg)
}
