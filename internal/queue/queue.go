// Package queue moves tile coordinates between processes: mapping them to
// logical queues, marshalling them into payloads, de-duplicating against an
// in-flight set and tracking completion of multi-coordinate messages.
package queue

import (
	"context"
	"errors"
	"sync/atomic"
)

var (
	// ErrExhausted is returned by a queue with a fixed input once it is drained
	ErrExhausted = errors.New("queue: input exhausted")
	// ErrAlreadyDone is returned when a message is acknowledged twice
	ErrAlreadyDone = errors.New("queue: message already acknowledged")
)

// MessageHandle is a message read from a backing queue. Handle is the
// backend's acknowledgement token.
type MessageHandle struct {
	Handle   string
	Payload  string
	QueueID  string
	Metadata map[string]string

	done atomic.Bool
}

// markDone flips the handle to acknowledged, failing on a second call.
func (h *MessageHandle) markDone() error {
	if !h.done.CompareAndSwap(false, true) {
		return ErrAlreadyDone
	}
	return nil
}

// Queue is a backing queue of string payloads
type Queue interface {
	Enqueue(ctx context.Context, payload string) error
	EnqueueBatch(ctx context.Context, payloads []string) error
	// Read returns up to max messages, or none on timeout
	Read(ctx context.Context, max int) ([]*MessageHandle, error)
	JobDone(ctx context.Context, h *MessageHandle) error
	// Clear drops every pending message, returning how many were removed
	Clear(ctx context.Context) (int, error)
	Close() error
}

func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for len(items) > size {
		out = append(out, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}
