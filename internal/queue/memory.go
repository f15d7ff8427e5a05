package queue

import (
	"context"
	"strconv"
	"sync"
)

// MemoryQueue is an in-process FIFO, for tests and single-process runs
type MemoryQueue struct {
	mu      sync.Mutex
	items   []string
	nextID  int
	pending map[string]*MessageHandle
}

// NewMemoryQueue returns an empty queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{pending: make(map[string]*MessageHandle)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, payload string) error {
	return q.EnqueueBatch(ctx, []string{payload})
}

func (q *MemoryQueue) EnqueueBatch(_ context.Context, payloads []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, payloads...)
	return nil
}

func (q *MemoryQueue) Read(_ context.Context, max int) ([]*MessageHandle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := min(max, len(q.items))
	msgs := make([]*MessageHandle, 0, n)
	for _, payload := range q.items[:n] {
		q.nextID++
		h := &MessageHandle{Handle: strconv.Itoa(q.nextID), Payload: payload}
		q.pending[h.Handle] = h
		msgs = append(msgs, h)
	}
	q.items = q.items[n:]
	return msgs, nil
}

func (q *MemoryQueue) JobDone(_ context.Context, h *MessageHandle) error {
	if err := h.markDone(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, h.Handle)
	return nil
}

func (q *MemoryQueue) Clear(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n, nil
}

// Len returns the number of unread messages
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns the number of read but unacknowledged messages
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *MemoryQueue) Close() error { return nil }
