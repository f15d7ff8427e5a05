package queue

import (
	"errors"
	"sync"

	"github.com/wegman-software/tilequeue-go/internal/coord"
)

// ErrUnknownHandle means a coordinate was acknowledged that is not being tracked
var ErrUnknownHandle = errors.New("queue: unknown coordinate handle")

// CoordHandle is one coordinate of a tracked message
type CoordHandle struct {
	Coord coord.Coord
	msg   *MessageHandle
}

// Message returns the queue message the coordinate came from
func (h *CoordHandle) Message() *MessageHandle {
	return h.msg
}

// CoordTracker maps coordinates back to the queue message carrying them
type CoordTracker interface {
	Track(msg *MessageHandle, coords []coord.Coord) []*CoordHandle
	// Done marks one coordinate finished. allDone is true exactly once per
	// message, when its last coordinate finishes.
	Done(h *CoordHandle) (msg *MessageHandle, allDone bool, err error)
}

// SingleMessageTracker is for messages carrying one coordinate each
type SingleMessageTracker struct{}

func (SingleMessageTracker) Track(msg *MessageHandle, coords []coord.Coord) []*CoordHandle {
	handles := make([]*CoordHandle, len(coords))
	for i, c := range coords {
		handles[i] = &CoordHandle{Coord: c, msg: msg}
	}
	return handles
}

func (SingleMessageTracker) Done(h *CoordHandle) (*MessageHandle, bool, error) {
	if h == nil || h.msg == nil {
		return nil, false, ErrUnknownHandle
	}
	return h.msg, true, nil
}

// MultipleMessageTracker tracks messages carrying many coordinates
type MultipleMessageTracker struct {
	mu      sync.Mutex
	pending map[*MessageHandle]map[*CoordHandle]struct{}
}

// NewMultipleMessageTracker returns an empty tracker
func NewMultipleMessageTracker() *MultipleMessageTracker {
	return &MultipleMessageTracker{pending: make(map[*MessageHandle]map[*CoordHandle]struct{})}
}

func (t *MultipleMessageTracker) Track(msg *MessageHandle, coords []coord.Coord) []*CoordHandle {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.pending[msg]
	if set == nil {
		set = make(map[*CoordHandle]struct{}, len(coords))
		t.pending[msg] = set
	}
	handles := make([]*CoordHandle, len(coords))
	for i, c := range coords {
		h := &CoordHandle{Coord: c, msg: msg}
		set[h] = struct{}{}
		handles[i] = h
	}
	return handles
}

func (t *MultipleMessageTracker) Done(h *CoordHandle) (*MessageHandle, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if h == nil {
		return nil, false, ErrUnknownHandle
	}
	set, ok := t.pending[h.msg]
	if !ok {
		return nil, false, ErrUnknownHandle
	}
	if _, ok := set[h]; !ok {
		return nil, false, ErrUnknownHandle
	}
	delete(set, h)
	if len(set) > 0 {
		return h.msg, false, nil
	}
	delete(t.pending, h.msg)
	return h.msg, true, nil
}

// Outstanding returns the number of messages with unfinished coordinates
func (t *MultipleMessageTracker) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
