// Package pipeline runs the tile generation stages: enqueueing expired
// tiles for RAWR generation, generating RAWR tiles and rendering metatiles.
package pipeline

import (
	"context"
	"errors"
	"time"
)

// ErrRawrMissing is returned when no RAWR tile has been stored for a coordinate
var ErrRawrMissing = errors.New("pipeline: rawr tile not found")

// Mode controls whether a processor loop stops once its queues are empty
type Mode int

const (
	// SinglePass stops at the first read that returns nothing
	SinglePass Mode = iota
	// Daemon polls forever
	Daemon
)

func (m Mode) String() string {
	if m == Daemon {
		return "daemon"
	}
	return "single-pass"
}

// DefaultIdleWait is the pause after an empty read in daemon mode
const DefaultIdleWait = time.Second

// LoopOptions tunes a processor read loop
type LoopOptions struct {
	Mode     Mode
	IdleWait time.Duration
	Workers  int
}

// StepFunc reads and handles one batch. It reports whether any work was found.
type StepFunc func(ctx context.Context) (bool, error)
