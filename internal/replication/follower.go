package replication

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/tilequeue-go/internal/logger"
)

// ErrNotInitialized is returned when the local state file does not exist
var ErrNotInitialized = errors.New("replication: state not initialized")

// Update is one downloaded change file and the state it leads to
type Update struct {
	Path  string
	State *State
}

// Follower tracks the last applied sequence in a local state file
type Follower struct {
	client    *Client
	stateFile string
	state     *State
}

// NewFollower creates a follower persisting its position in stateFile
func NewFollower(client *Client, stateFile string) *Follower {
	return &Follower{client: client, stateFile: stateFile}
}

// Init starts following from the feed's latest state
func (f *Follower) Init(ctx context.Context) error {
	state, err := f.client.LatestState(ctx)
	if err != nil {
		return err
	}
	if err := WriteStateFile(f.stateFile, state); err != nil {
		return err
	}
	f.state = state
	logger.Get().Info("Replication initialized",
		zap.String("source", f.client.Source().Name),
		zap.Int64("sequence", state.Sequence),
		zap.Time("timestamp", state.Timestamp))
	return nil
}

// Load reads the local state file
func (f *Follower) Load() error {
	state, err := ReadStateFile(f.stateFile)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotInitialized
	}
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	f.state = state
	return nil
}

// State returns the last committed state
func (f *Follower) State() *State {
	return f.state
}

// Next downloads the change file after the current state. It returns nil
// when the feed has nothing newer.
func (f *Follower) Next(ctx context.Context) (*Update, error) {
	if f.state == nil {
		return nil, ErrNotInitialized
	}
	seq := f.state.Sequence + 1

	path, err := f.client.Diff(ctx, seq)
	if err != nil || path == "" {
		return nil, err
	}
	state, err := f.client.SequenceState(ctx, seq)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &State{Sequence: seq, Timestamp: time.Now().UTC()}
	}
	return &Update{Path: path, State: state}, nil
}

// Commit records u as applied
func (f *Follower) Commit(u *Update) error {
	if err := WriteStateFile(f.stateFile, u.State); err != nil {
		return err
	}
	f.state = u.State
	return nil
}

// Status compares the local state with the feed
type Status struct {
	Source string
	Local  State
	Remote State
	Behind int64
	Lag    time.Duration
}

// Status fetches the feed's latest state and compares it with the local one
func (f *Follower) Status(ctx context.Context) (*Status, error) {
	if f.state == nil {
		if err := f.Load(); err != nil {
			return nil, err
		}
	}
	remote, err := f.client.LatestState(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		Source: f.client.Source().Name,
		Local:  *f.state,
		Remote: *remote,
		Behind: remote.Sequence - f.state.Sequence,
		Lag:    remote.Timestamp.Sub(f.state.Timestamp),
	}, nil
}
