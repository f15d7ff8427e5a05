package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/tilequeue-go/internal/queue"
	"github.com/wegman-software/tilequeue-go/internal/toi"
)

func TestRunLoopSinglePassStopsWhenIdle(t *testing.T) {
	var calls atomic.Int32
	step := func(context.Context) (bool, error) {
		return calls.Add(1) < 3, nil
	}
	err := runLoop(context.Background(), "test", step, LoopOptions{Mode: SinglePass, IdleWait: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRunLoopSurvivesErrorsUntilExhausted(t *testing.T) {
	observe(t)
	var calls atomic.Int32
	step := func(context.Context) (bool, error) {
		switch calls.Add(1) {
		case 1:
			return false, errors.New("connection reset")
		case 2:
			return true, nil
		}
		return false, queue.ErrExhausted
	}
	err := runLoop(context.Background(), "test", step, LoopOptions{Mode: Daemon, IdleWait: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRunLoopDaemonStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	step := func(context.Context) (bool, error) {
		if calls.Add(1) == 5 {
			cancel()
		}
		return false, nil
	}
	err := runLoop(ctx, "test", step, LoopOptions{Mode: Daemon, IdleWait: time.Millisecond})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(5), calls.Load())
}

func TestCoordinatorRunsWorkersOverFileQueue(t *testing.T) {
	ctx := context.Background()
	observe(t)
	path := filepath.Join(t.TempDir(), "jobs.txt")
	fq := queue.NewFileQueue(path)
	require.NoError(t, fq.EnqueueBatch(ctx, []string{"a", "b", "c", "d", "e"}))

	var handled atomic.Int32
	step := func(ctx context.Context) (bool, error) {
		msgs, err := fq.Read(ctx, 2)
		if err != nil {
			return false, err
		}
		for _, m := range msgs {
			handled.Add(1)
			assert.NoError(t, fq.JobDone(ctx, m))
		}
		return len(msgs) > 0, nil
	}

	co := NewCoordinator(nil, 0)
	err := co.Run(ctx, "test", step, LoopOptions{Mode: Daemon, Workers: 3, IdleWait: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, int32(5), handled.Load())
	assert.NotNil(t, co.Metrics())
}

func TestWatchTOIRefreshes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toi.txt")
	require.NoError(t, toi.WriteFile(path, toi.NewSet(c(3, 1, 1))))
	cache := toi.NewCache(toi.FileFetcher{Path: path})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		WatchTOI(ctx, cache, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return cache.Contains(c(3, 1, 1)) }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "1h 2m 3s", FormatDuration(time.Hour+2*time.Minute+3*time.Second))
	assert.Equal(t, "42s", FormatDuration(42*time.Second))
	assert.Equal(t, "1.5K/s", FormatThroughput(1500))
	assert.Equal(t, "2.0M/s", FormatThroughput(2_000_000))
	assert.Equal(t, "7/s", FormatThroughput(7))
}
