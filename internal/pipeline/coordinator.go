package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/tilequeue-go/internal/logger"
	"github.com/wegman-software/tilequeue-go/internal/metrics"
	"github.com/wegman-software/tilequeue-go/internal/queue"
	"github.com/wegman-software/tilequeue-go/internal/toi"
)

// progressInterval is how often a running loop logs its throughput
const progressInterval = 5 * time.Second

// Coordinator runs a processor step in a pool of worker loops alongside
// the background metrics and progress reporters.
type Coordinator struct {
	metrics         *metrics.Pipeline
	metricsInterval time.Duration
}

// NewCoordinator creates a coordinator. A zero metricsInterval disables
// system metrics collection.
func NewCoordinator(m *metrics.Pipeline, metricsInterval time.Duration) *Coordinator {
	if m == nil {
		m = &metrics.Pipeline{}
	}
	return &Coordinator{metrics: m, metricsInterval: metricsInterval}
}

// Metrics returns the counters shared by the coordinated stages
func (c *Coordinator) Metrics() *metrics.Pipeline {
	return c.metrics
}

// Run runs step in opts.Workers loops until every loop stops. Loops stop
// when their input is exhausted, when a single-pass read finds nothing, or
// when ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context, name string, step StepFunc, opts LoopOptions) error {
	log := logger.Get()
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.IdleWait <= 0 {
		opts.IdleWait = DefaultIdleWait
	}

	// Start metrics collection in background if interval is set
	if c.metricsInterval > 0 {
		metricsCtx, cancelMetrics := context.WithCancel(ctx)
		defer cancelMetrics()

		collector := metrics.NewCollector(c.metricsInterval, log, c.metrics)
		go collector.Start(metricsCtx)
		log.Info("System metrics collection started",
			zap.Duration("interval", c.metricsInterval))
	}

	progress := NewProgress(name, c.metrics)
	progressCtx, cancelProgress := context.WithCancel(ctx)
	defer cancelProgress()
	go progress.Report(progressCtx, progressInterval)

	log.Info("Starting workers",
		zap.String("stage", name),
		zap.Int("workers", opts.Workers),
		zap.Stringer("mode", opts.Mode))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.Workers; i++ {
		g.Go(func() error {
			return runLoop(gctx, name, step, opts)
		})
	}
	err := g.Wait()

	progress.LogSummary()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runLoop calls step until the input is exhausted or, in single-pass mode,
// until a step finds no work. Step errors are logged and the loop goes on.
func runLoop(ctx context.Context, name string, step StepFunc, opts LoopOptions) error {
	log := logger.Get()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		worked, err := step(ctx)
		switch {
		case errors.Is(err, queue.ErrExhausted):
			log.Info("Queue input exhausted", zap.String("stage", name))
			return nil
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			logger.LogError("Failed to read from queue", err)
		case worked:
			continue
		case opts.Mode == SinglePass:
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.IdleWait):
		}
	}
}

// WatchTOI refreshes cache every interval until ctx is done. Failed
// refreshes keep the previous snapshot.
func WatchTOI(ctx context.Context, cache *toi.Cache, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := cache.Refresh(ctx); err != nil {
				logger.LogError("Failed to refresh tiles of interest", err)
			}
		}
	}
}
