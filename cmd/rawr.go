package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/tilequeue-go/internal/coord"
	"github.com/wegman-software/tilequeue-go/internal/expire"
	"github.com/wegman-software/tilequeue-go/internal/logger"
	"github.com/wegman-software/tilequeue-go/internal/metrics"
	"github.com/wegman-software/tilequeue-go/internal/pipeline"
	"github.com/wegman-software/tilequeue-go/internal/replication"
	"github.com/wegman-software/tilequeue-go/internal/toi"
)

var (
	expiredFile     string
	oscFiles        []string
	replicationFrom string
	stateFile       string
	cacheDir        string
	pollInterval    time.Duration
	daemon          bool
)

var rawrEnqueueCmd = &cobra.Command{
	Use:   "rawr-enqueue",
	Short: "Queue expired tiles for RAWR generation",
	Long: `Read expired tiles, keep those in the tiles of interest and send them
to the RAWR queue grouped by their tile at the group zoom.

Expired tiles come from one of:
  - a z/x/y list (--expired-file, or stdin when no other input is given)
  - OSM change files (--osc)
  - a replication feed (--replication), applying every pending change file

Examples:
  tilequeue-go rawr-enqueue -c config.yaml --expired-file expired.txt
  tilequeue-go rawr-enqueue -c config.yaml --osc 6321544.osc.gz
  tilequeue-go rawr-enqueue -c config.yaml --replication minute --state-file state.txt --interval 1m`,
	Run: runRawrEnqueue,
}

var rawrProcessCmd = &cobra.Command{
	Use:   "rawr-process",
	Short: "Generate RAWR tiles and queue their metatiles for rendering",
	Long: `Consume the RAWR queue. For each message the RAWR tile of the group is
built from the database and stored, then the group's tiles of interest are
sent to the render queues.`,
	Run: runRawrProcess,
}

func init() {
	rootCmd.AddCommand(rawrEnqueueCmd)
	rootCmd.AddCommand(rawrProcessCmd)

	rawrEnqueueCmd.Flags().StringVar(&expiredFile, "expired-file", "", "File of expired z/x/y tiles (- for stdin)")
	rawrEnqueueCmd.Flags().StringSliceVar(&oscFiles, "osc", nil, "OSM change files to expire tiles from")
	rawrEnqueueCmd.Flags().StringVar(&replicationFrom, "replication", "", "Replication source to follow (e.g., minute, geofabrik/europe/monaco)")
	rawrEnqueueCmd.Flags().StringVar(&stateFile, "state-file", "replication-state.txt", "Local replication state file")
	rawrEnqueueCmd.Flags().StringVar(&cacheDir, "cache-dir", "replication-cache", "Directory for downloaded change files")
	rawrEnqueueCmd.Flags().DurationVar(&pollInterval, "interval", 0, "Keep polling the replication feed at this interval (0 = stop when caught up)")

	rawrProcessCmd.Flags().BoolVar(&daemon, "daemon", false, "Keep waiting for messages instead of stopping when the queue is empty")
}

func loopOptions() pipeline.LoopOptions {
	mode := pipeline.SinglePass
	if daemon {
		mode = pipeline.Daemon
	}
	return pipeline.LoopOptions{Mode: mode, Workers: cfg.Workers, IdleWait: pipeline.DefaultIdleWait}
}

func readExpired(path string) ([]coord.Coord, error) {
	var (
		s   toi.Set
		err error
	)
	if path == "" || path == "-" {
		s, err = toi.Read(os.Stdin)
	} else {
		s, err = toi.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	return s.Coords(), nil
}

func runRawrEnqueue(cmd *cobra.Command, args []string) {
	log := logger.Get()
	ctx, cancel := signalContext()
	defer cancel()

	d := newDeps(cfg)
	defer d.Close()

	q, err := d.rawrQueue(ctx)
	if err != nil {
		exitWithError("failed to open rawr queue", err)
	}
	in, _, _, err := d.intersector(ctx)
	if err != nil {
		exitWithError("failed to load tiles of interest", err)
	}
	m := &metrics.Pipeline{}
	enq := pipeline.NewEnqueuer(q, in, cfg.Rawr.GroupZoom, cfg.MetatileZoom(), cfg.Tiles.MaxZoom, m)
	start := time.Now()

	switch {
	case replicationFrom != "":
		if err := followReplication(ctx, enq); err != nil && !errors.Is(err, context.Canceled) {
			exitWithError("replication failed", err)
		}
	case len(oscFiles) > 0:
		tracker := expire.NewTracker(cfg.Tiles.MaxZoom)
		for _, path := range oscFiles {
			if _, err := tracker.ExpireChangeFile(ctx, path); err != nil {
				exitWithError("failed to expire change file", err)
			}
		}
		if _, err := enq.Enqueue(ctx, tracker.Coords()); err != nil {
			exitWithError("failed to enqueue", err)
		}
	default:
		expired, err := readExpired(expiredFile)
		if err != nil {
			exitWithError("failed to read expired tiles", err)
		}
		if _, err := enq.Enqueue(ctx, expired); err != nil {
			exitWithError("failed to enqueue", err)
		}
	}

	log.Info("RAWR enqueue complete",
		append(m.Snapshot().Fields(), zap.Duration("duration", time.Since(start).Round(time.Millisecond)))...)
}

// followReplication expires and enqueues every pending change file,
// committing the replication state after each one is queued.
func followReplication(ctx context.Context, enq *pipeline.Enqueuer) error {
	log := logger.Get()
	source, err := replication.ParseSource(replicationFrom)
	if err != nil {
		return err
	}
	f := replication.NewFollower(replication.NewClient(source, cacheDir), stateFile)
	if err := f.Load(); err != nil {
		return fmt.Errorf("%w (run 'replication init' first)", err)
	}

	tracker := expire.NewTracker(cfg.Tiles.MaxZoom)
	catchUp := func() error {
		for {
			u, err := f.Next(ctx)
			if err != nil {
				return err
			}
			if u == nil {
				return nil
			}
			tracker.Reset()
			if _, err := tracker.ExpireChangeFile(ctx, u.Path); err != nil {
				return err
			}
			if _, err := enq.Enqueue(ctx, tracker.Coords()); err != nil {
				return err
			}
			if err := f.Commit(u); err != nil {
				return err
			}
			log.Info("Applied change file",
				zap.Int64("sequence", u.State.Sequence),
				zap.Time("timestamp", u.State.Timestamp),
				zap.Int("expired", tracker.Len()))
		}
	}

	if err := catchUp(); err != nil {
		return err
	}
	if pollInterval <= 0 {
		return nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := catchUp(); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.LogError("Failed to apply change file", err)
			}
		}
	}
}

func runRawrProcess(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	d := newDeps(cfg)
	defer d.Close()

	q, err := d.rawrQueue(ctx)
	if err != nil {
		exitWithError("failed to open rawr queue", err)
	}
	in, inTOI, cache, err := d.intersector(ctx)
	if err != nil {
		exitWithError("failed to load tiles of interest", err)
	}
	d.watch(ctx, cache)

	w, err := d.writer(ctx, inTOI)
	if err != nil {
		exitWithError("failed to open render queues", err)
	}
	db, err := d.database(ctx)
	if err != nil {
		exitWithError("failed to connect to database", err)
	}
	st, err := d.store(ctx)
	if err != nil {
		exitWithError("failed to open store", err)
	}

	co := pipeline.NewCoordinator(nil, cfg.MetricsInterval)
	gen := pipeline.NewRawrGenerator(db, st, cfg.Rawr.Layer)
	proc := pipeline.NewRawrProcessor(q, gen, in, w, cfg.Rawr.GroupZoom, co.Metrics())
	if err := co.Run(ctx, "rawr-process", proc.Step, loopOptions()); err != nil {
		exitWithError("rawr processing failed", err)
	}
}
