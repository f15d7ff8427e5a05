package cmd

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/tilequeue-go/internal/config"
	"github.com/wegman-software/tilequeue-go/internal/coord"
	"github.com/wegman-software/tilequeue-go/internal/logger"
	"github.com/wegman-software/tilequeue-go/internal/toi"
)

var (
	seedBBox    string
	seedMinZoom int
	seedMaxZoom int
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the render and RAWR queues",
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every queued message and the in-flight set",
	Run:   runQueueClear,
}

var queueEnqueueCmd = &cobra.Command{
	Use:   "enqueue [FILE]",
	Short: "Send metatile jobs to the render queues",
	Long: `Send the z/x/y metatile coordinates in FILE to the render queues, or
seed every metatile covering --bbox between --min-zoom and --max-zoom.

Examples:
  tilequeue-go queue enqueue -c config.yaml jobs.txt
  tilequeue-go queue enqueue -c config.yaml --bbox 7.40,43.72,7.44,43.76 --min-zoom 0 --max-zoom 14`,
	Args: cobra.MaximumNArgs(1),
	Run:  runQueueEnqueue,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueClearCmd)
	queueCmd.AddCommand(queueEnqueueCmd)

	queueEnqueueCmd.Flags().StringVar(&seedBBox, "bbox", "", "Seed metatiles covering minlon,minlat,maxlon,maxlat")
	queueEnqueueCmd.Flags().IntVar(&seedMinZoom, "min-zoom", 0, "Lowest metatile zoom to seed")
	queueEnqueueCmd.Flags().IntVar(&seedMaxZoom, "max-zoom", 10, "Highest metatile zoom to seed")
}

func runQueueClear(cmd *cobra.Command, args []string) {
	log := logger.Get()
	ctx, cancel := signalContext()
	defer cancel()
	d := newDeps(cfg)
	defer d.Close()

	queues, err := d.renderQueues(ctx)
	if err != nil {
		exitWithError("failed to open render queues", err)
	}
	rq, err := d.rawrQueue(ctx)
	if err != nil {
		exitWithError("failed to open rawr queue", err)
	}
	queues["rawr"] = rq

	for id, q := range queues {
		n, err := q.Clear(ctx)
		if err != nil {
			exitWithError(fmt.Sprintf("failed to clear queue %q", id), err)
		}
		log.Info("Cleared queue", zap.String("queue", id), zap.Int("messages", n))
	}

	if cfg.InFlightKey != "" {
		n, err := d.redisInFlight().Clear(ctx)
		if err != nil {
			exitWithError("failed to clear in-flight set", err)
		}
		log.Info("Cleared in-flight set", zap.Int("coords", n))
	}
}

// seedCoords lists the metatiles covering bbox at each zoom in range
func seedCoords(bbox *config.BBox, minZoom, maxZoom int) ([]coord.Coord, error) {
	if minZoom < 0 || maxZoom > coord.MaxZoom || minZoom > maxZoom {
		return nil, fmt.Errorf("bad zoom range %d..%d", minZoom, maxZoom)
	}
	b := bbox.Mercator()
	var out []coord.Coord
	for z := minZoom; z <= maxZoom; z++ {
		for c := range coord.TileRange(b, z).Coords() {
			out = append(out, c)
		}
	}
	return out, nil
}

func runQueueEnqueue(cmd *cobra.Command, args []string) {
	log := logger.Get()
	ctx, cancel := signalContext()
	defer cancel()
	d := newDeps(cfg)
	defer d.Close()

	var coords []coord.Coord
	switch {
	case len(args) == 1:
		s, err := toi.ReadFile(args[0])
		if err != nil {
			exitWithError("failed to read jobs", err)
		}
		coords = s.Coords()
	case seedBBox != "":
		bbox, err := config.ParseBBox(seedBBox)
		if err != nil {
			exitWithError("invalid bbox", err)
		}
		coords, err = seedCoords(bbox, seedMinZoom, seedMaxZoom)
		if err != nil {
			exitWithError("invalid zoom range", err)
		}
	default:
		exitWithError("a jobs file or --bbox is required", nil)
	}

	_, inTOI, _, err := d.intersector(ctx)
	if err != nil {
		exitWithError("failed to load tiles of interest", err)
	}
	w, err := d.writer(ctx, inTOI)
	if err != nil {
		exitWithError("failed to open render queues", err)
	}
	enqueued, inflight, err := w.EnqueueBatch(ctx, coords)
	if err != nil {
		exitWithError("failed to enqueue", err)
	}
	log.Info("Enqueued metatiles",
		zap.Int("coords", len(coords)),
		zap.Int("enqueued", enqueued),
		zap.Int("in_flight", inflight))
}
