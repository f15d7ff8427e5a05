package cmd

import (
	"github.com/spf13/cobra"
	"github.com/wegman-software/tilequeue-go/internal/pipeline"
	"github.com/wegman-software/tilequeue-go/internal/rawr"
)

var noRawr bool

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Render queued metatiles",
	Long: `Read metatile jobs from the render queues, cut and encode every tile
size and format, and store the packaged metatiles.

Jobs at the RAWR group zoom or deeper read their rows from the stored RAWR
tile; lower zooms query the database directly. Metatiles whose content did
not change are not rewritten.`,
	Run: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().BoolVar(&daemon, "daemon", false, "Keep waiting for jobs instead of stopping when the queues are empty")
	processCmd.Flags().BoolVar(&noRawr, "no-rawr", false, "Read every job from the database instead of stored RAWR tiles")
}

func runProcess(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	d := newDeps(cfg)
	defer d.Close()

	reader, err := d.reader(ctx)
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
	tc, err := d.tileConfig()
	if err != nil {
		exitWithError("failed to load layers", err)
	}
	formatters, err := d.formatters()
	if err != nil {
		exitWithError("failed to set up formats", err)
	}

	var rawrSource rawr.TableSource
	if !noRawr {
		rawrSource = pipeline.RawrSource{Store: st, Layer: cfg.Rawr.Layer}
	}
	rc := pipeline.RenderConfig{
		MetatileZoom: cfg.MetatileZoom(),
		TileSizes:    cfg.Tiles.TileSizes,
		MaxZoom:      cfg.Tiles.MaxZoom,
		GroupZoom:    cfg.Rawr.GroupZoom,
		Layer:        cfg.Tiles.Layer,
		Formatters:   formatters,
		Tile:         tc,
	}

	co := pipeline.NewCoordinator(nil, cfg.MetricsInterval)
	proc := pipeline.NewTileProcessor(reader, rawrSource, db, st, rc, co.Metrics())
	if err := co.Run(ctx, "process", proc.Step, loopOptions()); err != nil {
		exitWithError("processing failed", err)
	}
}
