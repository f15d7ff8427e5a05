package cmd

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/tilequeue-go/internal/logger"
	"github.com/wegman-software/tilequeue-go/internal/toi"
)

var toiCmd = &cobra.Command{
	Use:   "toi",
	Short: "Inspect and replace the tiles of interest",
}

var toiDumpCmd = &cobra.Command{
	Use:   "dump [FILE]",
	Short: "Write the tiles of interest to FILE (.gz compresses) or stdout",
	Args:  cobra.MaximumNArgs(1),
	Run:   runTOIDump,
}

var toiLoadCmd = &cobra.Command{
	Use:   "load FILE",
	Short: "Replace the stored tiles of interest with the tiles in FILE",
	Args:  cobra.ExactArgs(1),
	Run:   runTOILoad,
}

func init() {
	rootCmd.AddCommand(toiCmd)
	toiCmd.AddCommand(toiDumpCmd)
	toiCmd.AddCommand(toiLoadCmd)
}

func fetchTOI(ctx context.Context, d *deps) (toi.Set, error) {
	f, err := d.toiFetcher(ctx)
	if err != nil {
		return nil, err
	}
	res, err := f.Fetch(ctx, "")
	if err != nil {
		return nil, err
	}
	return res.Set, nil
}

func runTOIDump(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()
	d := newDeps(cfg)
	defer d.Close()

	s, err := fetchTOI(ctx, d)
	if err != nil {
		exitWithError("failed to fetch tiles of interest", err)
	}

	if len(args) == 0 {
		if err := toi.Write(os.Stdout, s); err != nil {
			exitWithError("failed to write tiles of interest", err)
		}
		return
	}
	if err := toi.WriteFile(args[0], s); err != nil {
		exitWithError("failed to write tiles of interest", err)
	}
	logger.Get().Info("Dumped tiles of interest", zap.String("file", args[0]), zap.Int("tiles", s.Len()))
}

func runTOILoad(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()
	d := newDeps(cfg)
	defer d.Close()

	s, err := toi.ReadFile(args[0])
	if err != nil {
		exitWithError("failed to read tiles of interest", err)
	}
	st, err := d.toiStore(ctx)
	if err != nil {
		exitWithError("cannot store tiles of interest", err)
	}
	if err := st.Save(ctx, s); err != nil {
		exitWithError("failed to store tiles of interest", err)
	}
}
