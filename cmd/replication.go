package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/tilequeue-go/internal/logger"
	"github.com/wegman-software/tilequeue-go/internal/replication"
)

var replicationCmd = &cobra.Command{
	Use:   "replication",
	Short: "Manage the replication feed rawr-enqueue follows",
	Long: `Manage the local state used by 'rawr-enqueue --replication'.

Replication sources include:
  - minute, hour, day (OpenStreetMap planet, optionally prefixed planet-)
  - geofabrik/<region> (e.g., geofabrik/europe/monaco)
  - Custom URL (https://your-server/replication)

Examples:
  # Start following Geofabrik Monaco from its latest state
  tilequeue-go replication init --source geofabrik/europe/monaco

  # Check how far behind the local state is
  tilequeue-go replication status --source geofabrik/europe/monaco`,
}

var replicationInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the feed's latest state to the state file",
	Run:   runReplicationInit,
}

var replicationStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Compare the local state with the feed",
	Run:   runReplicationStatus,
}

func init() {
	rootCmd.AddCommand(replicationCmd)
	replicationCmd.AddCommand(replicationInitCmd)
	replicationCmd.AddCommand(replicationStatusCmd)

	replicationCmd.PersistentFlags().StringVar(&replicationFrom, "source", "", "Replication source (e.g., geofabrik/europe/monaco, minute)")
	replicationCmd.PersistentFlags().StringVar(&stateFile, "state-file", "replication-state.txt", "Local replication state file")
	replicationCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "replication-cache", "Directory for downloaded change files")
}

func follower() (*replication.Follower, error) {
	if replicationFrom == "" {
		return nil, fmt.Errorf("--source is required")
	}
	source, err := replication.ParseSource(replicationFrom)
	if err != nil {
		return nil, err
	}
	return replication.NewFollower(replication.NewClient(source, cacheDir), stateFile), nil
}

func runReplicationInit(cmd *cobra.Command, args []string) {
	f, err := follower()
	if err != nil {
		exitWithError("invalid replication source", err)
	}
	if err := f.Init(context.Background()); err != nil {
		exitWithError("failed to initialize replication", err)
	}
	state := f.State()
	fmt.Printf("Replication initialized\n")
	fmt.Printf("Source: %s\n", replicationFrom)
	fmt.Printf("Sequence: %d\n", state.Sequence)
	fmt.Printf("Timestamp: %s\n", state.Timestamp.Format(time.RFC3339))
}

func runReplicationStatus(cmd *cobra.Command, args []string) {
	f, err := follower()
	if err != nil {
		exitWithError("invalid replication source", err)
	}
	status, err := f.Status(context.Background())
	if err != nil {
		exitWithError("failed to get status", err)
	}

	logger.Get().Info("Replication status",
		zap.String("source", status.Source),
		zap.Int64("local_sequence", status.Local.Sequence),
		zap.Time("local_timestamp", status.Local.Timestamp),
		zap.Int64("remote_sequence", status.Remote.Sequence),
		zap.Int64("behind", status.Behind),
		zap.Duration("lag", status.Lag))

	fmt.Printf("Source:  %s\n", status.Source)
	fmt.Printf("Local:   %d (%s)\n", status.Local.Sequence, status.Local.Timestamp.Format(time.RFC3339))
	fmt.Printf("Remote:  %d (%s)\n", status.Remote.Sequence, status.Remote.Timestamp.Format(time.RFC3339))
	fmt.Printf("Behind:  %d updates (%s)\n", status.Behind, status.Lag.Round(time.Second))
}
