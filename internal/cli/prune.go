package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/retrykit/internal/core/worker"
	"github.com/vietddude/retrykit/internal/infra/storage/postgres"
)

var (
	pruneRetention time.Duration
	pruneWatch     bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete bulk run records older than the retention period",
	Args:  cobra.NoArgs,
	RunE:  runPrune,
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneRetention, "retention", 0, "retention period (default bulk.run_retention)")
	pruneCmd.Flags().BoolVar(&pruneWatch, "watch", false, "keep pruning periodically until interrupted")
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
	retention := appCfg.Bulk.RunRetention
	if pruneRetention > 0 {
		retention = pruneRetention
	}
	if retention <= 0 {
		return fmt.Errorf("no retention period configured")
	}

	ctx := cmd.Context()
	db, err := postgres.NewDB(ctx, appCfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	pruner := worker.NewPruner(retention, db)
	if pruneWatch {
		slog.Info("Pruner started", "retention", retention, "interval", pruner.Interval())
		pruner.Start(ctx)
		return nil
	}

	n, err := pruner.Prune(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d bulk runs older than %s\n", n, retention)
	return nil
}
