package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/retrykit/internal/activity"
	"github.com/vietddude/retrykit/internal/core/domain"
	"github.com/vietddude/retrykit/internal/core/failure"
	"github.com/vietddude/retrykit/internal/health"
	redisclient "github.com/vietddude/retrykit/internal/infra/redis"
	"github.com/vietddude/retrykit/internal/infra/storage"
	"github.com/vietddude/retrykit/internal/infra/storage/memory"
	"github.com/vietddude/retrykit/internal/infra/storage/postgres"
	"github.com/vietddude/retrykit/internal/resilience/batch"
	"github.com/vietddude/retrykit/internal/resilience/bulk"
	"github.com/vietddude/retrykit/internal/resilience/classify"
)

var (
	bulkFile       string
	bulkMode       string
	bulkOperation  string
	bulkDryRun     bool
	bulkMaxRetries int
)

var bulkCmd = &cobra.Command{
	Use:   "bulk",
	Short: "Write a file of records through the bulk transaction executor",
	Args:  cobra.NoArgs,
	RunE:  runBulk,
}

func init() {
	bulkCmd.Flags().StringVarP(&bulkFile, "file", "f", "", "YAML file of records")
	bulkCmd.Flags().StringVar(&bulkMode, "mode", "", "atomic or partial (default from config)")
	bulkCmd.Flags().StringVar(&bulkOperation, "operation", "", "operation name (default from file, then \"bulk\")")
	bulkCmd.Flags().BoolVar(&bulkDryRun, "dry-run", false, "write to an in-memory store instead of Postgres")
	bulkCmd.Flags().IntVar(&bulkMaxRetries, "max-retries", 0, "override retries per transaction (<0 disables)")
	_ = bulkCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(bulkCmd)
}

// recordFile is the input format of the bulk command.
type recordFile struct {
	Operation string          `yaml:"operation"`
	Records   []domain.Record `yaml:"records"`
}

func loadRecords(path string) (*recordFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read records file: %w", err)
	}
	var rf recordFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse records file: %w", err)
	}
	if len(rf.Records) == 0 {
		return nil, fmt.Errorf("records file %s has no records", path)
	}
	return &rf, nil
}

func runBulk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rf, err := loadRecords(bulkFile)
	if err != nil {
		return err
	}
	operation := firstNonEmpty(bulkOperation, rf.Operation, "bulk")
	mode := appCfg.Bulk.Mode
	if bulkMode != "" {
		mode = domain.BulkMode(bulkMode)
	}
	maxRetries := appCfg.Bulk.MaxRetries
	if cmd.Flags().Changed("max-retries") {
		maxRetries = bulkMaxRetries
	}

	monitor := health.NewMonitor(0)
	store, err := openStore(ctx, monitor)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	sink, dead, closeRedis := openRedis(ctx, monitor)
	defer closeRedis()

	debouncer := activity.NewDebouncer(sink, appCfg.Activity)
	defer debouncer.Close()

	if appCfg.Metrics.Enabled {
		srv := health.NewServer(monitor, appCfg.Metrics.Addr)
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(shutdownCtx)
		}()
	}

	run := domain.NewBulkRun(operation, mode, len(rf.Records))
	logger := slog.Default().With("component", "cli", "run_id", run.ID.String())
	logger.Info("Bulk run started", "operation", operation, "mode", mode, "records", len(rf.Records), "dry_run", bulkDryRun)

	records := make([]*domain.Record, len(rf.Records))
	for i := range rf.Records {
		records[i] = &rf.Records[i]
	}

	res, runErr := bulk.ExecuteTransaction[storage.RecordWriter, *domain.Record, string](ctx, store, records,
		func(ctx context.Context, tx storage.RecordWriter, r *domain.Record) (string, error) {
			if err := tx.UpsertRecord(ctx, r); err != nil {
				return "", err
			}
			return r.ID(), nil
		},
		bulk.Options{
			Mode:          mode,
			OperationName: operation,
			MaxRetries:    maxRetries,
			Retry:         appCfg.Retry,
			Concurrency:   appCfg.Bulk.Concurrency,
			Activity:      debouncer,
			Fields:        []any{"run_id", run.ID.String()},
		},
	)
	if res == nil {
		return runErr
	}

	run.Succeeded = res.SuccessCount
	run.Failed = res.FailureCount
	run.Retries = res.RetriesAttempted
	run.RolledBack = res.RolledBack
	if runErr != nil {
		run.Error = runErr.Error()
	}
	run.FinishedAt = time.Now().UTC()

	// The run row is written even when ctx was cancelled.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := store.SaveRun(saveCtx, run); err != nil {
		logger.Error("Failed to save bulk run", "error", err)
	}

	failed := deadLetters(run, res.Results)
	if dead != nil {
		for _, fi := range failed {
			if err := dead.Add(saveCtx, fi); err != nil {
				logger.Warn("Failed to store failed item", "id", fi.ID, "error", err)
			}
		}
	}

	printResults(cmd.OutOrStdout(), res.Results)
	logger.Info("Bulk run finished",
		"succeeded", run.Succeeded,
		"failed", run.Failed,
		"retries", run.Retries,
		"rolled_back", run.RolledBack,
		"duration", res.Duration,
	)

	if runErr != nil {
		return runErr
	}
	if run.Failed > 0 {
		return fmt.Errorf("%d of %d records failed", run.Failed, run.Items)
	}
	return nil
}

func openStore(ctx context.Context, monitor *health.Monitor) (storage.RecordStore, error) {
	if bulkDryRun {
		return memory.NewMemoryStorage(), nil
	}
	db, err := postgres.NewDB(ctx, appCfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		return nil, err
	}
	db.StartMetricsCollector(ctx)
	monitor.Register("database", db.Health, true)
	return db, nil
}

// openRedis connects the activity sink and the failed item queue. Without a
// configured or reachable Redis, activity is logged and failures are not kept.
func openRedis(ctx context.Context, monitor *health.Monitor) (activity.Sink, *redisclient.FailedItemRepo, func()) {
	logSink := activity.LogSink{Logger: slog.Default().With("component", "activity")}
	if appCfg.Redis.URL == "" {
		return logSink, nil, func() {}
	}
	client, err := redisclient.NewClient(ctx, appCfg.Redis)
	if err != nil {
		slog.Warn("Redis unavailable, logging activity instead", "error", err)
		return logSink, nil, func() {}
	}
	monitor.Register("redis", client.Health, false)
	return redisclient.NewActivitySink(client), redisclient.NewFailedItemRepo(client), func() {
		_ = client.Close()
	}
}

// deadLetters selects items that failed on their own account. Items rolled
// back with another item's failure or never attempted are skipped.
func deadLetters(run *domain.BulkRun, results []batch.ItemResult[*domain.Record, string]) []*domain.FailedItem {
	var out []*domain.FailedItem
	for _, ir := range results {
		if ir.Success || !ir.Attempted || ir.Err == nil || errors.Is(ir.Err, bulk.ErrRolledBack) {
			continue
		}
		out = append(out, &domain.FailedItem{
			ID:        ir.Item.ID(),
			RunID:     run.ID.String(),
			Operation: run.Operation,
			ErrorCode: errorCode(ir.Err),
			Error:     ir.Err.Error(),
			Record:    ir.Item,
			FailedAt:  time.Now().UTC(),
		})
	}
	return out
}

func errorCode(err error) string {
	if code := failure.CodeOf(err); code != "" {
		return code
	}
	if code := failure.NetworkCodeOf(err); code != "" {
		return code
	}
	return classify.Classify(err).ErrorType
}

func printResults(out io.Writer, results []batch.ItemResult[*domain.Record, string]) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tRECORD\tSTATUS\tERROR")
	for _, ir := range results {
		status := "ok"
		errText := ""
		switch {
		case ir.Success:
		case !ir.Attempted:
			status = "skipped"
		case errors.Is(ir.Err, bulk.ErrRolledBack):
			status = "rolled back"
		default:
			status = "failed"
		}
		if ir.Err != nil {
			errText = ir.Err.Error()
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", ir.Index, ir.Item.ID(), status, errText)
	}
	_ = w.Flush()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
