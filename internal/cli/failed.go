package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	redisclient "github.com/vietddude/retrykit/internal/infra/redis"
)

var failedCmd = &cobra.Command{
	Use:   "failed",
	Short: "Inspect items that failed permanently in bulk runs",
}

var failedListCmd = &cobra.Command{
	Use:   "list [operation]",
	Short: "List failed items of an operation",
	Args:  cobra.ExactArgs(1),
	RunE:  runFailedList,
}

var failedResolveCmd = &cobra.Command{
	Use:   "resolve [operation] [id]",
	Short: "Remove a failed item once it has been handled",
	Args:  cobra.ExactArgs(2),
	RunE:  runFailedResolve,
}

func init() {
	failedCmd.AddCommand(failedListCmd, failedResolveCmd)
	rootCmd.AddCommand(failedCmd)
}

func openFailedRepo(cmd *cobra.Command) (*redisclient.FailedItemRepo, func(), error) {
	if appCfg.Redis.URL == "" {
		return nil, nil, errors.New("redis.url is not configured")
	}
	client, err := redisclient.NewClient(cmd.Context(), appCfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	return redisclient.NewFailedItemRepo(client), func() { _ = client.Close() }, nil
}

func runFailedList(cmd *cobra.Command, args []string) error {
	repo, closeFn, err := openFailedRepo(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	items, err := repo.List(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tRUN\tCODE\tFAILED AT\tERROR")
	for _, fi := range items {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			fi.ID, fi.RunID, fi.ErrorCode, fi.FailedAt.Format(time.RFC3339), fi.Error)
	}
	return w.Flush()
}

func runFailedResolve(cmd *cobra.Command, args []string) error {
	repo, closeFn, err := openFailedRepo(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	return repo.Resolve(cmd.Context(), args[0], args[1])
}
