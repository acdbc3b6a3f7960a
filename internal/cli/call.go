package cli

import (
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/retrykit/internal/infra/rpc"
)

var (
	callURL    string
	callMethod string
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Call a URL with retries and print every attempt",
	Args:  cobra.NoArgs,
	RunE:  runCall,
}

func init() {
	callCmd.Flags().StringVar(&callURL, "url", "", "URL to call")
	callCmd.Flags().StringVar(&callMethod, "method", http.MethodGet, "HTTP method")
	_ = callCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	client := rpc.NewHTTPClient(
		rpc.HTTPConfig{Name: "call", Timeout: appCfg.Call.Timeout},
		appCfg.RetryOptions("call"),
	)

	res, err := client.Do(cmd.Context(), strings.ToUpper(callMethod), callURL, nil)

	out := cmd.OutOrStdout()
	if rc := res.Context; rc != nil {
		w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
		_, _ = fmt.Fprintln(w, "ATTEMPT\tCODE\tRETRYABLE\tTIMEOUT\tDELAY\tERROR")
		for _, rec := range rc.History {
			_, _ = fmt.Fprintf(w, "%d\t%s\t%t\t%s\t%s\t%s\n",
				rec.Attempt, rec.ErrorCode, rec.Classification.IsRetryable, rec.Timeout, rec.Delay, rec.Message)
		}
		_ = w.Flush()
	}
	if err != nil {
		_, _ = fmt.Fprintf(out, "failed after %s: %v\n", res.Duration, err)
		return err
	}
	_, _ = fmt.Fprintf(out, "%d %s, %d bytes in %s\n",
		res.Value.StatusCode, http.StatusText(res.Value.StatusCode), len(res.Value.Body), res.Duration)
	return nil
}
