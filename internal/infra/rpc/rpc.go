// Package rpc carries remote calls over HTTP and gRPC through the retry engine.
//
// Transport failures are turned into failure.HTTPError and failure.NetworkError
// values so the classifier can see status codes, headers and errno codes. Every
// attempt runs under the RetryContext's progressive timeout.
package rpc

import (
	"log/slog"

	"github.com/vietddude/retrykit/internal/resilience/retry"
)

func withDefaults(opts retry.Options, name, component string) retry.Options {
	if opts.OperationName == "" {
		opts.OperationName = name
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", component)
	}
	return opts
}
