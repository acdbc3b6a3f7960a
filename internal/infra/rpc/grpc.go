package rpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/vietddude/retrykit/internal/resilience/retry"
)

// UnaryClientInterceptor retries unary calls through retry.Do. The method name
// is used as the operation name unless opts sets one. Each attempt gets the
// progressive timeout as its deadline.
func UnaryClientInterceptor(opts retry.Options) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		callOpts ...grpc.CallOption,
	) error {
		o := withDefaults(opts, method, "rpc.grpc")
		_, err := retry.Do[struct{}](ctx, func(ctx context.Context, rc *retry.RetryContext) (struct{}, error) {
			actx, cancel := rc.AttemptContext(ctx)
			defer cancel()
			return struct{}{}, invoker(actx, method, req, reply, cc, callOpts...)
		}, o)
		return err
	}
}

// NewGRPCConn creates a client connection whose unary calls are retried.
// https:// endpoints and :443 targets use TLS.
func NewGRPCConn(endpoint string, opts retry.Options, dialOpts ...grpc.DialOption) (*grpc.ClientConn, error) {
	target := endpoint
	var all []grpc.DialOption

	if strings.HasPrefix(endpoint, "https://") || strings.HasSuffix(endpoint, ":443") {
		all = append(all, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
		target = strings.TrimPrefix(target, "https://")
	} else {
		all = append(all, grpc.WithTransportCredentials(insecure.NewCredentials()))
		target = strings.TrimPrefix(target, "http://")
	}
	all = append(all, grpc.WithUnaryInterceptor(UnaryClientInterceptor(opts)))
	all = append(all, dialOpts...)

	conn, err := grpc.NewClient(target, all...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}
	return conn, nil
}
