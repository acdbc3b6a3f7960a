package rpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vietddude/retrykit/internal/core/failure"
	"github.com/vietddude/retrykit/internal/resilience/retry"
)

// maxErrorBody bounds how much of a failed response is kept in HTTPError.
const maxErrorBody = 4 << 10

// Response is a successful (2xx) HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	Name    string
	BaseURL string
	// Timeout caps a whole attempt on top of the progressive per-attempt timeout.
	Timeout time.Duration
	Header  http.Header
}

// HTTPClient issues HTTP requests with retries.
type HTTPClient struct {
	name       string
	baseURL    string
	header     http.Header
	httpClient *http.Client
	opts       retry.Options
}

// NewHTTPClient creates a new retrying HTTP client.
func NewHTTPClient(cfg HTTPConfig, opts retry.Options) *HTTPClient {
	name := cfg.Name
	if name == "" {
		name = "http"
	}
	return &HTTPClient{
		name:    name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		header:  cfg.Header,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts: withDefaults(opts, name, "rpc.http"),
	}
}

// Get issues a GET request for path.
func (c *HTTPClient) Get(ctx context.Context, path string) (retry.Detailed[*Response], error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Do sends one request per attempt until a 2xx response, a permanent failure or
// exhaustion. body is replayed on every attempt.
func (c *HTTPClient) Do(ctx context.Context, method, path string, body []byte) (retry.Detailed[*Response], error) {
	url := c.baseURL + path
	op := func(ctx context.Context, rc *retry.RetryContext) (*Response, error) {
		actx, cancel := rc.AttemptContext(ctx)
		defer cancel()

		resp, err := c.send(actx, method, url, body)
		if err != nil && actx.Err() != nil && ctx.Err() == nil {
			return nil, &failure.NetworkError{
				Code: "ETIMEDOUT",
				Op:   fmt.Sprintf("%s %s", method, url),
				Err:  fmt.Errorf("attempt %d timed out after %s: %w", rc.Attempt+1, rc.CurrentTimeout, err),
			}
		}
		return resp, err
	}
	return retry.DoDetailed[*Response](ctx, op, c.opts)
}

func (c *HTTPClient) send(ctx context.Context, method, url string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vals := range c.header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		op := fmt.Sprintf("%s %s", method, url)
		if netErr := failure.NewNetworkError(op, err); netErr != nil {
			return nil, netErr
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &failure.HTTPError{
			StatusCode: resp.StatusCode,
			Method:     method,
			URL:        url,
			Header:     resp.Header.Clone(),
			Body:       string(data),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}
