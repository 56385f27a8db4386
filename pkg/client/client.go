// Package client provides the upstream HTTP fetcher used by the caching
// proxy: the "network" every strategy falls back from.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for upstream requests.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "botdash_upstream_requests_total",
		Help: "Total upstream requests by error class and status",
	}, []string{"class", "status"})

	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "botdash_upstream_request_duration_seconds",
		Help:    "Upstream request duration in seconds by method",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method"})
)

// ErrorClass represents a classification of upstream failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents transport errors: refused, reset, DNS, timeout.
	ErrorClassNetwork ErrorClass = "network"
)

// Client performs upstream requests.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// UserAgent is set on requests that do not carry one.
	UserAgent string

	// Timeout bounds a single upstream request. The caching strategies add
	// no timeout of their own.
	Timeout time.Duration

	// Transport overrides the HTTP transport (nil means http.DefaultTransport).
	Transport http.RoundTripper
}

// DefaultConfig returns a default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent: userAgent,
		Timeout:   30 * time.Second,
	}
}

// New creates a new upstream client.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0 (got %s)", cfg.Timeout)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
			// Redirects are handed back to the caller untouched.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		config: cfg,
		logger: log.With().Str("component", "upstream").Logger(),
	}, nil
}

// Do performs a single upstream request.
//
// Any HTTP response, whatever its status, is returned without error; the
// caller decides what a non-2xx means. Transport failures are returned as
// *UpstreamError with ErrorClassNetwork. Nothing is retried.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" && c.config.UserAgent != "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	upstreamRequestDuration.WithLabelValues(req.Method).Observe(time.Since(startTime).Seconds())

	if err != nil {
		upstreamRequestsTotal.WithLabelValues(string(ErrorClassNetwork), "network_error").Inc()
		c.logger.Debug().Err(err).
			Str("method", req.Method).
			Str("url", req.URL.String()).
			Msg("Upstream request failed")
		return nil, &UpstreamError{
			ErrorClass: ErrorClassNetwork,
			URL:        req.URL.String(),
			Message:    "request failed",
			Err:        err,
		}
	}

	class := classifyError(resp, nil)
	upstreamRequestsTotal.WithLabelValues(string(class), strconv.Itoa(resp.StatusCode)).Inc()
	c.logger.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(startTime)).
		Msg("Upstream request completed")

	return resp, nil
}

// Get performs a GET request to an absolute URL.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.Do(req)
}

// RoundTrip lets the client serve as the network layer of another http.Client.
func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	return c.Do(req)
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// OK reports whether resp carries a 2xx status.
func OK(resp *http.Response) bool {
	return resp != nil && resp.StatusCode >= 200 && resp.StatusCode < 300
}

// classifyError categorizes an upstream outcome for observability.
// Successful responses have no class.
func classifyError(resp *http.Response, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}

	switch {
	case resp == nil:
		return ErrorClassNetwork
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return ErrorClassClient
	case resp.StatusCode >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}
