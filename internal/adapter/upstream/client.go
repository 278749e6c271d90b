// Package upstream is the single path for outbound HTTP to enrichment data
// sources. Every call goes through a per-source circuit breaker and a bounded
// exponential retry on 429 and 5xx responses.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/couchcryptid/incident-enrichment-service/internal/domain"
	"github.com/couchcryptid/incident-enrichment-service/internal/observability"
)

const maxErrorBody = 512

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy returns the policy used for public data APIs.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    250 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}
}

// StatusError is a non-success HTTP status from a source.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// Client issues GET requests to one named source.
type Client struct {
	source     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	retry      RetryPolicy
	userAgent  string
	tripAfter  uint32
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithTripAfter sets how many consecutive failures open the breaker.
func WithTripAfter(n uint32) Option {
	return func(c *Client) { c.tripAfter = n }
}

// New creates a Client for source. The source name labels metrics, logs and
// the circuit breaker.
func New(source string, httpClient *http.Client, retry RetryPolicy, metrics *observability.Metrics, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		source:     source,
		httpClient: httpClient,
		retry:      retry,
		userAgent:  "incident-enrichment-service",
		tripAfter:  5,
		metrics:    metrics,
		logger:     logger.With("source", source),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        source,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.tripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change", "from", from.String(), "to", to.String())
		},
	})
	return c
}

// Source returns the source name.
func (c *Client) Source() string {
	return c.source
}

// Get fetches rawURL. Responses other than 429 and 5xx are returned as-is
// and the caller must close the body. Exhausted retries, an open breaker, or
// a transport failure yield domain.ErrSourceUnavailable.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	var resp *http.Response

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		start := time.Now()
		r, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.httpClient.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, &StatusError{Code: r.StatusCode}
			}
			return r, nil
		})
		c.observe(r, err, time.Since(start))

		if err != nil {
			if r != nil {
				drain(r)
			}
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			c.logger.Debug("upstream attempt failed", "error", err)
			return err
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(op, c.policy(ctx)); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrSourceUnavailable, c.source, err)
	}
	return resp, nil
}

// GetJSON fetches rawURL and decodes a 200 response into v. Any other status
// is a domain.ErrSourceUnavailable wrapping a *StatusError.
func (c *Client) GetJSON(ctx context.Context, rawURL string, v any) error {
	resp, err := c.Get(ctx, rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: %w", domain.ErrSourceUnavailable, c.source, readStatusError(resp))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %s: decode response: %w", domain.ErrSourceUnavailable, c.source, err)
	}
	return nil
}

func (c *Client) policy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.MinWait
	b.MaxInterval = c.retry.MaxWait
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(c.retry.MaxRetries, 0))), ctx)
}

func (c *Client) observe(resp *http.Response, err error, elapsed time.Duration) {
	status := "error"
	switch {
	case resp != nil:
		status = strconv.Itoa(resp.StatusCode)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		status = "breaker_open"
	}
	c.metrics.UpstreamRequests.WithLabelValues(c.source, status).Inc()
	c.metrics.UpstreamDuration.WithLabelValues(c.source).Observe(elapsed.Seconds())
}

// readStatusError consumes resp.Body into a StatusError.
func readStatusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Code: resp.StatusCode, Body: string(body)}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
