// Package httpclient wraps net/http with the two resilience behaviours
// every outbound call in the pipeline needs: bounded retry with
// exponential backoff, and a circuit breaker that stops hammering a
// target once it is clearly down (used for the external OCR call and
// webhook delivery; URL-redirect resolution uses the plain retry helper
// without a breaker, since it targets a different site per gazette).
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/qcx/diario-pipeline/pkg/config"
)

// Client performs HTTP requests with retry and an optional circuit
// breaker around the retry loop.
type Client struct {
	http    *http.Client
	retry   config.RetryConfig
	breaker *gobreaker.CircuitBreaker
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the underlying http.Client's timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithBreaker wraps every Do call in a gobreaker.CircuitBreaker named
// name, opening after maxFailures consecutive failures and staying open
// for openTimeout before allowing a single trial request through.
func WithBreaker(name string, maxFailures uint32, openTimeout time.Duration) Option {
	return func(c *Client) {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: openTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
		})
	}
}

// WithCheckRedirect overrides the underlying http.Client's redirect
// policy, for callers that must inspect or short-circuit individual hops
// themselves instead of letting net/http follow them.
func WithCheckRedirect(fn func(req *http.Request, via []*http.Request) error) Option {
	return func(c *Client) { c.http.CheckRedirect = fn }
}

// SetTransport overrides the underlying transport after construction.
// Production callers configure everything through New/Option; this
// exists for tests that need to redirect dials without touching the
// retry/backoff behaviour.
func (c *Client) SetTransport(rt http.RoundTripper) {
	c.http.Transport = rt
}

// New builds a Client from the shared retry policy.
func New(retry config.RetryConfig, opts ...Option) *Client {
	c := &Client{
		http:  &http.Client{Timeout: 30 * time.Second},
		retry: retry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ErrCircuitOpen is returned when the breaker rejects a call outright.
var ErrCircuitOpen = errors.New("httpclient: circuit breaker open")

// Do executes req with retry and, if configured, a circuit breaker
// around the whole retry loop. newReq builds a fresh *http.Request for
// each attempt, since a request body can only be read once. Retries a
// response whose status is 5xx or 429, and any transport-level error;
// other statuses are returned immediately for the caller to interpret.
func (c *Client) Do(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	call := func() (*http.Response, error) {
		return c.doWithRetry(ctx, newReq)
	}

	if c.breaker == nil {
		return call()
	}

	resp, err := c.breaker.Execute(func() (any, error) {
		r, e := call()
		return r, e
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCircuitOpen
		}
		return nil, err
	}
	return resp.(*http.Response), nil
}

func (c *Client) doWithRetry(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	maxAttempts := c.retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff(attempt)):
			}
		}

		req, err := newReq(ctx)
		if err != nil {
			return nil, fmt.Errorf("httpclient: build request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("httpclient: status %d", resp.StatusCode)
			drainAndClose(resp)
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

func (c *Client) backoff(attempt int) time.Duration {
	initial := c.retry.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	max := c.retry.MaxBackoff
	if max <= 0 {
		max = 30 * time.Second
	}
	mult := c.retry.BackoffMultiplier
	if mult <= 0 {
		mult = 2
	}

	d := time.Duration(float64(initial) * math.Pow(mult, float64(attempt-1)))
	if d > max {
		d = max
	}
	return d
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
