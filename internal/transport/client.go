package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	ewmaAlpha    = 0.2
	maxBodyBytes = 16 << 20
	userAgent    = "driftwatch/1.0"
)

// Waiter is satisfied by *ratelimit.Limiter.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Option customises a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithLimiter makes every attempt wait on w first.
func WithLimiter(w Waiter) Option {
	return func(c *Client) {
		c.limiter = w
	}
}

// WithMaxRetries sets how many times a failed attempt is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = max(n, 0)
	}
}

// WithBackOff replaces the retry delay policy. newBackOff is called once
// per Fetch.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(c *Client) {
		if newBackOff != nil {
			c.newBackOff = newBackOff
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client is a retrying JSON GET client bound to one base URL.
type Client struct {
	baseURL    string
	http       *http.Client
	limiter    Waiter
	maxRetries int
	newBackOff func() backoff.BackOff
	logger     *slog.Logger

	mutex            sync.Mutex
	healthy          bool
	attempts         int64
	ewmaResponseTime time.Duration
	hasEWMA          bool
}

// Stats is a point-in-time view of a Client.
type Stats struct {
	BaseURL  string        `json:"base_url"`
	Healthy  bool          `json:"healthy"`
	Attempts int64         `json:"attempts"`
	EWMA     time.Duration `json:"ewma_ns"`
}

// New creates a client for baseURL. It starts healthy with three retries and
// the default exponential backoff (1s doubling, ±25% jitter, 30s cap).
func New(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("transport: base url %q must use http or https", baseURL)
	}

	c := &Client{
		baseURL:    baseURL,
		http:       &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		newBackOff: defaultBackOff,
		logger:     slog.New(slog.DiscardHandler),
		healthy:    true,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0.25
	b.MaxInterval = 30 * time.Second
	return b
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// URL resolves path against the base URL.
func (c *Client) URL(path string) (string, error) {
	return url.JoinPath(c.baseURL, path)
}

// Fetch GETs path and returns the response body. The returned error is the
// last attempt's error; a *StatusError for HTTP failures.
func (c *Client) Fetch(ctx context.Context, path string) ([]byte, error) {
	target, err := c.URL(path)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	attempt := 0
	operation := func() ([]byte, error) {
		attempt++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
		}

		start := time.Now()
		body, err := c.get(ctx, target)
		c.recordAttempt(time.Since(start), err == nil)
		return body, err
	}

	notify := func(err error, next time.Duration) {
		c.logger.Warn("request failed, retrying",
			slog.String("url", target),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.maxRetries+1),
			slog.Duration("wait", next),
			slog.String("error", err.Error()),
		)
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
		backoff.WithNotify(notify),
	)
}

func (c *Client) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, URL: target}
		if resp.StatusCode == http.StatusTooManyRequests {
			statusErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		}
		if !statusErr.Retryable() {
			return nil, backoff.Permanent(statusErr)
		}
		return nil, statusErr
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, backoff.Permanent(fmt.Errorf("GET %s: %w", target, ErrEmptyBody))
	}

	return body, nil
}

// recordAttempt updates health and the EWMA latency:
// ewma = (1 - α) * ewma + α * latest
func (c *Client) recordAttempt(d time.Duration, ok bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.attempts++
	c.healthy = ok
	if !c.hasEWMA {
		c.ewmaResponseTime = d
		c.hasEWMA = true
		return
	}
	c.ewmaResponseTime = time.Duration((1-ewmaAlpha)*float64(c.ewmaResponseTime) + ewmaAlpha*float64(d))
}

// Healthy reports whether the most recent attempt succeeded.
func (c *Client) Healthy() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.healthy
}

// EWMATime returns the moving average attempt latency, or 0 before the
// first attempt.
func (c *Client) EWMATime() time.Duration {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.ewmaResponseTime
}

func (c *Client) Stats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return Stats{
		BaseURL:  c.baseURL,
		Healthy:  c.healthy,
		Attempts: c.attempts,
		EWMA:     c.ewmaResponseTime,
	}
}

// IsStatus reports whether err carries an HTTP status of code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}
