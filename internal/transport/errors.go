package transport

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrEmptyBody is returned when a successful response carries no document.
var ErrEmptyBody = errors.New("transport: empty response body")

// defaultRetryAfter is used when a 429 carries no usable Retry-After.
const defaultRetryAfter = time.Second

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	URL        string
	// RetryAfter is the server-requested delay of a 429 response.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Unwrap exposes the Retry-After delay of a 429 to the retry loop.
func (e *StatusError) Unwrap() error {
	if e.StatusCode != http.StatusTooManyRequests {
		return nil
	}
	return backoff.RetryAfter(int(math.Ceil(e.RetryAfter.Seconds())))
}

// Retryable reports whether another attempt could succeed.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// FailureReason classifies err for metrics: rate_limit_exceeded, http_<code>,
// timeout, empty_body or network_error.
func FailureReason(err error) string {
	var statusErr *StatusError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &statusErr):
		if statusErr.StatusCode == http.StatusTooManyRequests {
			return "rate_limit_exceeded"
		}
		return "http_" + strconv.Itoa(statusErr.StatusCode)
	case errors.Is(err, ErrEmptyBody):
		return "empty_body"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "network_error"
	}
}

// parseRetryAfter accepts delay-seconds (fractions allowed) or an HTTP date.
func parseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return defaultRetryAfter
	}

	if secs, err := strconv.ParseFloat(header, 64); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}

	if at, err := http.ParseTime(header); err == nil {
		return max(at.Sub(now), 0)
	}

	return defaultRetryAfter
}
