package ratelimit

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ErrInvalidConfig is returned by New when the bucket parameters are unusable.
var ErrInvalidConfig = errors.New("ratelimit: invalid configuration")

// tokenEpsilon is the rounding tolerance applied when checking for a whole token.
const tokenEpsilon = 1e-9

// Limiter is a token bucket rate limiter safe for concurrent use.
type Limiter struct {
	mutex      sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastUpdate time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock replaces the time source. The clock must be monotonic.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSleeper replaces the function used to suspend a waiting caller.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

// New creates a full bucket allowing maxRequests calls per window.
func New(maxRequests int, window time.Duration, opts ...Option) (*Limiter, error) {
	err := validation.Errors{
		"max_requests": validation.Validate(maxRequests, validation.Required, validation.Min(1)),
		"window":       validation.Validate(window, validation.Required, validation.Min(time.Duration(1))),
	}.Filter()
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	l := &Limiter{
		capacity:   float64(maxRequests),
		tokens:     float64(maxRequests),
		refillRate: float64(maxRequests) / window.Seconds(),
		now:        time.Now,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastUpdate = l.now()

	return l, nil
}

// Acquire blocks until a token is available and consumes it. It never fails.
func (l *Limiter) Acquire() {
	_ = l.Wait(context.Background())
}

// Wait blocks until a token is available and consumes it, or returns the
// context error if ctx is done first. No token is consumed on error.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mutex.Lock()
		l.refillLocked()
		if l.tokens+tokenEpsilon >= 1 {
			l.tokens = math.Max(0, l.tokens-1)
			l.mutex.Unlock()
			return nil
		}
		wait := l.waitLocked()
		l.mutex.Unlock()

		// Another caller may take the refilled token while we sleep, so the
		// check runs again from the top after waking.
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// AvailableTokens returns the current, possibly fractional, balance including
// refill accrued since the last update. It does not change the bucket.
func (l *Limiter) AvailableTokens() float64 {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	elapsed := l.now().Sub(l.lastUpdate).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return math.Min(l.capacity, l.tokens+elapsed*l.refillRate)
}

// Reset refills the bucket to capacity immediately.
func (l *Limiter) Reset() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.tokens = l.capacity
	l.lastUpdate = l.now()
}

// Capacity returns the maximum number of tokens the bucket holds.
func (l *Limiter) Capacity() float64 {
	return l.capacity
}

// RefillRate returns the refill rate in tokens per second.
func (l *Limiter) RefillRate() float64 {
	return l.refillRate
}

func (l *Limiter) refillLocked() {
	now := l.now()
	elapsed := now.Sub(l.lastUpdate).Seconds()
	if elapsed > 0 {
		l.tokens = math.Min(l.capacity, l.tokens+elapsed*l.refillRate)
	}
	l.lastUpdate = now
}

// waitLocked returns how long until one whole token has accrued, rounded up
// so a caller never wakes a fraction too early.
func (l *Limiter) waitLocked() time.Duration {
	seconds := (1 - l.tokens) / l.refillRate
	return time.Duration(math.Ceil(seconds * float64(time.Second)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
