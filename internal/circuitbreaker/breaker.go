package circuitbreaker

import (
	"fmt"
	"sync"
	"time"
)

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing fast
	StateHalfOpen              // Probing for recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// StateChangeFunc observes breaker transitions. It runs after the breaker's
// lock is released, so it may call back into the breaker.
type StateChangeFunc func(name string, from, to State)

// Option customises a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithClock replaces the time source used for the window and the timeout.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) {
		if now != nil {
			cb.now = now
		}
	}
}

// WithStateChangeHook registers fn to be told about every transition.
func WithStateChangeHook(fn StateChangeFunc) Option {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = fn
	}
}

type outcome struct {
	at      time.Time
	success bool
}

type transition struct {
	from, to State
}

// CircuitBreaker guards one endpoint with a failure-rate state machine over a
// time-bounded sliding window of outcomes.
type CircuitBreaker struct {
	mutex             sync.Mutex
	name              string
	config            Config
	state             State
	history           []outcome
	openedAt          time.Time
	halfOpenSuccesses int

	now           func() time.Time
	onStateChange StateChangeFunc
}

// Stats is a point-in-time view of a breaker.
type Stats struct {
	State       State     `json:"-"`
	StateName   string    `json:"state"`
	StateValue  int       `json:"state_value"`
	Samples     int       `json:"samples"`
	Failures    int       `json:"failures"`
	FailureRate float64   `json:"failure_rate"`
	OpenedAt    time.Time `json:"opened_at,omitzero"`
}

// New creates a CLOSED breaker named after the endpoint it protects.
func New(name string, cfg Config, opts ...Option) (*CircuitBreaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return newBreaker(name, cfg, opts), nil
}

func newBreaker(name string, cfg Config, opts []Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:   name,
		config: cfg,
		state:  StateClosed,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the endpoint name the breaker was created for.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Allow is the gate check performed before a protected call. While OPEN it
// returns ErrCircuitOpen until the timeout has elapsed, at which point the
// breaker moves to HALF_OPEN and lets the call through.
func (cb *CircuitBreaker) Allow() error {
	cb.mutex.Lock()

	var t *transition
	if cb.state == StateOpen {
		elapsed := cb.now().Sub(cb.openedAt)
		if elapsed < cb.config.Timeout {
			openedAt := cb.openedAt
			cb.mutex.Unlock()
			return fmt.Errorf("%w: %s opened at %s, retry in %s",
				ErrCircuitOpen, cb.name, openedAt.Format(time.RFC3339), cb.config.Timeout-elapsed)
		}
		t = cb.setStateLocked(StateHalfOpen)
		cb.halfOpenSuccesses = 0
	}

	cb.mutex.Unlock()
	cb.notify(t)
	return nil
}

// Execute runs fn through the breaker. fn is invoked without holding the
// lock and its error is returned unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}

	err := fn()
	cb.Record(err)
	return err
}

// Call runs fn through cb and returns its value and error unchanged. When
// the circuit is open fn is not invoked and the error wraps ErrCircuitOpen.
func Call[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	if err := cb.Allow(); err != nil {
		var zero T
		return zero, err
	}

	result, err := fn()
	cb.Record(err)
	return result, err
}

// Record reports the outcome of a protected call: nil is a success.
func (cb *CircuitBreaker) Record(err error) {
	if err != nil {
		cb.RecordFailure()
		return
	}
	cb.RecordSuccess()
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()

	now := cb.now()
	cb.history = append(cb.history, outcome{at: now, success: true})
	cb.evictLocked(now)

	var t *transition
	if cb.state == StateHalfOpen {
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.config.SuccessThreshold {
			t = cb.setStateLocked(StateClosed)
			cb.openedAt = time.Time{}
			cb.halfOpenSuccesses = 0
			cb.history = nil
		}
	}

	cb.mutex.Unlock()
	cb.notify(t)
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mutex.Lock()

	now := cb.now()
	cb.history = append(cb.history, outcome{at: now, success: false})
	cb.evictLocked(now)

	var t *transition
	switch cb.state {
	case StateHalfOpen:
		t = cb.setStateLocked(StateOpen)
		cb.openedAt = now
		cb.halfOpenSuccesses = 0
	case StateClosed:
		if len(cb.history) >= cb.config.WindowSize &&
			cb.failureRateLocked() >= cb.config.FailureThreshold {
			t = cb.setStateLocked(StateOpen)
			cb.openedAt = now
		}
	}

	cb.mutex.Unlock()
	cb.notify(t)
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// IsOpen reports whether the breaker is OPEN. It is a plain read and never
// moves an expired OPEN breaker to HALF_OPEN; only Allow does that.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

// StateValue returns the metrics code of the current state:
// CLOSED=0, OPEN=1, HALF_OPEN=2.
func (cb *CircuitBreaker) StateValue() int {
	return int(cb.State())
}

// FailureRate returns failures/samples over the retained window, or 0 when
// fewer than WindowSize samples remain.
func (cb *CircuitBreaker) FailureRate() float64 {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.evictLocked(cb.now())
	return cb.failureRateLocked()
}

func (cb *CircuitBreaker) Stats() Stats {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.evictLocked(cb.now())
	return Stats{
		State:       cb.state,
		StateName:   cb.state.String(),
		StateValue:  int(cb.state),
		Samples:     len(cb.history),
		Failures:    cb.failuresLocked(),
		FailureRate: cb.failureRateLocked(),
		OpenedAt:    cb.openedAt,
	}
}

// Reset forces the breaker CLOSED and forgets all history. It is meant for
// tests and operator intervention.
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()

	t := cb.setStateLocked(StateClosed)
	cb.history = nil
	cb.openedAt = time.Time{}
	cb.halfOpenSuccesses = 0

	cb.mutex.Unlock()
	cb.notify(t)
}

// evictLocked drops outcomes older than the window. History is time ordered,
// so stale entries are always a prefix.
func (cb *CircuitBreaker) evictLocked(now time.Time) {
	cutoff := now.Add(-cb.config.WindowDuration)

	stale := 0
	for stale < len(cb.history) && cb.history[stale].at.Before(cutoff) {
		stale++
	}
	if stale > 0 {
		cb.history = append(cb.history[:0], cb.history[stale:]...)
	}
}

func (cb *CircuitBreaker) failuresLocked() int {
	failures := 0
	for _, o := range cb.history {
		if !o.success {
			failures++
		}
	}
	return failures
}

func (cb *CircuitBreaker) failureRateLocked() float64 {
	if len(cb.history) < cb.config.WindowSize {
		return 0
	}
	return float64(cb.failuresLocked()) / float64(len(cb.history))
}

func (cb *CircuitBreaker) setStateLocked(to State) *transition {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	return &transition{from: from, to: to}
}

func (cb *CircuitBreaker) notify(t *transition) {
	if t == nil || cb.onStateChange == nil {
		return
	}
	cb.onStateChange(cb.name, t.from, t.to)
}
