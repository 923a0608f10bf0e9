// Package circuitbreaker implements a failure-rate circuit breaker over a
// time-bounded sliding window of call outcomes.
//
// A breaker has three states:
//
//   - CLOSED: calls pass through and outcomes are recorded
//   - OPEN: calls fail fast with ErrCircuitOpen until the timeout elapses
//   - HALF_OPEN: calls pass through as probes; SuccessThreshold successes
//     close the circuit and any failure reopens it
//
// The circuit opens once at least WindowSize outcomes are retained and the
// failure rate among them reaches FailureThreshold. Outcomes older than
// WindowDuration are evicted lazily on access.
//
// Usage:
//
//	registry, err := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())
//	cb := registry.GetBreaker("pokemon")
//	body, err := circuitbreaker.Call(cb, func() ([]byte, error) {
//	    return client.Fetch(ctx, url)
//	})
//	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
//	    // skip this cycle
//	}
package circuitbreaker
