package circuitbreaker

import "errors"

var (
	// ErrCircuitOpen is returned by gated calls while the breaker is OPEN and
	// its timeout has not elapsed. Callers should skip the cycle rather than
	// retry immediately.
	ErrCircuitOpen = errors.New("circuitbreaker: circuit is open")

	// ErrInvalidConfig is returned when a breaker is built from an unusable Config.
	ErrInvalidConfig = errors.New("circuitbreaker: invalid configuration")
)
