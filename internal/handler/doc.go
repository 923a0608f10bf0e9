// Package handler implements the admin HTTP API: liveness, circuit breaker
// inspection and reset, rate limiter state, and stored schema versions.
package handler
