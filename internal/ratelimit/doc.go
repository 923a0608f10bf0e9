// Package ratelimit implements a continuous-refill token bucket used to
// throttle outbound probe requests.
//
// The bucket holds up to maxRequests tokens and refills at
// maxRequests/window tokens per second. Each outbound request consumes one
// token; a full bucket allows a burst of maxRequests calls, after which callers
// proceed at the steady refill rate.
//
// Usage:
//
//	limiter, err := ratelimit.New(100, time.Minute)
//	if err != nil {
//	    return err
//	}
//	limiter.Acquire() // blocks until a token is available
//
// Acquire has no timeout and no cancellation: if the bucket never refills the
// caller waits forever. Use Wait with a context when the caller must be able
// to give up.
package ratelimit
