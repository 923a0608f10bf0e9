// Package transport fetches JSON documents from the probed API.
//
// Every attempt first waits on the shared rate limiter. Network errors and
// 5xx responses are retried with exponential backoff and jitter, 429
// responses wait for the server's Retry-After, and any other 4xx fails
// immediately. The client also tracks whether the last fetch succeeded and
// an exponentially weighted moving average of attempt latency.
package transport
