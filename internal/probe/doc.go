// Package probe drives the request pipeline: for each target it gates the
// fetch through the endpoint's circuit breaker, extracts the payload's
// structural snapshot, compares it with the latest stored version and
// persists a new version when the shape has drifted.
//
// Scheduler repeats the pipeline for every configured target on a fixed
// interval with bounded concurrency.
package probe
