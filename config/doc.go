// Package config handles loading and parsing of configuration from YAML files
// and environment variables. It defines the probe target and its endpoints,
// the rate limit and circuit breaker settings, persistence, metrics export
// and the admin server.
package config
