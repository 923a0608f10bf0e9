package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/angeloszaimis/driftwatch/config"
	"github.com/angeloszaimis/driftwatch/internal/circuitbreaker"
	"github.com/angeloszaimis/driftwatch/internal/metrics"
	"github.com/angeloszaimis/driftwatch/internal/probe"
	"github.com/angeloszaimis/driftwatch/internal/ratelimit"
	"github.com/angeloszaimis/driftwatch/internal/store"
	"github.com/angeloszaimis/driftwatch/internal/transport"
	"github.com/angeloszaimis/driftwatch/pkg/logger"
)

const eventBufferSize = 1000

// app holds every component built from one configuration.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	limiter     *ratelimit.Limiter
	breakers    *circuitbreaker.Registry
	client      *transport.Client
	store       store.Store
	provider    *metrics.Provider
	instruments *metrics.Instruments
	collector   *metrics.Collector
	pipeline    *probe.Pipeline

	stopCollector context.CancelFunc
}

func loadApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.Logging.Level
	if opts.verbose {
		level = config.LogLevelDebug
	}
	log := logger.New(level, cfg.Server.Environment == config.EnvDev, cfg.Server.Environment)

	return newApp(ctx, cfg, log)
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: log}

	limiter, err := ratelimit.New(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
	if err != nil {
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}
	a.limiter = limiter

	exporter := metrics.ExporterNone
	if cfg.Metrics.Enabled {
		exporter = cfg.Metrics.Exporter
	}
	a.provider, err = metrics.NewProvider(exporter)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = a.provider.Shutdown(context.WithoutCancel(ctx))
		}
	}()

	// Gauges read the registry lazily; it is created after the collector so
	// breaker transitions can be reported.
	a.instruments, err = metrics.NewInstruments(a.provider.Meter(), metrics.Gauges{
		BreakerStates:   func() map[string]int { return a.breakers.StateValues() },
		AvailableTokens: a.limiter.AvailableTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("create instruments: %w", err)
	}
	a.collector = metrics.NewCollector(eventBufferSize, log, a.instruments)

	a.breakers, err = circuitbreaker.NewRegistry(breakerConfig(cfg.CircuitBreaker),
		circuitbreaker.WithStateChangeHook(a.onStateChange))
	if err != nil {
		return nil, fmt.Errorf("create circuit breakers: %w", err)
	}

	a.client, err = transport.New(cfg.Target.BaseURL,
		transport.WithTimeout(cfg.Probe.Timeout),
		transport.WithMaxRetries(cfg.Probe.MaxRetries),
		transport.WithLimiter(a.limiter),
		transport.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	a.store, err = store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a.pipeline = probe.New(a.client, a.breakers, a.store, log, probe.WithCollector(a.collector))

	collectorCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.stopCollector = cancel
	a.collector.Start(collectorCtx)

	return a, nil
}

func breakerConfig(c config.CircuitBreakerConfig) circuitbreaker.Config {
	return circuitbreaker.Config{
		FailureThreshold: c.FailureThreshold,
		Timeout:          c.Timeout,
		WindowSize:       c.WindowSize,
		WindowDuration:   c.WindowDuration,
		SuccessThreshold: c.SuccessThreshold,
	}
}

func (a *app) onStateChange(endpoint string, from, to circuitbreaker.State) {
	attrs := []any{
		slog.String("endpoint", endpoint),
		slog.String("from", from.String()),
		slog.String("state", to.String()),
	}
	if to == circuitbreaker.StateOpen {
		a.logger.Warn("Circuit breaker opened", attrs...)
	} else {
		a.logger.Info("Circuit breaker state changed", attrs...)
	}

	a.collector.Emit(metrics.MetricEvent{
		Type:     metrics.EventCircuitState,
		Endpoint: endpoint,
		State:    to.String(),
	})
}

// Close drains the collector, then releases the store and meter provider.
func (a *app) Close(ctx context.Context) error {
	a.stopCollector()
	select {
	case <-a.collector.Done():
	case <-ctx.Done():
	}

	return errors.Join(
		a.instruments.Close(),
		a.provider.Shutdown(ctx),
		a.store.Close(),
	)
}
