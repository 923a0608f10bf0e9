package probe

import (
	"context"
	"errors"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/driftwatch/internal/circuitbreaker"
)

// Prober runs the pipeline for a single target.
type Prober interface {
	Probe(ctx context.Context, t Target) (Result, error)
}

// Scheduler probes a fixed set of targets periodically.
type Scheduler struct {
	prober   Prober
	targets  []Target
	interval time.Duration
	workers  int
	logger   *slog.Logger
}

func NewScheduler(prober Prober, targets []Target, interval time.Duration, workers int, logger *slog.Logger) (*Scheduler, error) {
	err := validation.Errors{
		"targets":  validation.Validate(targets, validation.Required),
		"interval": validation.Validate(int64(interval), validation.Required, validation.Min(int64(1))),
		"workers":  validation.Validate(workers, validation.Required, validation.Min(1)),
	}.Filter()
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		prober:   prober,
		targets:  targets,
		interval: interval,
		workers:  workers,
		logger:   logger,
	}, nil
}

// Run probes every target immediately and then on each interval tick until
// ctx is cancelled. A cycle still in flight when the tick fires delays the
// next one.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Probe scheduler started",
		slog.Int("targets", len(s.targets)),
		slog.Duration("interval", s.interval),
		slog.Int("workers", s.workers))

	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Probe scheduler stopped")
			return

		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce probes every target with at most workers probes in flight and
// returns the results in target order.
func (s *Scheduler) RunOnce(ctx context.Context) []Result {
	results := make([]Result, len(s.targets))

	var g errgroup.Group
	g.SetLimit(s.workers)

	for i, t := range s.targets {
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = Result{Target: t, Skipped: true}
				return nil
			}
			// Failures are logged by the pipeline; one target must not stop the cycle.
			results[i], _ = s.prober.Probe(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	var skipped, changed int
	for _, r := range results {
		if r.Skipped {
			skipped++
		}
		if r.Changed() {
			changed++
		}
	}
	s.logger.Debug("Probe cycle finished",
		slog.Int("targets", len(results)),
		slog.Int("skipped", skipped),
		slog.Int("changed", changed))

	return results
}

// IsCircuitOpen reports whether err came from an open circuit.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, circuitbreaker.ErrCircuitOpen)
}
