package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Gauges supplies the values observed on every collection. Either field may
// be nil.
type Gauges struct {
	// BreakerStates maps endpoints to breaker state codes (0/1/2).
	BreakerStates func() map[string]int
	// AvailableTokens is the rate limiter's current balance.
	AvailableTokens func() float64
}

// Instruments records probe metrics as OpenTelemetry instruments. A nil
// *Instruments records nothing.
type Instruments struct {
	requests       metric.Int64Counter
	failures       metric.Int64Counter
	duration       metric.Float64Histogram
	openRejections metric.Int64Counter
	schemaChanges  metric.Int64Counter
	registration   metric.Registration
}

func NewInstruments(meter metric.Meter, gauges Gauges) (*Instruments, error) {
	requests, err := meter.Int64Counter(
		"driftwatch.probe.requests",
		metric.WithDescription("Probes that reached the target API"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter(
		"driftwatch.probe.failures",
		metric.WithDescription("Failed probes by reason"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"driftwatch.probe.duration_ms",
		metric.WithDescription("Probe fetch duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	openRejections, err := meter.Int64Counter(
		"driftwatch.circuit.open_rejections",
		metric.WithDescription("Probes skipped because the endpoint's circuit was open"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return nil, err
	}

	schemaChanges, err := meter.Int64Counter(
		"driftwatch.schema.changes",
		metric.WithDescription("Detected schema changes by kind"),
		metric.WithUnit("{change}"),
	)
	if err != nil {
		return nil, err
	}

	inst := &Instruments{
		requests:       requests,
		failures:       failures,
		duration:       duration,
		openRejections: openRejections,
		schemaChanges:  schemaChanges,
	}

	if err := inst.registerGauges(meter, gauges); err != nil {
		return nil, err
	}

	return inst, nil
}

func (i *Instruments) registerGauges(meter metric.Meter, gauges Gauges) error {
	var observables []metric.Observable

	circuitState, err := meter.Int64ObservableGauge(
		"driftwatch.circuit.state",
		metric.WithDescription("Circuit breaker state: 0 closed, 1 open, 2 half-open"),
	)
	if err != nil {
		return err
	}
	if gauges.BreakerStates != nil {
		observables = append(observables, circuitState)
	}

	tokens, err := meter.Float64ObservableGauge(
		"driftwatch.ratelimit.available_tokens",
		metric.WithDescription("Tokens currently available in the rate limiter"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return err
	}
	if gauges.AvailableTokens != nil {
		observables = append(observables, tokens)
	}

	if len(observables) == 0 {
		return nil
	}

	i.registration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		if gauges.BreakerStates != nil {
			for endpoint, state := range gauges.BreakerStates() {
				o.ObserveInt64(circuitState, int64(state),
					metric.WithAttributes(attribute.String("endpoint", endpoint)))
			}
		}
		if gauges.AvailableTokens != nil {
			o.ObserveFloat64(tokens, gauges.AvailableTokens())
		}
		return nil
	}, observables...)
	return err
}

// RecordProbe records one completed probe. An empty reason means success.
func (i *Instruments) RecordProbe(ctx context.Context, endpoint string, d time.Duration, reason string) {
	if i == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("endpoint", endpoint))
	i.requests.Add(ctx, 1, attrs)
	i.duration.Record(ctx, float64(d)/float64(time.Millisecond), attrs)

	if reason != "" {
		i.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("reason", reason),
		))
	}
}

func (i *Instruments) RecordCircuitRejection(ctx context.Context, endpoint string) {
	if i == nil {
		return
	}
	i.openRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

func (i *Instruments) RecordSchemaChange(ctx context.Context, endpoint, kind string) {
	if i == nil {
		return
	}
	i.schemaChanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("kind", kind),
	))
}

// Close stops observing the gauges.
func (i *Instruments) Close() error {
	if i == nil || i.registration == nil {
		return nil
	}
	return i.registration.Unregister()
}
