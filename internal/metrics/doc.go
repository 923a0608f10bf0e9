// Package metrics collects probe metrics and exports them.
//
// Components emit MetricEvents on a buffered channel; a single collector
// goroutine folds them into per-endpoint aggregates and, when configured,
// OpenTelemetry instruments:
//   - probe counts and failures by reason
//   - probe latency with percentiles (P50, P95, P99)
//   - circuit-open rejections and breaker state
//   - schema changes by kind
//
// Emit never blocks: when the buffer is full the event is dropped and
// counted. On shutdown the collector drains whatever is still buffered.
//
// Example usage:
//
//	provider, _ := metrics.NewProvider(metrics.ExporterPrometheus)
//	instruments, _ := metrics.NewInstruments(provider.Meter(), metrics.Gauges{
//		BreakerStates:   registry.StateValues,
//		AvailableTokens: limiter.AvailableTokens,
//	})
//	collector := metrics.NewCollector(1000, logger, instruments)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:     metrics.EventProbeSucceeded,
//		Endpoint: "pokemon",
//		Duration: 150 * time.Millisecond,
//	})
package metrics
