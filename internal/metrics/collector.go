package metrics

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

type EventType string

const (
	EventProbeSucceeded  EventType = "probe_succeeded"
	EventProbeFailed     EventType = "probe_failed"
	EventCircuitRejected EventType = "circuit_rejected"
	EventSchemaChanged   EventType = "schema_changed"
	EventCircuitState    EventType = "circuit_state"
)

type MetricEvent struct {
	Type      EventType
	Timestamp time.Time
	Endpoint  string
	Duration  time.Duration
	// Reason classifies a failed probe, e.g. http_503 or network_error.
	Reason string
	// ChangeKind is the schema change kind, e.g. field_added.
	ChangeKind string
	// State is the breaker state after a transition.
	State string
}

type Collector struct {
	eventCh     chan MetricEvent
	metrics     *Metrics
	instruments *Instruments
	logger      *slog.Logger
	dropped     atomic.Int64
	done        chan struct{}
}

// NewCollector creates a collector. instruments may be nil.
func NewCollector(bufferSize int, logger *slog.Logger, instruments *Instruments) *Collector {
	return &Collector{
		eventCh:     make(chan MetricEvent, bufferSize),
		metrics:     NewMetrics(),
		instruments: instruments,
		logger:      logger,
		done:        make(chan struct{}),
	}
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

// Emit queues event without blocking. It reports false when the event was
// dropped because the buffer is full.
func (c *Collector) Emit(event MetricEvent) bool {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Dropped returns the number of events Emit has discarded.
func (c *Collector) Dropped() int64 {
	return c.dropped.Load()
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

// Done is closed once the collector has drained and stopped.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")
	defer close(c.done)

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	// Instruments are recorded detached from any request context.
	ctx := context.Background()

	switch event.Type {
	case EventProbeSucceeded:
		c.metrics.RecordSuccess(event.Endpoint, event.Duration, event.Timestamp)
		c.instruments.RecordProbe(ctx, event.Endpoint, event.Duration, "")

	case EventProbeFailed:
		c.metrics.RecordFailure(event.Endpoint, event.Reason, event.Duration)
		c.instruments.RecordProbe(ctx, event.Endpoint, event.Duration, event.Reason)

	case EventCircuitRejected:
		c.metrics.RecordRejection(event.Endpoint)
		c.instruments.RecordCircuitRejection(ctx, event.Endpoint)

	case EventSchemaChanged:
		c.metrics.RecordSchemaChange(event.Endpoint, event.ChangeKind)
		c.instruments.RecordSchemaChange(ctx, event.Endpoint, event.ChangeKind)

	case EventCircuitState:
		c.metrics.RecordCircuitState(event.Endpoint, event.State)

	default:
		c.logger.Debug("unknown metric event", slog.String("type", string(event.Type)))
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}
