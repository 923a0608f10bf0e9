package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/driftwatch/config"
	"github.com/angeloszaimis/driftwatch/internal/circuitbreaker"
	"github.com/angeloszaimis/driftwatch/internal/metrics"
	"github.com/angeloszaimis/driftwatch/internal/schema"
	"github.com/angeloszaimis/driftwatch/internal/store"
	"github.com/angeloszaimis/driftwatch/internal/transport"
)

// ErrInvalidPayload is returned when a response body is not a single JSON
// document.
var ErrInvalidPayload = errors.New("probe: invalid JSON payload")

// Fetcher retrieves the raw body for a path relative to the target API.
type Fetcher interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
}

// Target is one probed resource, e.g. pokemon/1.
type Target struct {
	Endpoint   string
	ResourceID string
}

func (t Target) Path() string {
	return path.Join(t.Endpoint, t.ResourceID)
}

func (t Target) String() string {
	return t.Path()
}

// TargetsFromConfig expands every endpoint's resources into targets, in
// configuration order.
func TargetsFromConfig(endpoints []config.EndpointConfig) []Target {
	var targets []Target
	for _, ep := range endpoints {
		for _, id := range ep.Resources {
			targets = append(targets, Target{Endpoint: ep.Name, ResourceID: id})
		}
	}
	return targets
}

// Result describes one pass through the pipeline.
type Result struct {
	RunID  string `json:"run_id"`
	Target Target `json:"-"`
	// Skipped is set when the circuit was open and nothing was fetched.
	Skipped bool `json:"skipped"`
	// Baseline is set when this was the first snapshot seen for the endpoint.
	Baseline      bool            `json:"baseline"`
	ResponseID    int64           `json:"response_id,omitempty"`
	SchemaVersion int64           `json:"schema_version,omitempty"`
	Snapshot      schema.Snapshot `json:"schema"`
	Diff          schema.Diff     `json:"diff"`
	Duration      time.Duration   `json:"duration"`
	StartedAt     time.Time       `json:"started_at"`
}

// Changed reports whether a new schema version was stored because the
// endpoint's shape drifted.
func (r Result) Changed() bool {
	return !r.Baseline && r.Diff.HasChanges()
}

type Option func(*Pipeline)

// WithCollector emits probe events to c.
func WithCollector(c *metrics.Collector) Option {
	return func(p *Pipeline) {
		p.collector = c
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

type Pipeline struct {
	fetcher   Fetcher
	breakers  *circuitbreaker.Registry
	store     store.Store
	collector *metrics.Collector
	logger    *slog.Logger
	now       func() time.Time

	// locks serializes compare-and-store per endpoint.
	locksMutex sync.Mutex
	locks      map[string]*sync.Mutex
}

func New(fetcher Fetcher, breakers *circuitbreaker.Registry, st store.Store, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher:  fetcher,
		breakers: breakers,
		store:    st,
		logger:   logger,
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe runs the pipeline once for t. When the endpoint's circuit is open
// the returned error wraps circuitbreaker.ErrCircuitOpen and the result is
// marked Skipped.
func (p *Pipeline) Probe(ctx context.Context, t Target) (Result, error) {
	result := Result{
		RunID:     uuid.NewString(),
		Target:    t,
		StartedAt: p.now(),
	}
	log := p.logger.With(
		slog.String("run_id", result.RunID),
		slog.String("endpoint", t.Endpoint),
		slog.String("resource_id", t.ResourceID),
	)

	cb := p.breakers.GetBreaker(t.Endpoint)
	if err := cb.Allow(); err != nil {
		result.Skipped = true
		p.emit(metrics.MetricEvent{Type: metrics.EventCircuitRejected, Endpoint: t.Endpoint})
		log.Info("Circuit open, skipping probe", slog.String("error", err.Error()))
		return result, err
	}

	body, value, err := p.fetch(ctx, t)
	result.Duration = p.now().Sub(result.StartedAt)

	// A probe cut short by the caller says nothing about the endpoint.
	if err == nil || ctx.Err() == nil {
		cb.Record(err)
	}

	if err != nil {
		reason := failureReason(err)
		p.emit(metrics.MetricEvent{
			Type:     metrics.EventProbeFailed,
			Endpoint: t.Endpoint,
			Duration: result.Duration,
			Reason:   reason,
		})
		log.Warn("Probe failed", slog.String("reason", reason), slog.String("error", err.Error()))
		return result, fmt.Errorf("probe %s: %w", t, err)
	}

	p.emit(metrics.MetricEvent{
		Type:     metrics.EventProbeSucceeded,
		Endpoint: t.Endpoint,
		Duration: result.Duration,
	})

	if err := p.track(ctx, t, body, value, &result, log); err != nil {
		log.Error("Failed to persist probe", slog.String("error", err.Error()))
		return result, fmt.Errorf("probe %s: %w", t, err)
	}

	log.Debug("Probe completed",
		slog.Duration("duration", result.Duration),
		slog.Int("fields", result.Snapshot.Len()),
		slog.Bool("changed", result.Changed()))

	return result, nil
}

func (p *Pipeline) fetch(ctx context.Context, t Target) ([]byte, schema.Value, error) {
	body, err := p.fetcher.Fetch(ctx, t.Path())
	if err != nil {
		return nil, schema.Value{}, err
	}

	value, err := schema.Decode(body)
	if err != nil {
		return nil, schema.Value{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return body, value, nil
}

// track stores the response and, when the endpoint's shape differs from the
// latest stored version, a new schema version.
func (p *Pipeline) track(ctx context.Context, t Target, body []byte, value schema.Value, result *Result, log *slog.Logger) error {
	snapshot := schema.Extract(value)
	result.Snapshot = snapshot

	id, err := p.store.StoreResponse(ctx, t.Endpoint, t.ResourceID, body)
	if err != nil {
		return fmt.Errorf("store response: %w", err)
	}
	result.ResponseID = id

	lock := p.endpointLock(t.Endpoint)
	lock.Lock()
	defer lock.Unlock()

	latest, err := p.store.LatestSchema(ctx, t.Endpoint)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}

	if latest == nil {
		result.Baseline = true
		version, err := p.store.StoreSchema(ctx, t.Endpoint, snapshot)
		if err != nil {
			return fmt.Errorf("store schema: %w", err)
		}
		result.SchemaVersion = version
		log.Info("Stored baseline schema", slog.Int("fields", snapshot.Len()))
		return nil
	}

	result.Diff = schema.Compare(snapshot, latest.Snapshot)
	if !result.Diff.HasChanges() {
		result.SchemaVersion = latest.ID
		return nil
	}

	version, err := p.store.StoreSchema(ctx, t.Endpoint, snapshot)
	if err != nil {
		return fmt.Errorf("store schema: %w", err)
	}
	result.SchemaVersion = version

	for _, change := range result.Diff.All() {
		p.emit(metrics.MetricEvent{
			Type:       metrics.EventSchemaChanged,
			Endpoint:   t.Endpoint,
			ChangeKind: string(change.Kind),
		})
		log.Warn("Schema change detected",
			slog.String("change", change.String()),
			slog.String("kind", string(change.Kind)),
			slog.String("path", change.Path))
	}
	log.Warn("Schema drift", slog.String("summary", result.Diff.String()), slog.Int64("version", version))

	return nil
}

func (p *Pipeline) endpointLock(endpoint string) *sync.Mutex {
	p.locksMutex.Lock()
	defer p.locksMutex.Unlock()

	lock, ok := p.locks[endpoint]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[endpoint] = lock
	}
	return lock
}

func (p *Pipeline) emit(event metrics.MetricEvent) {
	if p.collector == nil {
		return
	}
	event.Timestamp = p.now()
	p.collector.Emit(event)
}

func failureReason(err error) string {
	if errors.Is(err, ErrInvalidPayload) {
		return "invalid_payload"
	}
	return transport.FailureReason(err)
}
