package metrics

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// maxSamples bounds the latency history kept per endpoint.
const maxSamples = 1000

type Metrics struct {
	mutex         sync.RWMutex
	requests      map[string]int64
	failures      map[string]map[string]int64
	responseTimes map[string][]time.Duration
	rejections    map[string]int64
	schemaChanges map[string]map[string]int64
	circuitStates map[string]string
	transitions   map[string]int64
	lastSuccess   map[string]time.Time
	startTime     time.Time
}

type Snapshot struct {
	TotalRequests      int64                      `json:"total_requests"`
	TotalFailures      int64                      `json:"total_failures"`
	TotalSchemaChanges int64                      `json:"total_schema_changes"`
	Uptime             time.Duration              `json:"uptime"`
	Endpoints          map[string]EndpointMetrics `json:"endpoints"`
}

type EndpointMetrics struct {
	Requests          int64            `json:"requests"`
	Failures          map[string]int64 `json:"failures,omitempty"`
	CircuitRejections int64            `json:"circuit_rejections"`
	CircuitState      string           `json:"circuit_state,omitempty"`
	StateTransitions  int64            `json:"state_transitions"`
	SchemaChanges     map[string]int64 `json:"schema_changes,omitempty"`
	LastSuccess       time.Time        `json:"last_success,omitzero"`
	AvgResponse       time.Duration    `json:"avg_response"`
	P50Response       time.Duration    `json:"p50_response"`
	P95Response       time.Duration    `json:"p95_response"`
	P99Response       time.Duration    `json:"p99_response"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:      make(map[string]int64),
		failures:      make(map[string]map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		rejections:    make(map[string]int64),
		schemaChanges: make(map[string]map[string]int64),
		circuitStates: make(map[string]string),
		transitions:   make(map[string]int64),
		lastSuccess:   make(map[string]time.Time),
		startTime:     time.Now(),
	}
}

func (m *Metrics) RecordSuccess(endpoint string, duration time.Duration, at time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.requests[endpoint]++
	m.recordLatencyLocked(endpoint, duration)
	if at.After(m.lastSuccess[endpoint]) {
		m.lastSuccess[endpoint] = at
	}
}

func (m *Metrics) RecordFailure(endpoint, reason string, duration time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.requests[endpoint]++
	m.recordLatencyLocked(endpoint, duration)
	increment(m.failures, endpoint, reason)
}

func (m *Metrics) RecordRejection(endpoint string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.rejections[endpoint]++
}

func (m *Metrics) RecordSchemaChange(endpoint, kind string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	increment(m.schemaChanges, endpoint, kind)
}

func (m *Metrics) RecordCircuitState(endpoint, state string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.circuitStates[endpoint] = state
	m.transitions[endpoint]++
}

func (m *Metrics) recordLatencyLocked(endpoint string, duration time.Duration) {
	samples := append(m.responseTimes[endpoint], duration)
	if len(samples) > maxSamples {
		samples = samples[1:]
	}
	m.responseTimes[endpoint] = samples
}

func increment(counts map[string]map[string]int64, endpoint, key string) {
	if counts[endpoint] == nil {
		counts[endpoint] = make(map[string]int64)
	}
	counts[endpoint][key]++
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:    time.Since(m.startTime),
		Endpoints: make(map[string]EndpointMetrics),
	}

	// Collect every endpoint seen by any series
	all := make(map[string]bool)
	for _, series := range []map[string]int64{m.requests, m.rejections, m.transitions} {
		for endpoint := range series {
			all[endpoint] = true
		}
	}
	for endpoint := range m.schemaChanges {
		all[endpoint] = true
	}

	for endpoint := range all {
		em := EndpointMetrics{
			Requests:          m.requests[endpoint],
			Failures:          maps.Clone(m.failures[endpoint]),
			CircuitRejections: m.rejections[endpoint],
			CircuitState:      m.circuitStates[endpoint],
			StateTransitions:  m.transitions[endpoint],
			SchemaChanges:     maps.Clone(m.schemaChanges[endpoint]),
			LastSuccess:       m.lastSuccess[endpoint],
		}

		snap.TotalRequests += em.Requests
		for _, n := range em.Failures {
			snap.TotalFailures += n
		}
		for _, n := range em.SchemaChanges {
			snap.TotalSchemaChanges += n
		}

		if durations := m.responseTimes[endpoint]; len(durations) > 0 {
			sorted := slices.Clone(durations)
			slices.Sort(sorted)

			em.AvgResponse = average(sorted)
			em.P50Response = percentile(sorted, 0.50)
			em.P95Response = percentile(sorted, 0.95)
			em.P99Response = percentile(sorted, 0.99)
		}

		snap.Endpoints[endpoint] = em
	}

	return snap
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
