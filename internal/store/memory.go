package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/angeloszaimis/driftwatch/internal/schema"
)

// Memory is a process-local Store. Data is lost when the process exits.
type Memory struct {
	mutex     sync.RWMutex
	nextID    int64
	responses []ResponseRecord
	schemas   []SchemaRecord
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

func (m *Memory) StoreResponse(_ context.Context, endpoint, resourceID string, payload []byte) (int64, error) {
	if m == nil {
		return 0, ErrNotInitialized
	}
	if err := requireEndpoint(endpoint); err != nil {
		return 0, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.nextID++
	m.responses = append(m.responses, ResponseRecord{
		ID:         m.nextID,
		Endpoint:   endpoint,
		ResourceID: resourceID,
		Payload:    slices.Clone(payload),
		CreatedAt:  m.now().UTC(),
	})
	return m.nextID, nil
}

func (m *Memory) LatestResponse(_ context.Context, endpoint, resourceID string) (*ResponseRecord, error) {
	if m == nil {
		return nil, ErrNotInitialized
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for i := len(m.responses) - 1; i >= 0; i-- {
		r := m.responses[i]
		if r.Endpoint == endpoint && r.ResourceID == resourceID {
			r.Payload = slices.Clone(r.Payload)
			return &r, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListResponses(_ context.Context, endpoint, resourceID string) ([]ResponseRecord, error) {
	if m == nil {
		return nil, ErrNotInitialized
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var out []ResponseRecord
	for i := len(m.responses) - 1; i >= 0; i-- {
		r := m.responses[i]
		if r.Endpoint == endpoint && r.ResourceID == resourceID {
			r.Payload = slices.Clone(r.Payload)
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) ClearResponses(_ context.Context, endpoint string) (int64, error) {
	if m == nil {
		return 0, ErrNotInitialized
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	before := len(m.responses)
	if endpoint == "" {
		m.responses = nil
		return int64(before), nil
	}

	m.responses = slices.DeleteFunc(m.responses, func(r ResponseRecord) bool {
		return r.Endpoint == endpoint
	})
	return int64(before - len(m.responses)), nil
}

func (m *Memory) StoreSchema(_ context.Context, endpoint string, snapshot schema.Snapshot) (int64, error) {
	if m == nil {
		return 0, ErrNotInitialized
	}
	if err := requireEndpoint(endpoint); err != nil {
		return 0, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.nextID++
	m.schemas = append(m.schemas, SchemaRecord{
		ID:        m.nextID,
		Endpoint:  endpoint,
		Snapshot:  snapshot,
		CreatedAt: m.now().UTC(),
	})
	return m.nextID, nil
}

func (m *Memory) LatestSchema(_ context.Context, endpoint string) (*SchemaRecord, error) {
	if m == nil {
		return nil, ErrNotInitialized
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for i := len(m.schemas) - 1; i >= 0; i-- {
		if r := m.schemas[i]; r.Endpoint == endpoint {
			return &r, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListSchemas(_ context.Context, endpoint string, limit int) ([]SchemaRecord, error) {
	if m == nil {
		return nil, ErrNotInitialized
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var out []SchemaRecord
	for i := len(m.schemas) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if r := m.schemas[i]; r.Endpoint == endpoint {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) Driver() string { return DriverMemory }

func (m *Memory) Close() error { return nil }
