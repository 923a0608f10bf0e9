// Package store persists probe responses and schema versions as an
// append-only log. Rows are never updated; a newer row supersedes an older
// one for the same key.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angeloszaimis/driftwatch/config"
	"github.com/angeloszaimis/driftwatch/internal/schema"
)

const (
	DriverMemory = "memory"
	DriverLibsql = "libsql"
)

var ErrNotInitialized = errors.New("store is not initialized")

// ResponseRecord is one stored payload.
type ResponseRecord struct {
	ID         int64           `json:"id"`
	Endpoint   string          `json:"endpoint"`
	ResourceID string          `json:"resource_id"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

// SchemaRecord is one stored schema version.
type SchemaRecord struct {
	ID        int64           `json:"id"`
	Endpoint  string          `json:"endpoint"`
	Snapshot  schema.Snapshot `json:"schema"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store is the persistence contract used by the probe pipeline. Latest*
// lookups return (nil, nil) when nothing has been stored yet. List* results
// are newest first.
type Store interface {
	StoreResponse(ctx context.Context, endpoint, resourceID string, payload []byte) (int64, error)
	LatestResponse(ctx context.Context, endpoint, resourceID string) (*ResponseRecord, error)
	ListResponses(ctx context.Context, endpoint, resourceID string) ([]ResponseRecord, error)
	// ClearResponses removes stored responses for endpoint, or for every
	// endpoint when it is empty, and reports how many were removed.
	ClearResponses(ctx context.Context, endpoint string) (int64, error)

	StoreSchema(ctx context.Context, endpoint string, snapshot schema.Snapshot) (int64, error)
	LatestSchema(ctx context.Context, endpoint string) (*SchemaRecord, error)
	// ListSchemas returns at most limit versions; limit <= 0 means all.
	ListSchemas(ctx context.Context, endpoint string, limit int) ([]SchemaRecord, error)

	Driver() string
	Close() error
}

// Open initializes a store for the configured driver. The libsql driver is
// migrated before it is returned.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	driver := strings.TrimSpace(cfg.Driver)
	if driver == "" {
		driver = DriverMemory
	}

	if ctx == nil {
		ctx = context.Background()
	}

	switch driver {
	case DriverMemory:
		return NewMemory(), nil
	case DriverLibsql:
		s, err := openLibsql(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
}

func requireEndpoint(endpoint string) error {
	if strings.TrimSpace(endpoint) == "" {
		return errors.New("endpoint is required")
	}
	return nil
}
