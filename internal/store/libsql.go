package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/angeloszaimis/driftwatch/config"
	"github.com/angeloszaimis/driftwatch/internal/schema"
)

// SQL is a Store backed by libsql: a local file, an in-memory database or a
// remote Turso URL.
type SQL struct {
	DB  *sql.DB
	now func() time.Time
}

func openLibsql(ctx context.Context, cfg config.StoreConfig) (*SQL, error) {
	dsn, err := buildLibsqlDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(DriverLibsql, dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql store: %w", err)
	}
	// Every pooled connection to ":memory:" would get its own database.
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping libsql store: %w", err)
	}

	return &SQL{DB: db, now: time.Now}, nil
}

func (s *SQL) Driver() string { return DriverLibsql }

// Close releases database resources.
func (s *SQL) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func (s *SQL) ready() error {
	if s == nil || s.DB == nil {
		return ErrNotInitialized
	}
	return nil
}

func (s *SQL) StoreResponse(ctx context.Context, endpoint, resourceID string, payload []byte) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if err := requireEndpoint(endpoint); err != nil {
		return 0, err
	}

	var id int64
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO api_responses (endpoint, resource_id, payload, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`, endpoint, resourceID, string(payload), s.now().UTC().UnixNano()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store response: %w", err)
	}
	return id, nil
}

func (s *SQL) LatestResponse(ctx context.Context, endpoint, resourceID string) (*ResponseRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	row := s.DB.QueryRowContext(ctx, `
		SELECT id, endpoint, resource_id, payload, created_at
		FROM api_responses
		WHERE endpoint = ? AND resource_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, endpoint, resourceID)

	rec, err := scanResponse(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch latest response: %w", err)
	}
	return rec, nil
}

func (s *SQL) ListResponses(ctx context.Context, endpoint, resourceID string) ([]ResponseRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, endpoint, resource_id, payload, created_at
		FROM api_responses
		WHERE endpoint = ? AND resource_id = ?
		ORDER BY id DESC
	`, endpoint, resourceID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var out []ResponseRecord
	for rows.Next() {
		rec, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("list responses: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	return out, nil
}

func (s *SQL) ClearResponses(ctx context.Context, endpoint string) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	var (
		res sql.Result
		err error
	)
	if endpoint == "" {
		res, err = s.DB.ExecContext(ctx, `DELETE FROM api_responses`)
	} else {
		res, err = s.DB.ExecContext(ctx, `DELETE FROM api_responses WHERE endpoint = ?`, endpoint)
	}
	if err != nil {
		return 0, fmt.Errorf("clear responses: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear responses: %w", err)
	}
	return n, nil
}

func (s *SQL) StoreSchema(ctx context.Context, endpoint string, snapshot schema.Snapshot) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if err := requireEndpoint(endpoint); err != nil {
		return 0, err
	}

	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return 0, fmt.Errorf("encode schema: %w", err)
	}

	var id int64
	err = s.DB.QueryRowContext(ctx, `
		INSERT INTO schema_versions (endpoint, schema_json, created_at)
		VALUES (?, ?, ?)
		RETURNING id
	`, endpoint, string(encoded), s.now().UTC().UnixNano()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store schema: %w", err)
	}
	return id, nil
}

func (s *SQL) LatestSchema(ctx context.Context, endpoint string) (*SchemaRecord, error) {
	records, err := s.ListSchemas(ctx, endpoint, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (s *SQL) ListSchemas(ctx context.Context, endpoint string, limit int) ([]SchemaRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, endpoint, schema_json, created_at
		FROM schema_versions
		WHERE endpoint = ?
		ORDER BY id DESC
		LIMIT ?
	`, endpoint, limit)
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var out []SchemaRecord
	for rows.Next() {
		var (
			rec       SchemaRecord
			encoded   string
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.Endpoint, &encoded, &createdAt); err != nil {
			return nil, fmt.Errorf("list schemas: %w", err)
		}
		if err := json.Unmarshal([]byte(encoded), &rec.Snapshot); err != nil {
			return nil, fmt.Errorf("decode schema %d: %w", rec.ID, err)
		}
		rec.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResponse(row rowScanner) (*ResponseRecord, error) {
	var (
		rec       ResponseRecord
		payload   string
		createdAt int64
	)
	if err := row.Scan(&rec.ID, &rec.Endpoint, &rec.ResourceID, &payload, &createdAt); err != nil {
		return nil, err
	}
	rec.Payload = json.RawMessage(payload)
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	return &rec, nil
}

func buildLibsqlDSN(cfg config.StoreConfig) (string, error) {
	if dsn := strings.TrimSpace(cfg.URL); dsn != "" {
		return addAuthToken(dsn, cfg.AuthToken)
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("store path or url is required")
	}

	if path == ":memory:" {
		return path, nil
	}

	if strings.HasPrefix(path, "file:") {
		localPath, err := extractFilePath(path)
		if err != nil {
			return "", err
		}
		if err := ensureStoreDir(localPath); err != nil {
			return "", err
		}
		return path, nil
	}

	if strings.HasPrefix(path, "libsql:") {
		return addAuthToken(path, cfg.AuthToken)
	}

	if err := ensureStoreDir(path); err != nil {
		return "", err
	}
	return "file:" + filepath.Clean(path), nil
}

func addAuthToken(dsn string, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return dsn, nil
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}

	query := parsed.Query()
	if query.Get("authToken") == "" {
		query.Set("authToken", token)
		parsed.RawQuery = query.Encode()
	}

	return parsed.String(), nil
}

func extractFilePath(dsn string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store path: %w", err)
	}

	if parsed.Path != "" {
		return strings.TrimPrefix(parsed.Path, "//"), nil
	}

	return strings.TrimPrefix(parsed.Opaque, "//"), nil
}

func ensureStoreDir(path string) error {
	if strings.TrimSpace(path) == "" || path == ":memory:" {
		return nil
	}

	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
