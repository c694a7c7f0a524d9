package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/schemaforge/schemaforge/internal/migrations"
	"github.com/schemaforge/schemaforge/internal/schema"
)

type Stats struct {
	Path     string
	Entries  int
	Tables   int
	NewestAt time.Time
	OldestAt time.Time
	Keys     []string
}

// Store persists schema models keyed by a connection fingerprint. Keys are
// masked connection URLs, so credentials never reach the file.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens (creating if needed) the cache database at path and applies
// pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := migrations.NewRunner().Up(ctx, db, 0); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}
	return &Store{db: db, path: path, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Path() string {
	return s.path
}

// DB exposes the handle for migration commands.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Save(ctx context.Context, key string, model *schema.Model) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("cache key is required")
	}
	if model == nil {
		return fmt.Errorf("schema model is required")
	}
	payload, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("marshal schema model: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO schema_cache (connection_key, database_kind, database_name, schema_name, table_count, schema_data, indexed_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (connection_key) DO UPDATE SET
	database_kind = excluded.database_kind,
	database_name = excluded.database_name,
	schema_name = excluded.schema_name,
	table_count = excluded.table_count,
	schema_data = excluded.schema_data,
	indexed_at = excluded.indexed_at`,
		key,
		model.Kind,
		model.Database,
		model.Schema,
		len(model.Tables),
		string(payload),
		model.IndexedAt.UTC().Format(time.RFC3339Nano),
		s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save schema %q: %w", key, err)
	}
	return nil
}

// Load returns the stored model for key. found is false when nothing is stored.
func (s *Store) Load(ctx context.Context, key string) (*schema.Model, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT schema_data FROM schema_cache WHERE connection_key = ?`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load schema %q: %w", key, err)
	}

	var model schema.Model
	if err := json.Unmarshal([]byte(payload), &model); err != nil {
		return nil, false, fmt.Errorf("decode schema %q: %w", key, err)
	}
	if err := model.Validate(); err != nil {
		return nil, false, fmt.Errorf("stored schema %q: %w", key, err)
	}
	return &model, true, nil
}

// Remove deletes one entry and reports whether it existed.
func (s *Store) Remove(ctx context.Context, key string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM schema_cache WHERE connection_key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("remove schema %q: %w", key, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove schema %q: %w", key, err)
	}
	return affected > 0, nil
}

// Purge deletes every entry and returns how many were removed.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM schema_cache`)
	if err != nil {
		return 0, fmt.Errorf("purge schema cache: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge schema cache: %w", err)
	}
	return affected, nil
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Path: s.path}
	rows, err := s.db.QueryContext(ctx, `SELECT connection_key, table_count, indexed_at FROM schema_cache ORDER BY connection_key`)
	if err != nil {
		return Stats{}, fmt.Errorf("query cache stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			key       string
			tables    int
			indexedAt string
		)
		if err := rows.Scan(&key, &tables, &indexedAt); err != nil {
			return Stats{}, fmt.Errorf("scan cache stats: %w", err)
		}
		at, err := time.Parse(time.RFC3339Nano, indexedAt)
		if err != nil {
			return Stats{}, fmt.Errorf("parse indexed_at for %q: %w", key, err)
		}
		stats.Entries++
		stats.Tables += tables
		stats.Keys = append(stats.Keys, key)
		if stats.NewestAt.IsZero() || at.After(stats.NewestAt) {
			stats.NewestAt = at
		}
		if stats.OldestAt.IsZero() || at.Before(stats.OldestAt) {
			stats.OldestAt = at
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("rows error: %w", err)
	}
	return stats, nil
}
