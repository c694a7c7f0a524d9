// Package migrations applies the embedded schema scripts of the local
// schema cache database. The applied version lives in SQLite's
// user_version header field, so versions must run 1..N without gaps.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

var scriptName = regexp.MustCompile(`^(\d+)_[a-z0-9_]+\.(up|down)\.sql$`)

type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

// Version returns the schema version recorded in the database file.
func Version(ctx context.Context, db *sql.DB) (int64, error) {
	var version int64
	if err := db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// Up applies migrations newer than the recorded version. steps <= 0 applies
// all of them.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	scripts, current, err := r.prepare(ctx, db)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, m := range scripts[current:] {
		if steps > 0 && applied == steps {
			break
		}
		if err := apply(ctx, db, m.UpSQL, m.Version); err != nil {
			return applied, fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
		applied++
	}
	return applied, nil
}

// Down reverts the newest applied migrations. steps <= 0 reverts one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	scripts, current, err := r.prepare(ctx, db)
	if err != nil {
		return 0, err
	}
	reverted := 0
	for version := current; version > 0 && reverted < steps; version-- {
		m := scripts[version-1]
		if err := apply(ctx, db, m.DownSQL, version-1); err != nil {
			return reverted, fmt.Errorf("revert migration %d (%s): %w", m.Version, m.Name, err)
		}
		reverted++
	}
	return reverted, nil
}

// Pending reports how many embedded migrations have not been applied yet.
func (r *Runner) Pending(ctx context.Context, db *sql.DB) (int, error) {
	scripts, current, err := r.prepare(ctx, db)
	if err != nil {
		return 0, err
	}
	return len(scripts) - int(current), nil
}

func (r *Runner) prepare(ctx context.Context, db *sql.DB) ([]migration, int64, error) {
	scripts, err := loadMigrations(r.fsys)
	if err != nil {
		return nil, 0, err
	}
	current, err := Version(ctx, db)
	if err != nil {
		return nil, 0, err
	}
	if current > int64(len(scripts)) {
		return nil, 0, fmt.Errorf("database schema version %d is newer than this build (%d)", current, len(scripts))
	}
	return scripts, current, nil
}

// apply runs script and records version in one transaction.
func apply(ctx context.Context, db *sql.DB, script string, version int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "PRAGMA user_version = "+strconv.FormatInt(version, 10)); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	byVersion := map[int64]*migration{}
	for _, entry := range entries {
		match := scriptName.FindStringSubmatch(entry.Name())
		if entry.IsDir() || match == nil {
			continue
		}
		version, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration %q: %w", entry.Name(), err)
		}
		body, err := fs.ReadFile(fsys, "sql/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		m, ok := byVersion[version]
		if !ok {
			name := strings.TrimSuffix(strings.TrimPrefix(entry.Name(), match[1]+"_"), "."+match[2]+".sql")
			m = &migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if match[2] == "up" {
			m.UpSQL = string(body)
		} else {
			m.DownSQL = string(body)
		}
	}

	out := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })

	for i, m := range out {
		switch {
		case m.Version != int64(i+1):
			return nil, fmt.Errorf("migration versions must run 1..%d without gaps, found %d at position %d", len(out), m.Version, i+1)
		case strings.TrimSpace(m.UpSQL) == "":
			return nil, fmt.Errorf("migration %d missing up SQL", m.Version)
		case strings.TrimSpace(m.DownSQL) == "":
			return nil, fmt.Errorf("migration %d missing down SQL", m.Version)
		}
	}
	return out, nil
}
