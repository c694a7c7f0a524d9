package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"
)

type PoolConfig struct {
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

func Open(ctx context.Context, desc Descriptor, cfg PoolConfig) (*sql.DB, error) {
	driver := desc.Kind.DriverName()
	if driver == "" {
		return nil, &ConnectionError{Kind: desc.Kind, Op: "open", Err: ErrUnsupportedScheme}
	}
	if desc.DSN == "" && !desc.IsMemory() {
		return nil, &ConnectionError{Kind: desc.Kind, Op: "open", Err: fmt.Errorf("dsn is required")}
	}
	if desc.Kind == KindSQLite && !desc.IsMemory() {
		if _, err := os.Stat(desc.DSN); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, &ConnectionError{Kind: desc.Kind, Op: "open", Err: fmt.Errorf("database file %q does not exist", desc.DSN)}
			}
			return nil, &ConnectionError{Kind: desc.Kind, Op: "open", Err: err}
		}
	}

	db, err := sql.Open(driver, desc.DSN)
	if err != nil {
		return nil, &ConnectionError{Kind: desc.Kind, Op: "open", Err: err}
	}

	if desc.IsMemory() {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, &ConnectionError{Kind: desc.Kind, Op: "ping", Err: err}
	}

	return db, nil
}
