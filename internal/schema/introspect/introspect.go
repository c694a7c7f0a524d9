// Package introspect reads database catalogs and assembles a schema.Model.
// Catalog queries differ per database kind; the resulting model does not.
package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/schemaforge/schemaforge/internal/database"
	"github.com/schemaforge/schemaforge/internal/observability"
	"github.com/schemaforge/schemaforge/internal/schema"
)

type Target struct {
	Kind     database.Kind
	Database string
	Schema   string
}

func TargetFor(desc database.Descriptor) Target {
	schemaName := desc.Schema
	if schemaName == "" {
		schemaName = desc.Kind.DefaultSchema()
	}
	return Target{Kind: desc.Kind, Database: desc.Database, Schema: schemaName}
}

type Introspector interface {
	Introspect(ctx context.Context, db *sql.DB, target Target) (*schema.Model, error)
}

// For returns the catalog reader for a database kind.
func For(kind database.Kind) (Introspector, error) {
	switch kind {
	case database.KindPostgres:
		return &catalogIntrospector{queries: postgresQueries, now: time.Now}, nil
	case database.KindMySQL:
		return &catalogIntrospector{queries: mysqlQueries, now: time.Now}, nil
	case database.KindMSSQL:
		return &catalogIntrospector{queries: mssqlQueries, now: time.Now}, nil
	case database.KindDuckDB:
		return &catalogIntrospector{queries: duckdbQueries, now: time.Now}, nil
	case database.KindSQLite:
		return &sqliteIntrospector{now: time.Now}, nil
	default:
		return nil, &schema.IntrospectionError{Kind: string(kind), Op: "select introspector", Err: fmt.Errorf("unsupported database kind")}
	}
}

// Run introspects the database described by desc and records metrics.
func Run(ctx context.Context, db *sql.DB, desc database.Descriptor, logger *slog.Logger) (*schema.Model, error) {
	if db == nil {
		return nil, &schema.IntrospectionError{Kind: string(desc.Kind), Op: "introspect", Err: fmt.Errorf("database handle is required")}
	}
	inspector, err := For(desc.Kind)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	model, err := inspector.Introspect(ctx, db, TargetFor(desc))
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	observability.ObserveIntrospection(string(desc.Kind), len(model.Tables), elapsed)
	if logger != nil {
		tables, views := model.Counts()
		logger.InfoContext(ctx, "schema indexed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("kind", string(desc.Kind)),
			slog.Int("tables", tables),
			slog.Int("views", views),
			slog.String("duration", elapsed.String()),
		)
	}
	return model, nil
}

func wrap(kind database.Kind, op string, err error) error {
	return &schema.IntrospectionError{Kind: string(kind), Op: op, Err: err}
}

func tableKindFromCatalog(raw string) schema.TableKind {
	switch raw {
	case "VIEW", "view":
		return schema.TableKindView
	default:
		return schema.TableKindTable
	}
}

func nullableFromCatalog(raw string) bool {
	switch raw {
	case "YES", "yes", "Y", "1", "true", "TRUE":
		return true
	default:
		return false
	}
}

func defaultFromCatalog(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}
