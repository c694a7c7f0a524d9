package introspect

import (
	"context"
	"database/sql"
	"time"

	"github.com/schemaforge/schemaforge/internal/database"
	"github.com/schemaforge/schemaforge/internal/schema"
)

// catalogQueries are the four information_schema style reads shared by the
// server engines. Every query takes the target schema as its only argument
// unless args says otherwise.
type catalogQueries struct {
	kind        database.Kind
	tables      string
	columns     string
	primaryKeys string
	foreignKeys string
	args        func(Target) []any
}

type catalogIntrospector struct {
	queries catalogQueries
	now     func() time.Time
}

func (c *catalogIntrospector) Introspect(ctx context.Context, db *sql.DB, target Target) (*schema.Model, error) {
	q := c.queries
	args := []any{target.Schema}
	if q.args != nil {
		args = q.args(target)
	}
	builder := schema.NewBuilder(string(q.kind), target.Database, target.Schema)

	if err := c.loadTables(ctx, db, args, builder); err != nil {
		return nil, err
	}
	if err := c.loadColumns(ctx, db, args, builder); err != nil {
		return nil, err
	}
	if err := c.loadPrimaryKeys(ctx, db, args, builder); err != nil {
		return nil, err
	}
	if err := c.loadForeignKeys(ctx, db, args, builder); err != nil {
		return nil, err
	}

	model, err := builder.Build(c.now())
	if err != nil {
		return nil, wrap(q.kind, "validate model", err)
	}
	return model, nil
}

func (c *catalogIntrospector) loadTables(ctx context.Context, db *sql.DB, args []any, builder *schema.Builder) error {
	rows, err := db.QueryContext(ctx, c.queries.tables, args...)
	if err != nil {
		return wrap(c.queries.kind, "list tables", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var name, tableType string
		if err := rows.Scan(&name, &tableType); err != nil {
			return wrap(c.queries.kind, "scan table", err)
		}
		builder.AddTable(name, tableKindFromCatalog(tableType))
	}
	if err := rows.Err(); err != nil {
		return wrap(c.queries.kind, "list tables", err)
	}
	return nil
}

func (c *catalogIntrospector) loadColumns(ctx context.Context, db *sql.DB, args []any, builder *schema.Builder) error {
	rows, err := db.QueryContext(ctx, c.queries.columns, args...)
	if err != nil {
		return wrap(c.queries.kind, "list columns", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			table, name, dataType, nullable string
			columnDefault                   sql.NullString
		)
		if err := rows.Scan(&table, &name, &dataType, &nullable, &columnDefault); err != nil {
			return wrap(c.queries.kind, "scan column", err)
		}
		builder.AddColumn(table, schema.Column{
			Name:     name,
			Type:     dataType,
			Nullable: nullableFromCatalog(nullable),
			Default:  defaultFromCatalog(columnDefault),
		})
	}
	if err := rows.Err(); err != nil {
		return wrap(c.queries.kind, "list columns", err)
	}
	return nil
}

func (c *catalogIntrospector) loadPrimaryKeys(ctx context.Context, db *sql.DB, args []any, builder *schema.Builder) error {
	rows, err := db.QueryContext(ctx, c.queries.primaryKeys, args...)
	if err != nil {
		return wrap(c.queries.kind, "list primary keys", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return wrap(c.queries.kind, "scan primary key", err)
		}
		builder.AddPrimaryKey(table, column)
	}
	if err := rows.Err(); err != nil {
		return wrap(c.queries.kind, "list primary keys", err)
	}
	return nil
}

func (c *catalogIntrospector) loadForeignKeys(ctx context.Context, db *sql.DB, args []any, builder *schema.Builder) error {
	rows, err := db.QueryContext(ctx, c.queries.foreignKeys, args...)
	if err != nil {
		return wrap(c.queries.kind, "list foreign keys", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var fk schema.ForeignKey
		var table string
		if err := rows.Scan(&table, &fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return wrap(c.queries.kind, "scan foreign key", err)
		}
		builder.AddForeignKey(table, fk)
	}
	if err := rows.Err(); err != nil {
		return wrap(c.queries.kind, "list foreign keys", err)
	}
	return nil
}
