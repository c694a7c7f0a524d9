package introspect

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/schemaforge/schemaforge/internal/database"
	"github.com/schemaforge/schemaforge/internal/schema"
)

const (
	sqliteTablesQuery = `
SELECT name, type
FROM sqlite_master
WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
ORDER BY name`
	sqliteColumnsQuery = `
SELECT name, type, "notnull", dflt_value, pk
FROM pragma_table_info(?)
ORDER BY cid`
	sqliteForeignKeysQuery = `
SELECT "from", "table", "to"
FROM pragma_foreign_key_list(?)
ORDER BY id, seq`
)

type sqliteIntrospector struct {
	now func() time.Time
}

type sqliteTable struct {
	name string
	kind schema.TableKind
}

type pendingForeignKey struct {
	table string
	fk    schema.ForeignKey
}

func (s *sqliteIntrospector) Introspect(ctx context.Context, db *sql.DB, target Target) (*schema.Model, error) {
	tables, err := s.listTables(ctx, db)
	if err != nil {
		return nil, err
	}

	builder := schema.NewBuilder(string(database.KindSQLite), target.Database, target.Schema)
	for _, table := range tables {
		builder.AddTable(table.name, table.kind)
	}

	var pending []pendingForeignKey
	for _, table := range tables {
		if err := s.loadColumns(ctx, db, table.name, builder); err != nil {
			return nil, err
		}
		if table.kind == schema.TableKindView {
			continue
		}
		fks, err := s.listForeignKeys(ctx, db, table.name)
		if err != nil {
			return nil, err
		}
		pending = append(pending, fks...)
	}

	model, err := builder.Build(s.now())
	if err != nil {
		return nil, wrap(database.KindSQLite, "validate model", err)
	}
	// A foreign key without a target column refers to the parent's primary key.
	byName := make(map[string]int, len(model.Tables))
	for i, table := range model.Tables {
		byName[table.Name] = i
	}
	for _, item := range pending {
		fk := item.fk
		if fk.ReferencedColumn == "" {
			if idx, ok := byName[fk.ReferencedTable]; ok && len(model.Tables[idx].PrimaryKey) > 0 {
				fk.ReferencedColumn = model.Tables[idx].PrimaryKey[0]
			}
		}
		idx := byName[item.table]
		model.Tables[idx].ForeignKeys = append(model.Tables[idx].ForeignKeys, fk)
	}
	return model, nil
}

func (s *sqliteIntrospector) listTables(ctx context.Context, db *sql.DB) ([]sqliteTable, error) {
	rows, err := db.QueryContext(ctx, sqliteTablesQuery)
	if err != nil {
		return nil, wrap(database.KindSQLite, "list tables", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []sqliteTable
	for rows.Next() {
		var name, tableType string
		if err := rows.Scan(&name, &tableType); err != nil {
			return nil, wrap(database.KindSQLite, "scan table", err)
		}
		tables = append(tables, sqliteTable{name: name, kind: tableKindFromCatalog(tableType)})
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(database.KindSQLite, "list tables", err)
	}
	return tables, nil
}

func (s *sqliteIntrospector) loadColumns(ctx context.Context, db *sql.DB, table string, builder *schema.Builder) error {
	rows, err := db.QueryContext(ctx, sqliteColumnsQuery, table)
	if err != nil {
		return wrap(database.KindSQLite, "table info "+table, err)
	}
	defer func() { _ = rows.Close() }()

	type pkColumn struct {
		position int
		name     string
	}
	var pks []pkColumn
	for rows.Next() {
		var (
			name, declared string
			notNull, pk    int
			dflt           sql.NullString
		)
		if err := rows.Scan(&name, &declared, &notNull, &dflt, &pk); err != nil {
			return wrap(database.KindSQLite, "scan column", err)
		}
		if strings.TrimSpace(declared) == "" {
			declared = "ANY"
		}
		builder.AddColumn(table, schema.Column{
			Name:     name,
			Type:     declared,
			Nullable: notNull == 0 && pk == 0,
			Default:  defaultFromCatalog(dflt),
		})
		if pk > 0 {
			pks = append(pks, pkColumn{position: pk, name: name})
		}
	}
	if err := rows.Err(); err != nil {
		return wrap(database.KindSQLite, "table info "+table, err)
	}

	sort.Slice(pks, func(i, j int) bool { return pks[i].position < pks[j].position })
	for _, pk := range pks {
		builder.AddPrimaryKey(table, pk.name)
	}
	return nil
}

func (s *sqliteIntrospector) listForeignKeys(ctx context.Context, db *sql.DB, table string) ([]pendingForeignKey, error) {
	rows, err := db.QueryContext(ctx, sqliteForeignKeysQuery, table)
	if err != nil {
		return nil, wrap(database.KindSQLite, "foreign keys "+table, err)
	}
	defer func() { _ = rows.Close() }()

	var out []pendingForeignKey
	for rows.Next() {
		var from, parent string
		var to sql.NullString
		if err := rows.Scan(&from, &parent, &to); err != nil {
			return nil, wrap(database.KindSQLite, "scan foreign key", err)
		}
		out = append(out, pendingForeignKey{
			table: table,
			fk:    schema.ForeignKey{Column: from, ReferencedTable: parent, ReferencedColumn: to.String},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(database.KindSQLite, "foreign keys "+table, err)
	}
	return out, nil
}
