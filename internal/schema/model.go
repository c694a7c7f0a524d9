// Package schema holds the structural model of a database produced by
// introspection and consumed by the translator.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

type TableKind string

const (
	TableKindTable TableKind = "table"
	TableKindView  TableKind = "view"
)

var ErrDuplicateName = errors.New("schema: duplicate name")

type Column struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Nullable bool    `json:"nullable"`
	Default  *string `json:"default,omitempty"`
}

type ForeignKey struct {
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

type Table struct {
	Name        string       `json:"name"`
	Kind        TableKind    `json:"kind"`
	Columns     []Column     `json:"columns"`
	PrimaryKey  []string     `json:"primary_key,omitempty"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
}

// Model is immutable once returned by an introspector. Callers replace the
// whole model instead of editing it.
type Model struct {
	Database  string    `json:"database"`
	Schema    string    `json:"schema"`
	Kind      string    `json:"kind"`
	IndexedAt time.Time `json:"indexed_at"`
	Tables    []Table   `json:"tables"`
}

type Relationship struct {
	FromTable  string
	FromColumn string
	ToTable    string
	ToColumn   string
}

func (r Relationship) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", r.FromTable, r.FromColumn, r.ToTable, r.ToColumn)
}

// Validate enforces unique table names and unique column names per table.
func (m *Model) Validate() error {
	seenTables := make(map[string]struct{}, len(m.Tables))
	for _, table := range m.Tables {
		if table.Name == "" {
			return fmt.Errorf("table name is required")
		}
		if _, ok := seenTables[table.Name]; ok {
			return fmt.Errorf("%w: table %q", ErrDuplicateName, table.Name)
		}
		seenTables[table.Name] = struct{}{}

		seenColumns := make(map[string]struct{}, len(table.Columns))
		for _, column := range table.Columns {
			if _, ok := seenColumns[column.Name]; ok {
				return fmt.Errorf("%w: column %q in table %q", ErrDuplicateName, column.Name, table.Name)
			}
			seenColumns[column.Name] = struct{}{}
		}
	}
	return nil
}

func (m *Model) Table(name string) (Table, bool) {
	for _, table := range m.Tables {
		if table.Name == name {
			return table, true
		}
	}
	return Table{}, false
}

func (m *Model) TableNames() []string {
	names := make([]string, 0, len(m.Tables))
	for _, table := range m.Tables {
		names = append(names, table.Name)
	}
	return names
}

func (m *Model) Counts() (tables, views int) {
	for _, table := range m.Tables {
		if table.Kind == TableKindView {
			views++
		} else {
			tables++
		}
	}
	return tables, views
}

func (m *Model) Relationships() []Relationship {
	var out []Relationship
	for _, table := range m.Tables {
		for _, fk := range table.ForeignKeys {
			out = append(out, Relationship{
				FromTable:  table.Name,
				FromColumn: fk.Column,
				ToTable:    fk.ReferencedTable,
				ToColumn:   fk.ReferencedColumn,
			})
		}
	}
	return out
}

func (t Table) IsPrimaryKey(column string) bool {
	for _, name := range t.PrimaryKey {
		if name == column {
			return true
		}
	}
	return false
}

// Builder accumulates catalog rows in arbitrary order and produces a model
// with tables sorted by name and columns in catalog order.
type Builder struct {
	database string
	schema   string
	kind     string
	tables   map[string]*Table
}

func NewBuilder(kind, database, schemaName string) *Builder {
	return &Builder{
		database: database,
		schema:   schemaName,
		kind:     kind,
		tables:   map[string]*Table{},
	}
}

func (b *Builder) AddTable(name string, kind TableKind) {
	if _, ok := b.tables[name]; ok {
		return
	}
	b.tables[name] = &Table{Name: name, Kind: kind}
}

// AddColumn appends a column. Duplicate column names are kept so that
// Validate can report them.
func (b *Builder) AddColumn(table string, column Column) bool {
	t, ok := b.tables[table]
	if !ok {
		return false
	}
	t.Columns = append(t.Columns, column)
	return true
}

func (b *Builder) AddPrimaryKey(table, column string) bool {
	t, ok := b.tables[table]
	if !ok {
		return false
	}
	if !t.IsPrimaryKey(column) {
		t.PrimaryKey = append(t.PrimaryKey, column)
	}
	return true
}

func (b *Builder) AddForeignKey(table string, fk ForeignKey) bool {
	t, ok := b.tables[table]
	if !ok {
		return false
	}
	for _, existing := range t.ForeignKeys {
		if existing == fk {
			return true
		}
	}
	t.ForeignKeys = append(t.ForeignKeys, fk)
	return true
}

func (b *Builder) HasTable(name string) bool {
	_, ok := b.tables[name]
	return ok
}

func (b *Builder) Build(indexedAt time.Time) (*Model, error) {
	names := make([]string, 0, len(b.tables))
	for name := range b.tables {
		names = append(names, name)
	}
	sort.Strings(names)

	model := &Model{
		Database:  b.database,
		Schema:    b.schema,
		Kind:      b.kind,
		IndexedAt: indexedAt.UTC(),
		Tables:    make([]Table, 0, len(names)),
	}
	for _, name := range names {
		table := *b.tables[name]
		sort.SliceStable(table.ForeignKeys, func(i, j int) bool {
			if table.ForeignKeys[i].Column != table.ForeignKeys[j].Column {
				return table.ForeignKeys[i].Column < table.ForeignKeys[j].Column
			}
			return table.ForeignKeys[i].ReferencedTable < table.ForeignKeys[j].ReferencedTable
		})
		model.Tables = append(model.Tables, table)
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	return model, nil
}
