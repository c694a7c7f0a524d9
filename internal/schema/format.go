package schema

import (
	"fmt"
	"strings"
)

// Format renders the model as the plain-text listing embedded in prompts.
func (m *Model) Format() string {
	var b strings.Builder
	if m.Database != "" {
		fmt.Fprintf(&b, "Database: %s\n", m.Database)
	}
	if m.Schema != "" {
		fmt.Fprintf(&b, "Schema: %s\n", m.Schema)
	}
	tables, views := m.Counts()
	fmt.Fprintf(&b, "Contains %d tables and %d views\n\n", tables, views)

	for _, table := range m.Tables {
		b.WriteString(table.Format())
		b.WriteString("\n")
	}

	relationships := m.Relationships()
	if len(relationships) > 0 {
		b.WriteString("Relationships:\n")
		for _, rel := range relationships {
			fmt.Fprintf(&b, "  %s\n", rel)
		}
	}
	return b.String()
}

func (t Table) Format() string {
	var b strings.Builder
	label := "Table"
	if t.Kind == TableKindView {
		label = "View"
	}
	fmt.Fprintf(&b, "%s: %s\n", label, t.Name)
	if len(t.PrimaryKey) > 0 {
		fmt.Fprintf(&b, "  Primary Key: %s\n", strings.Join(t.PrimaryKey, ", "))
	}
	if len(t.ForeignKeys) > 0 {
		b.WriteString("  Foreign Keys:\n")
		for _, fk := range t.ForeignKeys {
			fmt.Fprintf(&b, "    %s -> %s.%s\n", fk.Column, fk.ReferencedTable, fk.ReferencedColumn)
		}
	}
	b.WriteString("  Columns:\n")
	for _, column := range t.Columns {
		fmt.Fprintf(&b, "    %s\n", t.formatColumn(column))
	}
	return b.String()
}

func (t Table) formatColumn(c Column) string {
	parts := []string{c.Name + ": " + c.Type}
	if t.IsPrimaryKey(c.Name) {
		parts = append(parts, "PRIMARY KEY")
	}
	if !c.Nullable {
		parts = append(parts, "NOT NULL")
	}
	if c.Default != nil {
		parts = append(parts, "DEFAULT "+*c.Default)
	}
	return strings.Join(parts, " ")
}
