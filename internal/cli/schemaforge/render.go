package schemaforge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pterm/pterm"

	"github.com/schemaforge/schemaforge/internal/database"
	"github.com/schemaforge/schemaforge/internal/export"
	"github.com/schemaforge/schemaforge/internal/guard"
	"github.com/schemaforge/schemaforge/internal/llm"
	"github.com/schemaforge/schemaforge/internal/nl2sql"
	"github.com/schemaforge/schemaforge/internal/query"
	"github.com/schemaforge/schemaforge/internal/retry"
	"github.com/schemaforge/schemaforge/internal/schema"
	"github.com/schemaforge/schemaforge/internal/schema/cache"
	"github.com/schemaforge/schemaforge/internal/session"
	"github.com/schemaforge/schemaforge/internal/settings"
)

var (
	sqlStyle   = pterm.NewStyle(pterm.FgLightCyan)
	labelStyle = pterm.NewStyle(pterm.FgCyan, pterm.Bold)
	mutedStyle = pterm.NewStyle(pterm.FgGray)
)

func success(w io.Writer, format string, args ...any) {
	pterm.Success.WithWriter(w).Printfln(format, args...)
}

func info(w io.Writer, format string, args ...any) {
	pterm.Info.WithWriter(w).Printfln(format, args...)
}

func warning(w io.Writer, format string, args ...any) {
	pterm.Warning.WithWriter(w).Printfln(format, args...)
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func renderResult(w io.Writer, result query.Result) {
	if !result.HasRows() {
		_, _ = fmt.Fprintf(w, "%d row(s) affected %s\n", result.RowsAffected, mutedStyle.Sprint("("+roundDuration(result.Duration)+")"))
		return
	}
	if len(result.Rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return
	}

	t := newTable(w)
	header := make(table.Row, len(result.Columns))
	for i, column := range result.Columns {
		header[i] = column
	}
	t.AppendHeader(header)
	for _, values := range result.Rows {
		row := make(table.Row, len(values))
		for i, value := range values {
			row[i] = formatValue(value)
		}
		t.AppendRow(row)
	}
	t.Render()

	footer := fmt.Sprintf("(%d rows, %s)", len(result.Rows), roundDuration(result.Duration))
	if result.Truncated {
		footer = fmt.Sprintf("(first %d rows, more available, %s)", len(result.Rows), roundDuration(result.Duration))
	}
	_, _ = fmt.Fprintln(w, mutedStyle.Sprint(footer))
}

func renderTranslation(w io.Writer, translation nl2sql.Result) {
	_, _ = fmt.Fprintln(w, labelStyle.Sprint("SQL:"))
	_, _ = fmt.Fprintln(w, sqlStyle.Sprint(translation.SQL))
	if translation.Explanation != "" {
		_, _ = fmt.Fprintln(w, translation.Explanation)
	}
	note := fmt.Sprintf("%s/%s", translation.Provider, translation.Model)
	if translation.Attempts > 1 {
		note += fmt.Sprintf(", %d attempts", translation.Attempts)
	}
	_, _ = fmt.Fprintln(w, mutedStyle.Sprint("("+note+")"))
}

func renderSchemaSummary(w io.Writer, model *schema.Model) {
	tables, views := model.Counts()
	_, _ = fmt.Fprintf(w, "%s %s (%s): %d tables, %d views\n", labelStyle.Sprint("Schema"), model.Database, model.Schema, tables, views)

	t := newTable(w)
	t.AppendHeader(table.Row{"Name", "Kind", "Columns", "Primary Key", "References"})
	for _, tbl := range model.Tables {
		refs := make([]string, 0, len(tbl.ForeignKeys))
		for _, fk := range tbl.ForeignKeys {
			refs = append(refs, fk.ReferencedTable)
		}
		t.AppendRow(table.Row{tbl.Name, string(tbl.Kind), len(tbl.Columns), strings.Join(tbl.PrimaryKey, ", "), strings.Join(refs, ", ")})
	}
	t.Render()
}

func renderTable(w io.Writer, tbl schema.Table) {
	title := "Table"
	if tbl.Kind == schema.TableKindView {
		title = "View"
	}
	_, _ = fmt.Fprintf(w, "%s %s\n", labelStyle.Sprint(title+":"), tbl.Name)

	t := newTable(w)
	t.AppendHeader(table.Row{"Column", "Type", "Nullable", "Default", "Key"})
	references := map[string]string{}
	for _, fk := range tbl.ForeignKeys {
		references[fk.Column] = fk.ReferencedTable + "." + fk.ReferencedColumn
	}
	for _, column := range tbl.Columns {
		nullable := "NO"
		if column.Nullable {
			nullable = "YES"
		}
		defaultValue := ""
		if column.Default != nil {
			defaultValue = *column.Default
		}
		var keys []string
		if tbl.IsPrimaryKey(column.Name) {
			keys = append(keys, "PK")
		}
		if target, ok := references[column.Name]; ok {
			keys = append(keys, "FK -> "+target)
		}
		t.AppendRow(table.Row{column.Name, column.Type, nullable, defaultValue, strings.Join(keys, ", ")})
	}
	t.Render()
}

func renderProviders(w io.Writer, snapshot *settings.Snapshot) {
	t := newTable(w)
	t.AppendHeader(table.Row{"", "Provider", "Default Model", "Model", "API Key"})
	for _, id := range llm.All() {
		current := ""
		if snapshot != nil && snapshot.Current == id {
			current = "*"
		}
		model := ""
		key := "not configured"
		if cfg, ok := snapshot.Provider(id); ok {
			model = cfg.Model
			if cfg.Configured() {
				key = settings.MaskKey(cfg.APIKey)
			}
		}
		t.AppendRow(table.Row{current, string(id), id.DefaultModel(), model, key})
	}
	t.Render()
}

func renderConfig(w io.Writer, store *settings.Store) {
	snapshot := store.Snapshot()
	current := "none"
	if snapshot != nil && snapshot.Current != "" {
		current = string(snapshot.Current)
	}
	_, _ = fmt.Fprintf(w, "%s %s\n", labelStyle.Sprint("Current provider:"), current)
	if store.Path() != "" {
		_, _ = fmt.Fprintf(w, "%s %s\n", labelStyle.Sprint("Settings file:"), store.Path())
	}
	configured := snapshot.Configured()
	if len(configured) == 0 {
		_, _ = fmt.Fprintln(w, "No providers configured. Use /config <provider> <api-key> [model].")
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Provider", "Model", "API Key"})
	for _, id := range configured {
		cfg, _ := snapshot.Provider(id)
		t.AppendRow(table.Row{string(id), cfg.EffectiveModel(), settings.MaskKey(cfg.APIKey)})
	}
	t.Render()
}

func renderStatus(w io.Writer, status session.Status) {
	t := newTable(w)
	t.AppendRow(table.Row{"Session", status.ID})
	t.AppendRow(table.Row{"State", string(status.State)})
	if status.State != session.StateDisconnected {
		t.AppendRow(table.Row{"Connection", status.URL})
		t.AppendRow(table.Row{"Kind", string(status.Kind)})
		t.AppendRow(table.Row{"Database", status.Database})
	}
	if !status.IndexedAt.IsZero() {
		t.AppendRow(table.Row{"Indexed", fmt.Sprintf("%d tables, %d views at %s", status.Tables, status.Views, status.IndexedAt.Local().Format(time.DateTime))})
	}
	turns := fmt.Sprintf("%d", status.Turns)
	if status.MaxTurns > 0 {
		turns = fmt.Sprintf("%d of %d", status.Turns, status.MaxTurns)
	}
	t.AppendRow(table.Row{"Conversation", turns})
	t.Render()
}

func renderCacheStats(w io.Writer, stats cache.Stats) {
	t := newTable(w)
	t.AppendRow(table.Row{"Path", stats.Path})
	t.AppendRow(table.Row{"Entries", stats.Entries})
	t.AppendRow(table.Row{"Tables", stats.Tables})
	if stats.Entries > 0 {
		t.AppendRow(table.Row{"Oldest", stats.OldestAt.Local().Format(time.DateTime)})
		t.AppendRow(table.Row{"Newest", stats.NewestAt.Local().Format(time.DateTime)})
	}
	t.Render()
	for _, key := range stats.Keys {
		_, _ = fmt.Fprintf(w, "  %s\n", key)
	}
}

func renderReceipt(w io.Writer, receipt export.Receipt) {
	success(w, "Exported %d rows (%d bytes) to %s", receipt.Rows, receipt.Size, receipt.Location)
}

// presentError prints err with the hint that matches its kind.
func presentError(w io.Writer, err error) {
	if err == nil {
		return
	}
	printer := pterm.Error.WithWriter(w)

	var (
		noSQL      *nl2sql.NoSQLExtractedError
		rejected   *guard.RejectedError
		connErr    *database.ConnectionError
		final      *retry.FinalError
		provider   *llm.ProviderError
		introspect *schema.IntrospectionError
		execErr    *query.ExecError
	)
	switch {
	case errors.Is(err, context.Canceled):
		warning(w, "Cancelled")
	case errors.As(err, &rejected):
		printer.Printfln("Statement rejected: %s", rejected.Reason)
		if rejected.SQL != "" {
			_, _ = fmt.Fprintln(w, sqlStyle.Sprint(rejected.SQL))
		}
		if len(rejected.Verbs) > 0 {
			_, _ = fmt.Fprintln(w, "Run it with /sql! <statement> if you are sure.")
		}
	case errors.As(err, &noSQL):
		printer.Println("No SQL statement found in the provider response.")
		if strings.TrimSpace(noSQL.Raw) != "" {
			_, _ = fmt.Fprintln(w, mutedStyle.Sprint(strings.TrimSpace(noSQL.Raw)))
		}
	case errors.Is(err, llm.ErrProviderNotConfigured):
		printer.Println(err.Error())
		_, _ = fmt.Fprintln(w, "Configure one with /config <provider> <api-key> [model].")
	case errors.Is(err, cache.ErrNoSchemaIndexed):
		printer.Println("No schema indexed.")
		_, _ = fmt.Fprintln(w, "Run /index after connecting.")
	case errors.Is(err, session.ErrNotConnected):
		printer.Println("Not connected to a database.")
		_, _ = fmt.Fprintln(w, "Use /connect <url>.")
	case errors.As(err, &connErr):
		printer.Println(connErr.Error())
	case errors.As(err, &final):
		printer.Printfln("Provider request failed after %d attempts: %v", final.Attempts, final.LastError)
	case errors.As(err, &provider) && provider.Kind == llm.KindAuth:
		printer.Printfln("Authentication failed for %s. Check the API key with /config.", provider.Provider)
	case errors.As(err, &introspect):
		printer.Println(introspect.Error())
	case errors.As(err, &execErr):
		printer.Printfln("Query failed: %v", execErr.Err)
	default:
		printer.Println(err.Error())
	}
}

func formatValue(v any) string {
	switch typed := v.(type) {
	case nil:
		return "NULL"
	case time.Time:
		return typed.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", typed)
	}
}

func roundDuration(d time.Duration) string {
	switch {
	case d >= time.Second:
		return d.Round(10 * time.Millisecond).String()
	case d >= time.Millisecond:
		return d.Round(time.Millisecond).String()
	default:
		return d.String()
	}
}
