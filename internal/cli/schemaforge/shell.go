package schemaforge

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pterm/pterm"

	"github.com/schemaforge/schemaforge/internal/llm"
	"github.com/schemaforge/schemaforge/internal/session"
	"github.com/schemaforge/schemaforge/internal/settings"
)

type replCommand struct {
	name    string
	usage   string
	summary string
	run     func(ctx context.Context, sh *shell, args []string, rest string) error
}

// shell interprets one REPL line at a time. It is separate from the
// readline loop so it can be driven directly.
type shell struct {
	app         *app
	out         io.Writer
	errOut      io.Writer
	interactive bool
	commands    map[string]replCommand
	order       []string
}

func newShell(a *app, interactive bool) *shell {
	sh := &shell{app: a, out: a.out, errOut: a.errOut, interactive: interactive}
	sh.register(
		replCommand{name: "/connect", usage: "/connect <url>", summary: "Connect to a database", run: cmdConnect},
		replCommand{name: "/index", usage: "/index [cached]", summary: "Index the schema, or load it from the cache", run: cmdIndex},
		replCommand{name: "/config", usage: "/config [<provider> <api-key> [model]]", summary: "Show or set provider configuration", run: cmdConfig},
		replCommand{name: "/providers", usage: "/providers", summary: "List the supported providers", run: cmdProviders},
		replCommand{name: "/model", usage: "/model <provider> <model>", summary: "Set the model of a provider", run: cmdModel},
		replCommand{name: "/use", usage: "/use <provider>", summary: "Switch the current provider", run: cmdUse},
		replCommand{name: "/schema", usage: "/schema [table]", summary: "Show the indexed schema", run: cmdSchema},
		replCommand{name: "/sql", usage: "/sql <statement>", summary: "Run SQL, destructive statements are rejected", run: cmdSQL(false)},
		replCommand{name: "/sql!", usage: "/sql! <statement>", summary: "Run SQL including destructive statements", run: cmdSQL(true)},
		replCommand{name: "/export", usage: "/export [name]", summary: "Export the last result to Parquet", run: cmdExport},
		replCommand{name: "/status", usage: "/status", summary: "Show the session status", run: cmdStatus},
		replCommand{name: "/clear", usage: "/clear", summary: "Forget the conversation", run: cmdClear},
		replCommand{name: "/help", usage: "/help", summary: "Show help", run: cmdHelp},
		replCommand{name: "/quit", usage: "/quit", summary: "Leave", run: nil},
		replCommand{name: "/exit", usage: "/exit", summary: "Leave", run: nil},
	)
	return sh
}

func (sh *shell) register(commands ...replCommand) {
	sh.commands = make(map[string]replCommand, len(commands))
	for _, c := range commands {
		sh.commands[c.name] = c
		sh.order = append(sh.order, c.name)
	}
}

// Execute runs one line and reports whether the REPL should stop. Errors are
// presented, never returned.
func (sh *shell) Execute(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		presentError(sh.errOut, sh.ask(ctx, line))
		return false
	}
	if line == "/" {
		sh.listCommands()
		return false
	}

	name, rest, _ := strings.Cut(line, " ")
	name = strings.ToLower(name)
	rest = strings.TrimSpace(rest)
	command, ok := sh.commands[name]
	if !ok {
		pterm.Error.WithWriter(sh.errOut).Printfln("Unknown command %s. Type / to list commands.", name)
		return false
	}
	if command.run == nil {
		return true
	}
	presentError(sh.errOut, command.run(ctx, sh, strings.Fields(rest), rest))
	return false
}

func (sh *shell) ask(ctx context.Context, question string) error {
	var spinner *pterm.SpinnerPrinter
	if sh.interactive {
		spinner, _ = pterm.DefaultSpinner.WithWriter(sh.out).WithRemoveWhenDone(true).Start("Translating...")
	}
	answer, err := sh.app.session.Ask(ctx, question)
	if spinner != nil {
		_ = spinner.Stop()
	}
	if answer.Translation.SQL != "" && answer.Decision.Accepted {
		renderTranslation(sh.out, answer.Translation)
	}
	if err != nil {
		return err
	}
	if answer.Rows != nil {
		renderResult(sh.out, *answer.Rows)
	}
	return nil
}

func (sh *shell) listCommands() {
	t := newTable(sh.out)
	t.AppendHeader(table.Row{"Command", "Description"})
	for _, name := range sh.order {
		c := sh.commands[name]
		t.AppendRow(table.Row{c.usage, c.summary})
	}
	t.Render()
}

func (sh *shell) names() []string {
	names := append([]string(nil), sh.order...)
	sort.Strings(names)
	return names
}

func cmdConnect(ctx context.Context, sh *shell, args []string, _ string) error {
	if len(args) != 1 {
		return usageError("/connect <url>")
	}
	desc, err := sh.app.session.Connect(ctx, args[0])
	if err != nil {
		return err
	}
	success(sh.out, "Connected to %s (%s)", desc.Masked, desc.Kind)
	return nil
}

func cmdIndex(ctx context.Context, sh *shell, args []string, _ string) error {
	cached := len(args) == 1 && strings.EqualFold(args[0], "cached")
	if len(args) > 1 || (len(args) == 1 && !cached) {
		return usageError("/index [cached]")
	}
	result, err := sh.app.session.Index(ctx, session.IndexOptions{Cached: cached})
	if err != nil {
		return err
	}
	tables, views := result.Model.Counts()
	source := "introspected"
	if result.FromCache {
		source = "loaded from cache"
	}
	success(sh.out, "Schema %s: %d tables, %d views in %s", source, tables, views, roundDuration(result.Elapsed))
	return nil
}

func cmdConfig(_ context.Context, sh *shell, args []string, _ string) error {
	switch len(args) {
	case 0:
		renderConfig(sh.out, sh.app.settings)
		return nil
	case 2, 3:
	default:
		return usageError("/config <provider> <api-key> [model]")
	}
	id, err := llm.ParseID(args[0])
	if err != nil {
		return err
	}
	model := ""
	if len(args) == 3 {
		model = args[2]
	}
	if err := sh.app.settings.Configure(id, args[1], model); err != nil {
		return err
	}
	cfg, _ := sh.app.settings.Snapshot().Provider(id)
	success(sh.out, "Configured %s with model %s (key %s)", id, cfg.EffectiveModel(), settings.MaskKey(cfg.APIKey))
	return nil
}

func cmdProviders(_ context.Context, sh *shell, _ []string, _ string) error {
	renderProviders(sh.out, sh.app.settings.Snapshot())
	return nil
}

func cmdModel(_ context.Context, sh *shell, args []string, _ string) error {
	if len(args) != 2 {
		return usageError("/model <provider> <model>")
	}
	id, err := llm.ParseID(args[0])
	if err != nil {
		return err
	}
	if err := sh.app.settings.SetModel(id, args[1]); err != nil {
		return err
	}
	success(sh.out, "Model for %s set to %s", id, args[1])
	return nil
}

func cmdUse(_ context.Context, sh *shell, args []string, _ string) error {
	if len(args) != 1 {
		return usageError("/use <provider>")
	}
	id, err := llm.ParseID(args[0])
	if err != nil {
		return err
	}
	if err := sh.app.settings.Use(id); err != nil {
		return err
	}
	success(sh.out, "Using %s", id)
	return nil
}

func cmdSchema(_ context.Context, sh *shell, args []string, _ string) error {
	model, err := sh.app.session.Model()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		renderSchemaSummary(sh.out, model)
		return nil
	}
	tbl, ok := model.Table(args[0])
	if !ok {
		return fmt.Errorf("table %q is not in the indexed schema", args[0])
	}
	renderTable(sh.out, tbl)
	return nil
}

func cmdSQL(confirmed bool) func(context.Context, *shell, []string, string) error {
	return func(ctx context.Context, sh *shell, _ []string, rest string) error {
		if rest == "" {
			if confirmed {
				return usageError("/sql! <statement>")
			}
			return usageError("/sql <statement>")
		}
		result, _, err := sh.app.session.ExecuteSQL(ctx, rest, confirmed)
		if err != nil {
			return err
		}
		renderResult(sh.out, result)
		return nil
	}
}

func cmdExport(ctx context.Context, sh *shell, args []string, _ string) error {
	if len(args) > 1 {
		return usageError("/export [name]")
	}
	name := "result"
	if len(args) == 1 {
		name = args[0]
	}
	receipt, err := sh.app.session.Export(ctx, name)
	if err != nil {
		return err
	}
	renderReceipt(sh.out, receipt)
	return nil
}

func cmdStatus(_ context.Context, sh *shell, _ []string, _ string) error {
	renderStatus(sh.out, sh.app.session.Status())
	return nil
}

func cmdClear(_ context.Context, sh *shell, _ []string, _ string) error {
	sh.app.session.Clear()
	info(sh.out, "Conversation cleared")
	return nil
}

func cmdHelp(_ context.Context, sh *shell, _ []string, _ string) error {
	_, _ = fmt.Fprintln(sh.out, "Ask a question in plain language, or use a command:")
	sh.listCommands()
	return nil
}

func usageError(usage string) error {
	return fmt.Errorf("usage: %s", usage)
}
