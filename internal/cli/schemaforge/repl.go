package schemaforge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/chzyer/readline"

	"github.com/schemaforge/schemaforge/internal/llm"
	"github.com/schemaforge/schemaforge/internal/observability"
)

const prompt = "schemaforge> "

func runREPL(ctx context.Context, sh *shell, historyFile string, stdin io.ReadCloser) error {
	if historyFile != "" {
		if err := os.MkdirAll(filepath.Dir(historyFile), 0o700); err != nil {
			return fmt.Errorf("create history directory: %w", err)
		}
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		AutoComplete:    newCompleter(sh),
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
		Stdin:           stdin,
		Stdout:          sh.out,
		Stderr:          sh.errOut,
	})
	if err != nil {
		return fmt.Errorf("initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	_, _ = fmt.Fprintln(sh.out, labelStyle.Sprint("Schema Forge"))
	_, _ = fmt.Fprintln(sh.out, "Type / to list commands, /quit to exit.")
	_, _ = fmt.Fprintln(sh.out)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read line: %w", err)
		}
		if sh.runLine(ctx, line) {
			return nil
		}
		_, _ = fmt.Fprintln(sh.out)
	}
}

// runLine gives each command its own trace ID and a context that Ctrl-C
// cancels without leaving the REPL.
func (sh *shell) runLine(ctx context.Context, line string) bool {
	cmdCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	cmdCtx = observability.ContextWithTraceID(cmdCtx, observability.NewTraceID())
	return sh.Execute(cmdCtx, line)
}

func newCompleter(sh *shell) *readline.PrefixCompleter {
	providerItems := func() []readline.PrefixCompleterInterface {
		items := make([]readline.PrefixCompleterInterface, 0, len(llm.All()))
		for _, id := range llm.All() {
			items = append(items, readline.PcItem(string(id)))
		}
		return items
	}
	tableNames := func(string) []string {
		model, err := sh.app.session.Model()
		if err != nil {
			return nil
		}
		return model.TableNames()
	}

	var items []readline.PrefixCompleterInterface
	for _, name := range sh.names() {
		switch name {
		case "/config", "/model", "/use":
			items = append(items, readline.PcItem(name, providerItems()...))
		case "/index":
			items = append(items, readline.PcItem(name, readline.PcItem("cached")))
		case "/schema":
			items = append(items, readline.PcItem(name, readline.PcItemDynamic(tableNames)))
		default:
			items = append(items, readline.PcItem(name))
		}
	}
	return readline.NewPrefixCompleter(items...)
}
