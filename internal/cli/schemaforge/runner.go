// Package schemaforge is the command line front end: a cobra command tree
// whose root starts the interactive REPL.
package schemaforge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/schemaforge/schemaforge/internal/config"
	"github.com/schemaforge/schemaforge/internal/guard"
	"github.com/schemaforge/schemaforge/internal/migrations"
	"github.com/schemaforge/schemaforge/internal/schema/cache"
	"github.com/schemaforge/schemaforge/internal/session"
	"github.com/schemaforge/schemaforge/internal/settings"
)

type Options struct {
	Config config.Config
	Stdin  io.ReadCloser
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
	// Interactive enables the spinner while a question is translated.
	Interactive bool

	// Settings and Secrets replace the stores chosen by Config.
	Settings *settings.Store
	Secrets  settings.SecretStore

	HTTPClient      *http.Client
	ProviderBaseURL string
	Sleep           func(ctx context.Context, d time.Duration) error
}

// Run executes the command line and returns the process exit code.
func Run(ctx context.Context, args []string, opts Options) int {
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}

	root := newRootCommand(opts)
	root.SetArgs(args)
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		presentError(opts.Stderr, err)
		return 1
	}
	return 0
}

func newRootCommand(opts Options) *cobra.Command {
	var (
		url    string
		index  bool
		cached bool
	)
	root := &cobra.Command{
		Use:           "schemaforge",
		Short:         "Ask questions about a database in plain language",
		Long:          "schemaforge indexes a database schema and translates natural language questions into SQL with a configured LLM provider.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			sh := newShell(a, opts.Interactive)
			if url != "" {
				sh.runLine(cmd.Context(), "/connect "+url)
				if index && a.session.State() == session.StateConnected {
					line := "/index"
					if cached {
						line += " cached"
					}
					sh.runLine(cmd.Context(), line)
				}
			}
			return runREPL(cmd.Context(), sh, a.cfg.Paths.HistoryFile, opts.Stdin)
		},
	}
	root.Flags().StringVar(&url, "url", "", "connect to this database on start")
	root.Flags().BoolVar(&index, "index", false, "index the schema after connecting")
	root.Flags().BoolVar(&cached, "cached", false, "load the schema from the cache when indexing")

	root.AddCommand(
		newAskCommand(opts),
		newIndexCommand(opts),
		newProvidersCommand(opts),
		newCacheCommand(opts),
	)
	return root
}

func newAskCommand(opts Options) *cobra.Command {
	var (
		url     string
		cached  bool
		confirm bool
	)
	cmd := &cobra.Command{
		Use:   "ask --url <url> <question>",
		Short: "Translate one question, run it and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				return fmt.Errorf("--url is required")
			}
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ctx := cmd.Context()
			if _, err := a.session.Connect(ctx, url); err != nil {
				return err
			}
			if _, err := a.session.Index(ctx, session.IndexOptions{Cached: cached}); err != nil {
				return err
			}
			question := strings.Join(args, " ")
			answer, err := a.session.Ask(ctx, question)
			if errors.Is(err, guard.ErrRejected) && confirm && len(answer.Decision.Verbs) > 0 {
				result, _, execErr := a.session.ExecuteSQL(ctx, answer.Translation.SQL, true)
				if execErr != nil {
					return execErr
				}
				renderTranslation(a.out, answer.Translation)
				renderResult(a.out, result)
				return nil
			}
			if err != nil {
				return err
			}
			renderTranslation(a.out, answer.Translation)
			if answer.Rows != nil {
				renderResult(a.out, *answer.Rows)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "database connection url")
	cmd.Flags().BoolVar(&cached, "cached", true, "use the cached schema when available")
	cmd.Flags().BoolVar(&confirm, "yes", false, "run destructive statements without asking")
	return cmd
}

func newIndexCommand(opts Options) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "index --url <url>",
		Short: "Index a database schema and save it to the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if url == "" {
				return fmt.Errorf("--url is required")
			}
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ctx := cmd.Context()
			if _, err := a.session.Connect(ctx, url); err != nil {
				return err
			}
			result, err := a.session.Index(ctx, session.IndexOptions{})
			if err != nil {
				return err
			}
			renderSchemaSummary(a.out, result.Model)
			if a.store == nil {
				warning(a.out, "Schema cache is disabled, nothing was saved")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "database connection url")
	return cmd
}

func newProvidersCommand(opts Options) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the supported LLM providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := &app{cfg: opts.Config, opts: opts}
			store, err := a.openSettings()
			if err != nil {
				return err
			}
			renderProviders(opts.Stdout, store.Snapshot())
			return nil
		},
	}
}

func newCacheCommand(opts Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the persistent schema cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cached schemas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := cache.Open(cmd.Context(), opts.Config.Cache.Path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			renderCacheStats(opts.Stdout, stats)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Remove every cached schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := cache.Open(cmd.Context(), opts.Config.Cache.Path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			removed, err := store.Purge(cmd.Context())
			if err != nil {
				return err
			}
			success(opts.Stdout, "Removed %d cached schema(s)", removed)
			return nil
		},
	})

	var steps int
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending cache migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openCacheDB(cmd.Context(), opts.Config.Cache.Path)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			applied, err := migrations.NewRunner().Up(cmd.Context(), db, steps)
			if err != nil {
				return fmt.Errorf("migration up failed: %w", err)
			}
			success(opts.Stdout, "Applied %d migration(s)", applied)
			return nil
		},
	}
	migrate.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply, 0 applies all")

	var rollbackSteps int
	rollback := &cobra.Command{
		Use:   "rollback",
		Short: "Roll back cache migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openCacheDB(cmd.Context(), opts.Config.Cache.Path)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			rolled, err := migrations.NewRunner().Down(cmd.Context(), db, rollbackSteps)
			if err != nil {
				return fmt.Errorf("migration down failed: %w", err)
			}
			success(opts.Stdout, "Rolled back %d migration(s)", rolled)
			return nil
		},
	}
	rollback.Flags().IntVar(&rollbackSteps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(migrate, rollback)
	return cmd
}

func openCacheDB(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cache database: %w", err)
	}
	return db, nil
}
