package schemaforge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/schemaforge/schemaforge/internal/config"
	"github.com/schemaforge/schemaforge/internal/database"
	"github.com/schemaforge/schemaforge/internal/export"
	"github.com/schemaforge/schemaforge/internal/guard"
	"github.com/schemaforge/schemaforge/internal/llm"
	"github.com/schemaforge/schemaforge/internal/nl2sql"
	"github.com/schemaforge/schemaforge/internal/retry"
	"github.com/schemaforge/schemaforge/internal/schema/cache"
	"github.com/schemaforge/schemaforge/internal/session"
	"github.com/schemaforge/schemaforge/internal/settings"
	"github.com/schemaforge/schemaforge/internal/storage"
	"github.com/schemaforge/schemaforge/internal/storage/local"
	"github.com/schemaforge/schemaforge/internal/storage/s3"
)

// app holds everything one CLI invocation needs. It is built lazily by the
// commands that need a session.
type app struct {
	cfg    config.Config
	opts   Options
	out    io.Writer
	errOut io.Writer
	logger *slog.Logger

	settings *settings.Store
	store    *cache.Store
	session  *session.Session
}

func newApp(ctx context.Context, opts Options) (*app, error) {
	a := &app{
		cfg:    opts.Config,
		opts:   opts,
		out:    opts.Stdout,
		errOut: opts.Stderr,
		logger: opts.Logger,
	}
	if a.logger == nil {
		a.logger = slog.New(slog.DiscardHandler)
	}

	store, err := a.openSettings()
	if err != nil {
		return nil, err
	}
	a.settings = store

	if a.cfg.Cache.Enabled {
		cacheStore, err := cache.Open(ctx, a.cfg.Cache.Path)
		if err != nil {
			a.logger.WarnContext(ctx, "persistent schema cache unavailable", slog.String("path", a.cfg.Cache.Path), slog.Any("error", err))
		} else {
			a.store = cacheStore
		}
	}

	exporter, err := a.newExporter(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "export target unavailable", slog.String("target", a.cfg.Export.Target), slog.Any("error", err))
	}

	a.session = session.New(session.Options{
		Pool: database.PoolConfig{
			MaxOpenConns:    a.cfg.Database.MaxOpenConns,
			ConnMaxLifetime: a.cfg.Database.ConnMaxLifetime,
			PingTimeout:     a.cfg.Database.PingTimeout,
		},
		MaxTurns:     a.cfg.Context.MaxTurns,
		RowLimit:     a.cfg.Query.RowLimit,
		QueryTimeout: a.cfg.Query.Timeout,
		Guard:        guard.NewPolicy(a.cfg.Guard.DestructiveVerbs),
		Translator:   a.newTranslator(),
		Store:        a.store,
		Exporter:     exporter,
		Logger:       a.logger,
	})
	a.logger.DebugContext(ctx, "session started", slog.String("session_id", a.session.ID()))
	return a, nil
}

func (a *app) openSettings() (*settings.Store, error) {
	if a.opts.Settings != nil {
		return a.opts.Settings, nil
	}
	secrets := a.opts.Secrets
	if secrets == nil && a.cfg.Paths.KeyBackend == config.KeyBackendKeyring {
		ring, err := settings.OpenKeyring()
		if err != nil {
			return nil, err
		}
		secrets = ring
	}
	store, err := settings.Open(a.cfg.Paths.SettingsFile, secrets)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return store, nil
}

func (a *app) newTranslator() nl2sql.Translator {
	client := a.opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	registry := llm.NewRegistry(llm.Options{
		HTTPClient:  client,
		BaseURL:     a.opts.ProviderBaseURL,
		Temperature: a.cfg.LLM.Temperature,
		MaxTokens:   a.cfg.LLM.MaxTokens,
		Timeout:     a.cfg.LLM.Timeout,
	})
	return &nl2sql.Service{
		Providers: registry.Provider,
		Settings:  a.settings,
		Retry: retry.Executor{
			Policy: retry.Policy{
				MaxAttempts: a.cfg.Retry.MaxAttempts,
				BaseDelay:   a.cfg.Retry.BaseDelay,
				MaxDelay:    a.cfg.Retry.MaxDelay,
				Jitter:      a.cfg.Retry.Jitter,
			},
			Sleep: a.opts.Sleep,
		},
		Logger: a.logger,
	}
}

func (a *app) newExporter(ctx context.Context) (*export.Exporter, error) {
	var (
		target storage.ObjectStore
		err    error
	)
	switch a.cfg.Export.Target {
	case config.ExportTargetS3:
		s3cfg := a.cfg.Export.S3
		target, err = s3.New(ctx, s3.Config{
			Endpoint:         s3cfg.Endpoint,
			Region:           s3cfg.Region,
			Bucket:           s3cfg.Bucket,
			AccessKeyID:      s3cfg.AccessKeyID,
			SecretAccessKey:  s3cfg.SecretAccessKey,
			UseSSL:           s3cfg.UseSSL,
			Prefix:           s3cfg.Prefix,
			AutoCreateBucket: s3cfg.AutoCreateBucket,
		})
	default:
		target, err = local.New(a.cfg.Export.Dir)
	}
	if err != nil {
		return nil, err
	}
	return export.New(target, a.logger), nil
}

func (a *app) Close() error {
	var firstErr error
	if a.session != nil {
		if err := a.session.Close(); err != nil {
			firstErr = err
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
