package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/chzyer/readline"
	"github.com/joho/godotenv"

	"github.com/schemaforge/schemaforge/internal/cli/schemaforge"
	"github.com/schemaforge/schemaforge/internal/config"
	"github.com/schemaforge/schemaforge/internal/observability"
)

func main() {
	// variables already set in the environment win over .env
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("schemaforge")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stderr)

	var server *http.Server
	if cfg.Observability.MetricsAddr != "" {
		server = observability.NewMetricsServer(cfg.Observability.MetricsAddr, logger)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", slog.Any("error", err))
			}
		}()
	}

	code := schemaforge.Run(context.Background(), os.Args[1:], schemaforge.Options{
		Config:      cfg,
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		Logger:      logger,
		Interactive: readline.IsTerminal(int(os.Stdout.Fd())),
	})

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}
	os.Exit(code)
}
