package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/schemaforge/schemaforge/internal/llm"
	"github.com/schemaforge/schemaforge/internal/observability"
	"github.com/schemaforge/schemaforge/internal/retry"
	"github.com/schemaforge/schemaforge/internal/schema/cache"
	"github.com/schemaforge/schemaforge/internal/settings"
)

// Service is the Translator backed by a configured provider.
type Service struct {
	Providers func(llm.ID) (llm.Provider, error)
	Settings  settings.Reader
	Retry     retry.Executor
	Logger    *slog.Logger
	Clock     func() time.Time
}

func (s *Service) Translate(ctx context.Context, req Request) (Result, error) {
	if req.Schema == nil {
		return Result{}, cache.ErrNoSchemaIndexed
	}
	if s.Settings == nil {
		return Result{}, llm.ErrProviderNotConfigured
	}
	active, err := s.Settings.Snapshot().Active()
	if err != nil {
		return Result{}, err
	}
	if s.Providers == nil {
		return Result{}, fmt.Errorf("provider resolver is required")
	}
	provider, err := s.Providers(active.Provider)
	if err != nil {
		return Result{}, &TranslationError{Provider: active.Provider, Err: err}
	}

	now := s.Clock
	if now == nil {
		now = time.Now
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	model := active.EffectiveModel()
	prompt := BuildPrompt(req)
	start := now()

	executor := s.Retry
	observer := executor.Observer
	executor.Observer = func(attempt retry.Attempt) {
		logger.WarnContext(ctx, "provider attempt failed",
			slog.String("provider", string(active.Provider)),
			slog.Int("attempt", attempt.Number),
			slog.Bool("retryable", attempt.Retryable),
			slog.String("next_delay", attempt.NextDelay.String()),
			slog.Any("error", attempt.Err),
		)
		if observer != nil {
			observer(attempt)
		}
	}

	resp, outcome, err := retry.Do(ctx, executor, func(ctx context.Context, _ int) (llm.Response, error) {
		return provider.Generate(ctx, prompt, model, active.APIKey)
	})
	observability.ObserveRetries(string(active.Provider), outcome.Attempts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			observability.ObserveTranslation("cancelled")
			return Result{}, err
		}
		observability.ObserveTranslation("provider_error")
		return Result{}, &TranslationError{Provider: active.Provider, Err: err}
	}

	result := Result{
		Raw:      resp.Text,
		Provider: active.Provider,
		Model:    model,
		Attempts: outcome.Attempts,
		Elapsed:  now().Sub(start),
	}
	if resp.Model != "" {
		result.Model = resp.Model
	}

	sql, explanation, err := Extract(resp.Text)
	if err != nil {
		observability.ObserveTranslation("no_sql")
		return result, err
	}
	result.SQL = sql
	result.Explanation = explanation

	if req.Conversation != nil {
		req.Conversation.Append(Turn{Question: req.Question, SQL: sql, Explanation: explanation})
	}
	observability.ObserveTranslation("ok")
	logger.InfoContext(ctx, "question translated",
		slog.String("provider", string(active.Provider)),
		slog.String("model", result.Model),
		slog.Int("attempts", outcome.Attempts),
		slog.Int("input_tokens", resp.InputTokens),
		slog.Int("output_tokens", resp.OutputTokens),
		slog.String("duration", result.Elapsed.String()),
	)
	return result, nil
}
