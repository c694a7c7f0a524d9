package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/schemaforge/schemaforge/internal/config"
)

func TestNewLoggerJSONIncludesServiceAttrs(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{
		Profile: config.ProfileTest,
		Service: config.ServiceConfig{Name: "schemaforge"},
		Observability: config.ObservabilityConfig{
			LogLevel: slog.LevelInfo,
			LogJSON:  true,
		},
	}
	NewLogger(cfg, &buf).Info("indexed", slog.Int("tables", 3))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if entry["service"] != "schemaforge" || entry["profile"] != "test" {
		t.Fatalf("entry = %#v", entry)
	}
}

func TestNewLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{Observability: config.ObservabilityConfig{LogLevel: slog.LevelWarn}}
	NewLogger(cfg, &buf).Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %q", buf.String())
	}
}

func TestNewLoggerAddsTraceIDFromContext(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{Observability: config.ObservabilityConfig{LogLevel: slog.LevelInfo, LogJSON: true}}
	logger := NewLogger(cfg, &buf).With(slog.String("session_id", "s-1"))

	ctx := ContextWithTraceID(context.Background(), "trace-42")
	logger.InfoContext(ctx, "question translated")
	logger.Info("no context")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var first, second map[string]any
	if err := json.Unmarshal(lines[0], &first); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if err := json.Unmarshal(lines[1], &second); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if first["trace_id"] != "trace-42" || first["session_id"] != "s-1" {
		t.Fatalf("first = %#v", first)
	}
	if _, ok := second["trace_id"]; ok {
		t.Fatalf("second = %#v, want no trace_id", second)
	}
}
