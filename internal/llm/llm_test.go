package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestParseID(t *testing.T) {
	id, err := ParseID("  OpenAI ")
	if err != nil {
		t.Fatalf("ParseID() error = %v", err)
	}
	if id != OpenAI {
		t.Fatalf("ParseID() = %q", id)
	}
	if _, err := ParseID("llama-farm"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("ParseID() error = %v, want ErrUnknownProvider", err)
	}
}

func TestAllProvidersHaveDefaultModels(t *testing.T) {
	ids := All()
	if len(ids) != 8 {
		t.Fatalf("len(All()) = %d, want 8", len(ids))
	}
	for _, id := range ids {
		provider, err := New(id, DefaultOptions())
		if err != nil {
			t.Fatalf("New(%q) error = %v", id, err)
		}
		if provider.ID() != id {
			t.Fatalf("New(%q).ID() = %q", id, provider.ID())
		}
		if provider.DefaultModel() == "" {
			t.Fatalf("provider %q has no default model", id)
		}
	}
	if Anthropic.DefaultModel() != "claude-sonnet-4-20250514" || ZAI.DefaultModel() != "deepseek-r1" {
		t.Fatal("unexpected default models")
	}
}

func TestNewRejectsUnknownID(t *testing.T) {
	if _, err := New(ID("bard"), DefaultOptions()); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("New() error = %v", err)
	}
}

func TestEmptyKeyFailsBeforeIO(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	for _, id := range All() {
		provider, err := New(id, Options{BaseURL: server.URL})
		if err != nil {
			t.Fatalf("New(%q) error = %v", id, err)
		}
		_, err = provider.Generate(context.Background(), Prompt{Messages: []Message{{Role: RoleUser, Content: "hi"}}}, "", " ")
		if !IsKind(err, KindAuth) {
			t.Fatalf("%s Generate() error = %v, want auth error", id, err)
		}
	}
	if hits.Load() != 0 {
		t.Fatalf("server received %d requests, want 0", hits.Load())
	}
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		kind      ErrorKind
		retryable bool
	}{
		{http.StatusUnauthorized, KindAuth, false},
		{http.StatusForbidden, KindAuth, false},
		{http.StatusTooManyRequests, KindRateLimited, true},
		{http.StatusRequestTimeout, KindTransient, true},
		{http.StatusBadGateway, KindTransient, true},
		{http.StatusServiceUnavailable, KindTransient, true},
		{http.StatusBadRequest, KindInvalidRequest, false},
		{http.StatusNotFound, KindInvalidRequest, false},
	}
	for _, tt := range tests {
		err := statusError(OpenAI, tt.status, []byte(`{"error":{"message":"nope"}}`))
		if err.Kind != tt.kind || err.Retryable() != tt.retryable {
			t.Fatalf("status %d: kind=%s retryable=%v", tt.status, err.Kind, err.Retryable())
		}
		if err.Message != "nope" {
			t.Fatalf("status %d: message = %q", tt.status, err.Message)
		}
	}
}

func TestCancelledContextIsNotWrapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	provider, err := New(OpenAI, Options{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = provider.Generate(ctx, Prompt{Messages: []Message{{Role: RoleUser, Content: "q"}}}, "", "sk-test")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Generate() error = %v, want context.Canceled", err)
	}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		t.Fatalf("cancellation should not be a ProviderError: %v", err)
	}
}

func TestRegistryCachesProviders(t *testing.T) {
	registry := NewRegistry(DefaultOptions())
	first, err := registry.Provider(Groq)
	if err != nil {
		t.Fatalf("Provider() error = %v", err)
	}
	second, err := registry.Provider(Groq)
	if err != nil {
		t.Fatalf("Provider() error = %v", err)
	}
	if first != second {
		t.Fatal("Registry should return the same provider instance")
	}
}
