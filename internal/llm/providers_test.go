package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

type capturedRequest struct {
	Path    string
	Headers http.Header
	Body    map[string]any
}

func newCaptureServer(t *testing.T, status int, response string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Path = r.URL.Path
		captured.Headers = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &captured.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(server.Close)
	return server, captured
}

var samplePrompt = Prompt{
	System: "You are a SQL expert.",
	Messages: []Message{
		{Role: RoleUser, Content: "count users"},
	},
}

func TestChatCompletionsProviders(t *testing.T) {
	for _, id := range []ID{OpenAI, Groq, XAI, Qwen, ZAI} {
		t.Run(string(id), func(t *testing.T) {
			server, captured := newCaptureServer(t, http.StatusOK,
				`{"model":"served-model","choices":[{"message":{"content":"SELECT COUNT(*) FROM users;"}}],"usage":{"prompt_tokens":12,"completion_tokens":7}}`)
			provider, err := New(id, Options{BaseURL: server.URL, Temperature: 0.3, MaxTokens: 4096})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			resp, err := provider.Generate(context.Background(), samplePrompt, "", "sk-test")
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			if resp.Text != "SELECT COUNT(*) FROM users;" || resp.Model != "served-model" {
				t.Fatalf("Generate() = %+v", resp)
			}
			if resp.InputTokens != 12 || resp.OutputTokens != 7 {
				t.Fatalf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
			}
			if captured.Path != "/v1/chat/completions" {
				t.Fatalf("path = %q", captured.Path)
			}
			if got := captured.Headers.Get("Authorization"); got != "Bearer sk-test" {
				t.Fatalf("Authorization = %q", got)
			}
			if captured.Body["model"] != id.DefaultModel() {
				t.Fatalf("model = %v, want %q", captured.Body["model"], id.DefaultModel())
			}
			if captured.Body["max_tokens"] != float64(4096) || captured.Body["temperature"] != 0.3 {
				t.Fatalf("generation params = %v / %v", captured.Body["max_tokens"], captured.Body["temperature"])
			}
			messages, _ := captured.Body["messages"].([]any)
			if len(messages) != 2 {
				t.Fatalf("messages = %v", captured.Body["messages"])
			}
			first, _ := messages[0].(map[string]any)
			if first["role"] != "system" {
				t.Fatalf("first message role = %v", first["role"])
			}
		})
	}
}

func TestChatCompletionsEmptyChoicesIsMalformed(t *testing.T) {
	server, _ := newCaptureServer(t, http.StatusOK, `{"choices":[]}`)
	provider, _ := New(OpenAI, Options{BaseURL: server.URL})
	_, err := provider.Generate(context.Background(), samplePrompt, "gpt-4o-mini", "sk-test")
	if !IsKind(err, KindMalformed) {
		t.Fatalf("Generate() error = %v, want malformed", err)
	}
}

func TestChatCompletionsUndecodableBodyIsMalformed(t *testing.T) {
	server, _ := newCaptureServer(t, http.StatusOK, `<html>`)
	provider, _ := New(Groq, Options{BaseURL: server.URL})
	_, err := provider.Generate(context.Background(), samplePrompt, "", "sk-test")
	if !IsKind(err, KindMalformed) {
		t.Fatalf("Generate() error = %v, want malformed", err)
	}
}

func TestChatCompletionsRateLimited(t *testing.T) {
	server, _ := newCaptureServer(t, http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`)
	provider, _ := New(XAI, Options{BaseURL: server.URL})
	_, err := provider.Generate(context.Background(), samplePrompt, "", "sk-test")
	if !IsKind(err, KindRateLimited) {
		t.Fatalf("Generate() error = %v, want rate limited", err)
	}
}

func TestAnthropicProvider(t *testing.T) {
	server, captured := newCaptureServer(t, http.StatusOK,
		`{"model":"claude-sonnet-4-20250514","content":[{"type":"text","text":"SELECT 1;"}],"usage":{"input_tokens":3,"output_tokens":2}}`)
	provider, _ := New(Anthropic, Options{BaseURL: server.URL, MaxTokens: 100})

	resp, err := provider.Generate(context.Background(), samplePrompt, "", "sk-ant")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Text != "SELECT 1;" || resp.InputTokens != 3 {
		t.Fatalf("Generate() = %+v", resp)
	}
	if captured.Path != "/v1/messages" {
		t.Fatalf("path = %q", captured.Path)
	}
	if captured.Headers.Get("x-api-key") != "sk-ant" || captured.Headers.Get("anthropic-version") != "2023-06-01" {
		t.Fatalf("headers = %v", captured.Headers)
	}
	if captured.Body["system"] != "You are a SQL expert." {
		t.Fatalf("system = %v", captured.Body["system"])
	}
	messages, _ := captured.Body["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("messages = %v", messages)
	}
}

func TestAnthropicAuthFailure(t *testing.T) {
	server, _ := newCaptureServer(t, http.StatusUnauthorized, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	provider, _ := New(Anthropic, Options{BaseURL: server.URL})
	_, err := provider.Generate(context.Background(), samplePrompt, "", "bad")
	if !IsKind(err, KindAuth) {
		t.Fatalf("Generate() error = %v, want auth", err)
	}
}

func TestCohereProviderSplitsHistory(t *testing.T) {
	server, captured := newCaptureServer(t, http.StatusOK, `{"text":"SELECT name FROM users;","meta":{"billed_units":{"input_tokens":4,"output_tokens":5}}}`)
	provider, _ := New(Cohere, Options{BaseURL: server.URL})

	prompt := Prompt{
		System: "preamble",
		Messages: []Message{
			{Role: RoleUser, Content: "earlier question"},
			{Role: RoleAssistant, Content: "SELECT 1;"},
			{Role: RoleUser, Content: "list names"},
		},
	}
	resp, err := provider.Generate(context.Background(), prompt, "", "co-key")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Text != "SELECT name FROM users;" || resp.OutputTokens != 5 {
		t.Fatalf("Generate() = %+v", resp)
	}
	if captured.Path != "/v1/chat" {
		t.Fatalf("path = %q", captured.Path)
	}
	if captured.Body["message"] != "list names" || captured.Body["preamble"] != "preamble" {
		t.Fatalf("body = %v", captured.Body)
	}
	history, _ := captured.Body["chat_history"].([]any)
	if len(history) != 2 {
		t.Fatalf("chat_history = %v", history)
	}
	second, _ := history[1].(map[string]any)
	if second["role"] != "CHATBOT" {
		t.Fatalf("history role = %v", second["role"])
	}
}

func TestMinimaxBaseRespError(t *testing.T) {
	server, captured := newCaptureServer(t, http.StatusOK, `{"base_resp":{"status_code":1004,"status_msg":"authorization failure"}}`)
	provider, _ := New(Minimax, Options{BaseURL: server.URL})

	_, err := provider.Generate(context.Background(), samplePrompt, "", "mm-key")
	if !IsKind(err, KindAuth) {
		t.Fatalf("Generate() error = %v, want auth", err)
	}
	if captured.Path != "/v1/text/chatcompletion_v2" {
		t.Fatalf("path = %q", captured.Path)
	}
}

func TestMinimaxSuccess(t *testing.T) {
	server, _ := newCaptureServer(t, http.StatusOK,
		`{"choices":[{"message":{"content":"SELECT 2;"}}],"base_resp":{"status_code":0,"status_msg":"success"}}`)
	provider, _ := New(Minimax, Options{BaseURL: server.URL})

	resp, err := provider.Generate(context.Background(), samplePrompt, "abab6.5g-chat", "mm-key")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Text != "SELECT 2;" || resp.Model != "abab6.5g-chat" {
		t.Fatalf("Generate() = %+v", resp)
	}
}
