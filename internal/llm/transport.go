package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/schemaforge/schemaforge/internal/observability"
)

var baseURLs = map[ID]string{
	Anthropic: "https://api.anthropic.com",
	OpenAI:    "https://api.openai.com",
	Groq:      "https://api.groq.com/openai",
	Cohere:    "https://api.cohere.ai",
	XAI:       "https://api.x.ai",
	Minimax:   "https://api.minimax.chat",
	Qwen:      "https://dashscope.aliyuncs.com/compatible-mode",
	ZAI:       "https://api.z.ai",
}

const maxResponseBytes = 8 << 20

type transport struct {
	id          ID
	baseURL     string
	temperature float64
	maxTokens   int
	client      *http.Client
}

func newTransport(id ID, opts Options) transport {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = baseURLs[id]
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return transport{
		id:          id,
		baseURL:     baseURL,
		temperature: opts.Temperature,
		maxTokens:   maxTokens,
		client:      client,
	}
}

func (t transport) ID() ID {
	return t.id
}

func (t transport) DefaultModel() string {
	return t.id.DefaultModel()
}

func (t transport) model(requested string) string {
	if model := strings.TrimSpace(requested); model != "" {
		return model
	}
	return t.id.DefaultModel()
}

func (t transport) requireKey(apiKey string) error {
	if strings.TrimSpace(apiKey) == "" {
		return &ProviderError{Provider: t.id, Kind: KindAuth, Message: "api key is empty"}
	}
	return nil
}

// post sends payload as JSON and decodes a 2xx body into out.
func (t transport) post(ctx context.Context, path string, headers map[string]string, payload, out any) error {
	start := time.Now()
	err := t.roundTrip(ctx, path, headers, payload, out)
	observability.ObserveProviderRequest(string(t.id), outcomeLabel(err), time.Since(start))
	return err
}

func (t transport) roundTrip(ctx context.Context, path string, headers map[string]string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", t.id, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", t.id, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return transportError(ctx, t.id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportError(ctx, t.id, fmt.Errorf("read response body: %w", err))
	}
	if resp.StatusCode >= 400 {
		return statusError(t.id, resp.StatusCode, rawRespBody)
	}
	if err := json.Unmarshal(rawRespBody, out); err != nil {
		return malformed(t.id, "undecodable response body", err)
	}
	return nil
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return string(providerErr.Kind)
	}
	return "error"
}
