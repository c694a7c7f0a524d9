// Package llm is a closed set of chat-completion providers behind one
// interface. Every provider takes a system prompt plus user/assistant
// messages and returns plain text.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

type ID string

const (
	Anthropic ID = "anthropic"
	OpenAI    ID = "openai"
	Groq      ID = "groq"
	Cohere    ID = "cohere"
	XAI       ID = "xai"
	Minimax   ID = "minimax"
	Qwen      ID = "qwen"
	ZAI       ID = "zai"
)

var (
	ErrUnknownProvider       = errors.New("llm: unknown provider")
	ErrProviderNotConfigured = errors.New("llm: provider not configured")
)

var (
	allIDs        = []ID{Anthropic, OpenAI, Groq, Cohere, XAI, Minimax, Qwen, ZAI}
	defaultModels = map[ID]string{
		Anthropic: "claude-sonnet-4-20250514",
		OpenAI:    "gpt-4o",
		Groq:      "llama-3.3-70b-versatile",
		Cohere:    "command-r-plus",
		XAI:       "grok-2",
		Minimax:   "abab6.5s-chat",
		Qwen:      "qwen-max",
		ZAI:       "deepseek-r1",
	}
)

// All returns every supported provider in display order.
func All() []ID {
	out := make([]ID, len(allIDs))
	copy(out, allIDs)
	return out
}

func ParseID(raw string) (ID, error) {
	id := ID(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := defaultModels[id]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, raw)
	}
	return id, nil
}

func (id ID) DefaultModel() string {
	return defaultModels[id]
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

type Prompt struct {
	System   string
	Messages []Message
}

type Response struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

type Provider interface {
	ID() ID
	DefaultModel() string
	// Generate sends one request. An empty model selects DefaultModel.
	Generate(ctx context.Context, prompt Prompt, model, apiKey string) (Response, error)
}

type Options struct {
	HTTPClient *http.Client
	// BaseURL replaces the scheme and host of the provider endpoint.
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

const (
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 4096
	DefaultTimeout     = 60 * time.Second
)

func DefaultOptions() Options {
	return Options{Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens, Timeout: DefaultTimeout}
}

// New builds the provider for id.
func New(id ID, opts Options) (Provider, error) {
	if _, ok := defaultModels[id]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, string(id))
	}
	t := newTransport(id, opts)
	switch id {
	case Anthropic:
		return &anthropicProvider{transport: t}, nil
	case Cohere:
		return &cohereProvider{transport: t}, nil
	case Minimax:
		return &minimaxProvider{transport: t}, nil
	default:
		return &chatCompletionsProvider{transport: t, path: chatCompletionsPaths[id]}, nil
	}
}

// Registry resolves providers by ID, building each one once.
type Registry struct {
	opts      Options
	mu        sync.Mutex
	providers map[ID]Provider
}

func NewRegistry(opts Options) *Registry {
	return &Registry{opts: opts, providers: map[ID]Provider{}}
}

func (r *Registry) Provider(id ID) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[id]; ok {
		return p, nil
	}
	p, err := New(id, r.opts)
	if err != nil {
		return nil, err
	}
	r.providers[id] = p
	return p, nil
}
