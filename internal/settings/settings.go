// Package settings owns the provider configuration: which provider is
// current, and the API key and model of each configured provider.
package settings

import (
	"fmt"
	"sort"
	"strings"

	"github.com/schemaforge/schemaforge/internal/llm"
)

type ProviderConfig struct {
	Provider llm.ID
	APIKey   string
	Model    string
}

// EffectiveModel falls back to the provider default when Model is empty.
func (c ProviderConfig) EffectiveModel() string {
	if model := strings.TrimSpace(c.Model); model != "" {
		return model
	}
	return c.Provider.DefaultModel()
}

func (c ProviderConfig) Configured() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

// Snapshot is an immutable view of the settings. Mutate through Store.Update.
type Snapshot struct {
	Current   llm.ID
	Providers map[llm.ID]ProviderConfig
}

func (s *Snapshot) clone() *Snapshot {
	if s == nil {
		return &Snapshot{Providers: map[llm.ID]ProviderConfig{}}
	}
	out := &Snapshot{Current: s.Current, Providers: make(map[llm.ID]ProviderConfig, len(s.Providers))}
	for id, cfg := range s.Providers {
		out.Providers[id] = cfg
	}
	return out
}

// Active returns the configuration translation should use.
func (s *Snapshot) Active() (ProviderConfig, error) {
	if s == nil || s.Current == "" {
		return ProviderConfig{}, fmt.Errorf("%w: no current provider, use /config <provider> <api-key>", llm.ErrProviderNotConfigured)
	}
	cfg, ok := s.Providers[s.Current]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("%w: %s has no configuration", llm.ErrProviderNotConfigured, s.Current)
	}
	if !cfg.Configured() {
		return ProviderConfig{}, fmt.Errorf("%w: %s has no api key", llm.ErrProviderNotConfigured, s.Current)
	}
	cfg.Provider = s.Current
	return cfg, nil
}

func (s *Snapshot) Provider(id llm.ID) (ProviderConfig, bool) {
	if s == nil {
		return ProviderConfig{}, false
	}
	cfg, ok := s.Providers[id]
	if ok {
		cfg.Provider = id
	}
	return cfg, ok
}

// Configured lists providers that have an API key, sorted by ID.
func (s *Snapshot) Configured() []llm.ID {
	var ids []llm.ID
	if s == nil {
		return ids
	}
	for id, cfg := range s.Providers {
		if cfg.Configured() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MaskKey hides all but the first and last four characters of keys longer
// than eight characters.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
