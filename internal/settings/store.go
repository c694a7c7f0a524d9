package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/schemaforge/schemaforge/internal/llm"
)

type Reader interface {
	Snapshot() *Snapshot
}

type fileProvider struct {
	APIKey string `koanf:"api_key"`
	Model  string `koanf:"model"`
}

type fileLayout struct {
	CurrentProvider string                  `koanf:"current_provider"`
	Providers       map[string]fileProvider `koanf:"providers"`
}

// Store persists settings to a YAML file. API keys go to the file, or to
// Secrets when one is set.
type Store struct {
	path    string
	secrets SecretStore

	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

// Open loads the settings file at path. A missing file yields empty settings.
// An empty path keeps settings in memory only.
func Open(path string, secrets SecretStore) (*Store, error) {
	s := &Store{path: path, secrets: secrets}
	snapshot, err := s.load()
	if err != nil {
		return nil, err
	}
	s.current.Store(snapshot)
	return s, nil
}

func NewMemoryStore(initial *Snapshot) *Store {
	s := &Store{}
	s.current.Store(initial.clone())
	return s
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Update applies fn to a copy of the current snapshot, persists the copy and
// publishes it. Nothing changes when fn or persisting fails.
func (s *Store) Update(fn func(*Snapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Load().clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := s.save(next); err != nil {
		return err
	}
	s.current.Store(next)
	return nil
}

// Configure sets the key and optional model of a provider and makes it current.
func (s *Store) Configure(id llm.ID, apiKey, model string) error {
	if strings.TrimSpace(apiKey) == "" {
		return fmt.Errorf("api key is required")
	}
	return s.Update(func(snapshot *Snapshot) error {
		cfg := snapshot.Providers[id]
		cfg.Provider = id
		cfg.APIKey = strings.TrimSpace(apiKey)
		if strings.TrimSpace(model) != "" {
			cfg.Model = strings.TrimSpace(model)
		}
		snapshot.Providers[id] = cfg
		snapshot.Current = id
		return nil
	})
}

func (s *Store) SetModel(id llm.ID, model string) error {
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("model is required")
	}
	return s.Update(func(snapshot *Snapshot) error {
		cfg := snapshot.Providers[id]
		cfg.Provider = id
		cfg.Model = strings.TrimSpace(model)
		snapshot.Providers[id] = cfg
		return nil
	})
}

// Use switches the current provider. The provider must have an API key.
func (s *Store) Use(id llm.ID) error {
	return s.Update(func(snapshot *Snapshot) error {
		cfg, ok := snapshot.Providers[id]
		if !ok || !cfg.Configured() {
			return fmt.Errorf("%w: %s has no api key", llm.ErrProviderNotConfigured, id)
		}
		snapshot.Current = id
		return nil
	})
}

func (s *Store) load() (*Snapshot, error) {
	snapshot := &Snapshot{Providers: map[llm.ID]ProviderConfig{}}
	if s.path == "" {
		return snapshot, nil
	}
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return snapshot, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(s.path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("read settings %s: %w", s.path, err)
	}
	var layout fileLayout
	if err := k.Unmarshal("", &layout); err != nil {
		return nil, fmt.Errorf("decode settings %s: %w", s.path, err)
	}

	for name, entry := range layout.Providers {
		id, err := llm.ParseID(name)
		if err != nil {
			return nil, fmt.Errorf("settings %s: %w", s.path, err)
		}
		cfg := ProviderConfig{Provider: id, APIKey: entry.APIKey, Model: entry.Model}
		if s.secrets != nil {
			key, err := s.secrets.Get(id)
			if err != nil {
				return nil, fmt.Errorf("load %s api key: %w", id, err)
			}
			cfg.APIKey = key
		}
		snapshot.Providers[id] = cfg
	}
	if layout.CurrentProvider != "" {
		id, err := llm.ParseID(layout.CurrentProvider)
		if err != nil {
			return nil, fmt.Errorf("settings %s: %w", s.path, err)
		}
		snapshot.Current = id
	}
	return snapshot, nil
}

func (s *Store) save(snapshot *Snapshot) error {
	if s.path == "" {
		return nil
	}

	providers := map[string]any{}
	for id, cfg := range snapshot.Providers {
		entry := map[string]any{"model": cfg.Model}
		if s.secrets != nil {
			if err := s.secrets.Set(id, cfg.APIKey); err != nil {
				return fmt.Errorf("store %s api key: %w", id, err)
			}
		} else {
			entry["api_key"] = cfg.APIKey
		}
		providers[string(id)] = entry
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(map[string]any{
		"current_provider": string(snapshot.Current),
		"providers":        providers,
	}, ""), nil); err != nil {
		return fmt.Errorf("build settings document: %w", err)
	}
	body, err := k.Marshal(yaml.Parser())
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
