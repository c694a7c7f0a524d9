package settings

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/99designs/keyring"

	"github.com/schemaforge/schemaforge/internal/llm"
)

func TestMaskKey(t *testing.T) {
	tests := map[string]string{
		"":                     "***",
		"short":                "***",
		"12345678":             "***",
		"sk-abcdefgh1234":      "sk-a...1234",
		"sk-ant-api03-XYZwxyz": "sk-a...wxyz",
	}
	for key, want := range tests {
		if got := MaskKey(key); got != want {
			t.Fatalf("MaskKey(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestActiveRequiresCurrentProviderWithKey(t *testing.T) {
	tests := []*Snapshot{
		nil,
		{Providers: map[llm.ID]ProviderConfig{}},
		{Current: llm.OpenAI, Providers: map[llm.ID]ProviderConfig{}},
		{Current: llm.OpenAI, Providers: map[llm.ID]ProviderConfig{llm.OpenAI: {Model: "gpt-4o"}}},
	}
	for i, snapshot := range tests {
		if _, err := snapshot.Active(); !errors.Is(err, llm.ErrProviderNotConfigured) {
			t.Fatalf("case %d: Active() error = %v, want ErrProviderNotConfigured", i, err)
		}
	}

	ok := &Snapshot{Current: llm.Groq, Providers: map[llm.ID]ProviderConfig{llm.Groq: {APIKey: "gsk-1234567890"}}}
	cfg, err := ok.Active()
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if cfg.Provider != llm.Groq || cfg.EffectiveModel() != "llama-3.3-70b-versatile" {
		t.Fatalf("Active() = %+v", cfg)
	}
}

func TestStoreConfigurePersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sf", "config.yaml")
	store, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := store.Configure(llm.Anthropic, "sk-ant-123456789", ""); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if err := store.Configure(llm.OpenAI, "sk-openai-987654321", "gpt-4o-mini"); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if err := store.Use(llm.Anthropic); err != nil {
		t.Fatalf("Use() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("settings file mode = %v", info.Mode().Perm())
	}

	reloaded, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open() reload error = %v", err)
	}
	snapshot := reloaded.Snapshot()
	if snapshot.Current != llm.Anthropic {
		t.Fatalf("Current = %q", snapshot.Current)
	}
	openai, ok := snapshot.Provider(llm.OpenAI)
	if !ok || openai.APIKey != "sk-openai-987654321" || openai.Model != "gpt-4o-mini" {
		t.Fatalf("openai = %+v, %v", openai, ok)
	}
	if got := snapshot.Configured(); len(got) != 2 || got[0] != llm.Anthropic {
		t.Fatalf("Configured() = %v", got)
	}
}

func TestStoreUpdateFailureLeavesSnapshot(t *testing.T) {
	store := NewMemoryStore(&Snapshot{Current: llm.Qwen, Providers: map[llm.ID]ProviderConfig{llm.Qwen: {APIKey: "qwen-key-123456"}}})
	before := store.Snapshot()

	err := store.Update(func(s *Snapshot) error {
		s.Current = llm.Cohere
		return errors.New("abort")
	})
	if err == nil {
		t.Fatal("Update() expected error")
	}
	if store.Snapshot() != before || store.Snapshot().Current != llm.Qwen {
		t.Fatal("failed Update() must not publish a new snapshot")
	}
}

func TestStoreUseRequiresKey(t *testing.T) {
	store := NewMemoryStore(nil)
	if err := store.Use(llm.XAI); !errors.Is(err, llm.ErrProviderNotConfigured) {
		t.Fatalf("Use() error = %v", err)
	}
	if err := store.SetModel(llm.XAI, "grok-beta"); err != nil {
		t.Fatalf("SetModel() error = %v", err)
	}
	if err := store.Use(llm.XAI); !errors.Is(err, llm.ErrProviderNotConfigured) {
		t.Fatalf("Use() after SetModel error = %v", err)
	}
}

func TestSnapshotsAreImmutableUnderConcurrentUpdates(t *testing.T) {
	store := NewMemoryStore(nil)
	first := store.Snapshot()

	var wg sync.WaitGroup
	for _, id := range llm.All() {
		wg.Add(1)
		go func(id llm.ID) {
			defer wg.Done()
			_ = store.Configure(id, "key-"+string(id)+"-0123456789", "")
		}(id)
	}
	wg.Wait()

	if len(first.Providers) != 0 {
		t.Fatalf("original snapshot mutated: %+v", first.Providers)
	}
	if got := len(store.Snapshot().Providers); got != len(llm.All()) {
		t.Fatalf("providers = %d, want %d", got, len(llm.All()))
	}
}

func TestKeyringSecretsKeepKeysOutOfFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	ring := keyring.NewArrayKeyring(nil)
	secrets := NewKeyringSecrets(ring)

	store, err := Open(path, secrets)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := store.Configure(llm.Cohere, "co-secret-abcdef", "command-r"); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if strings.Contains(string(body), "co-secret-abcdef") {
		t.Fatalf("settings file contains the api key:\n%s", body)
	}
	if !strings.Contains(string(body), "command-r") {
		t.Fatalf("settings file missing model:\n%s", body)
	}

	reloaded, err := Open(path, secrets)
	if err != nil {
		t.Fatalf("Open() reload error = %v", err)
	}
	cfg, err := reloaded.Snapshot().Active()
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if cfg.APIKey != "co-secret-abcdef" {
		t.Fatalf("APIKey = %q", cfg.APIKey)
	}
}

func TestOpenRejectsUnknownProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("providers:\n  palm:\n    api_key: x\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := Open(path, nil); !errors.Is(err, llm.ErrUnknownProvider) {
		t.Fatalf("Open() error = %v, want ErrUnknownProvider", err)
	}
}
