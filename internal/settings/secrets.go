package settings

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/schemaforge/schemaforge/internal/llm"
)

const keyringService = "schema-forge"

// SecretStore keeps API keys outside the settings file.
type SecretStore interface {
	Get(id llm.ID) (string, error)
	Set(id llm.ID, apiKey string) error
}

type KeyringSecrets struct {
	ring keyring.Keyring
}

// OpenKeyring opens the OS credential store.
func OpenKeyring() (*KeyringSecrets, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              keyringService,
		KeychainTrustApplication: true,
		PassPrefix:               keyringService,
		WinCredPrefix:            keyringService,
	})
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return NewKeyringSecrets(ring), nil
}

func NewKeyringSecrets(ring keyring.Keyring) *KeyringSecrets {
	return &KeyringSecrets{ring: ring}
}

func itemKey(id llm.ID) string {
	return "api_key/" + string(id)
}

func (k *KeyringSecrets) Get(id llm.ID) (string, error) {
	item, err := k.ring.Get(itemKey(id))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(item.Data), nil
}

func (k *KeyringSecrets) Set(id llm.ID, apiKey string) error {
	if apiKey == "" {
		err := k.ring.Remove(itemKey(id))
		if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
			return err
		}
		return nil
	}
	return k.ring.Set(keyring.Item{
		Key:   itemKey(id),
		Data:  []byte(apiKey),
		Label: "schema-forge " + string(id) + " api key",
	})
}
