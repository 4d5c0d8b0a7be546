package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const keyringService = "labportal-cli"

// KeyringRepository stores the session in the OS keychain/credential manager.
type KeyringRepository struct {
	key string
}

var _ Repository = (*KeyringRepository)(nil)

// NewKeyringRepository returns a keychain-backed repository. The namespace
// is usually the API host so each server keeps its own session.
func NewKeyringRepository(namespace string) *KeyringRepository {
	return &KeyringRepository{key: recordKey(namespace)}
}

func (k *KeyringRepository) Load(ctx context.Context) (Persisted, error) {
	secret, err := keyring.Get(keyringService, k.key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return Persisted{}, ErrNotFound
		}
		return Persisted{}, fmt.Errorf("failed to load session from keyring: %w", err)
	}

	var p Persisted
	if err := json.Unmarshal([]byte(secret), &p); err != nil {
		return Persisted{}, fmt.Errorf("failed to decode keyring session: %w", err)
	}
	return p, nil
}

func (k *KeyringRepository) Save(ctx context.Context, p Persisted) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode keyring session: %w", err)
	}
	if err := keyring.Set(keyringService, k.key, string(data)); err != nil {
		return fmt.Errorf("failed to save session to keyring: %w", err)
	}
	return nil
}

func (k *KeyringRepository) Clear(ctx context.Context) error {
	if err := keyring.Delete(keyringService, k.key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete keyring session: %w", err)
	}
	return nil
}
