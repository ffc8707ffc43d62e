package agent

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const (
	keyringService = "device-metrics-agent"
	quoteAPIKeyID  = "quote-api-key"
)

// KeyStore keeps the quote provider API key in the OS keychain
type KeyStore struct {
	ring keyring.Keyring
}

// OpenKeyStore opens the OS keychain, falling back to an encrypted file in fileDir
func OpenKeyStore(fileDir string, password keyring.PromptFunc) (*KeyStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,      // macOS Keychain
			keyring.SecretServiceBackend, // Linux Secret Service (gnome-keyring, kwallet)
			keyring.WinCredBackend,       // Windows Credential Manager
			keyring.FileBackend,          // Encrypted file fallback
		},
		FileDir:          fileDir,
		FilePasswordFunc: password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return &KeyStore{ring: ring}, nil
}

// NewKeyStore wraps an already opened keyring
func NewKeyStore(ring keyring.Keyring) *KeyStore {
	return &KeyStore{ring: ring}
}

// QuoteAPIKey returns the stored key, or "" when none is stored
func (k *KeyStore) QuoteAPIKey() (string, error) {
	item, err := k.ring.Get(quoteAPIKeyID)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read quote API key: %w", err)
	}
	return string(item.Data), nil
}

// SetQuoteAPIKey stores the key
func (k *KeyStore) SetQuoteAPIKey(key string) error {
	if err := k.ring.Set(keyring.Item{
		Key:   quoteAPIKeyID,
		Data:  []byte(key),
		Label: "Device metrics agent quote API key",
	}); err != nil {
		return fmt.Errorf("failed to store quote API key: %w", err)
	}
	return nil
}
