package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/99designs/keyring"
	"github.com/ruteri/secret-compute-enclave/interfaces"
)

// KeyringBackend implements a sealer on the OS keyring (libsecret, keychain,
// wincred or an encrypted file, whichever keyring.Open selects).
type KeyringBackend struct {
	ring        keyring.Keyring
	serviceName string
	log         *slog.Logger
}

// NewKeyringBackend opens the keyring for serviceName.
func NewKeyringBackend(serviceName string, log *slog.Logger) (*KeyringBackend, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}

	return NewKeyringBackendWithRing(ring, serviceName, log), nil
}

// NewKeyringBackendWithRing wraps an already opened keyring.
func NewKeyringBackendWithRing(ring keyring.Keyring, serviceName string, log *slog.Logger) *KeyringBackend {
	return &KeyringBackend{ring: ring, serviceName: serviceName, log: log}
}

func (b *KeyringBackend) Seal(ctx context.Context, data []byte, path string) error {
	if err := validatePath(path); err != nil {
		return err
	}

	err := b.ring.Set(keyring.Item{
		Key:         path,
		Data:        data,
		Label:       fmt.Sprintf("%s %s", b.serviceName, path),
		Description: "sealed enclave data",
	})
	if err != nil {
		return fmt.Errorf("failed to store item in keyring: %w", err)
	}

	b.log.Debug("Sealed data to keyring",
		slog.String("service", b.serviceName),
		slog.String("key", path))
	return nil
}

func (b *KeyringBackend) Unseal(ctx context.Context, path string) ([]byte, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}

	item, err := b.ring.Get(path)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, interfaces.ErrSealedDataNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get item from keyring: %w", err)
	}
	return item.Data, nil
}

func (b *KeyringBackend) Remove(ctx context.Context, path string) error {
	if err := validatePath(path); err != nil {
		return err
	}

	if err := b.ring.Remove(path); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("failed to remove item from keyring: %w", err)
	}
	return nil
}

// Available lists keys to check the keyring is reachable.
func (b *KeyringBackend) Available(ctx context.Context) bool {
	if _, err := b.ring.Keys(); err != nil {
		b.log.Debug("Keyring backend unavailable", "err", err)
		return false
	}
	return true
}

func (b *KeyringBackend) Name() string {
	return fmt.Sprintf("keyring-%s", b.serviceName)
}

func (b *KeyringBackend) LocationURI() string {
	return fmt.Sprintf("keyring://%s", b.serviceName)
}
