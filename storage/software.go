package storage

import (
	"context"
	"fmt"

	"github.com/ruteri/secret-compute-enclave/cryptoutils"
	"github.com/ruteri/secret-compute-enclave/interfaces"
)

// SoftwareSealer encrypts blobs with a host-provided sealing key before
// handing them to the wrapped backend. The sealed path is bound as
// associated data, so blobs cannot be swapped between paths.
//
// It stands in for hardware sealing outside of a TEE; the key must come from
// a source the host operator does not control in production.
type SoftwareSealer struct {
	inner interfaces.Sealer
	key   cryptoutils.AESKey
}

func NewSoftwareSealer(inner interfaces.Sealer, sealingKey cryptoutils.AESKey) *SoftwareSealer {
	return &SoftwareSealer{inner: inner, key: sealingKey}
}

func (s *SoftwareSealer) Seal(ctx context.Context, data []byte, path string) error {
	ct, err := s.key.EncryptWithAD(data, []byte(path))
	if err != nil {
		return fmt.Errorf("failed to seal %s: %w", path, err)
	}
	return s.inner.Seal(ctx, ct, path)
}

func (s *SoftwareSealer) Unseal(ctx context.Context, path string) ([]byte, error) {
	ct, err := s.inner.Unseal(ctx, path)
	if err != nil {
		return nil, err
	}

	pt, err := s.key.DecryptWithAD(ct, []byte(path))
	if err != nil {
		return nil, fmt.Errorf("failed to unseal %s: %w", path, err)
	}
	return pt, nil
}

func (s *SoftwareSealer) Remove(ctx context.Context, path string) error {
	return s.inner.Remove(ctx, path)
}

func (s *SoftwareSealer) Available(ctx context.Context) bool {
	return s.inner.Available(ctx)
}

func (s *SoftwareSealer) Name() string {
	return "sealed-" + s.inner.Name()
}

func (s *SoftwareSealer) LocationURI() string {
	return s.inner.LocationURI()
}
