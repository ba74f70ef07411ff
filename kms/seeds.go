package kms

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ruteri/secret-compute-enclave/cryptoutils"
)

// SeedLength is the size of a consensus seed.
const SeedLength = 32

// Derivation labels, encoded as big-endian uint32 before hashing.
const (
	orderSeedExchangeKeypair     uint32 = 1
	orderIOExchangeKeypair       uint32 = 2
	orderStateIKM                uint32 = 3
	orderCallbackSecret          uint32 = 4
	orderRandomnessEncryptionKey uint32 = 5
	orderInitialRandomnessSeed   uint32 = 6
	orderAdminProofSecret        uint32 = 7
	orderContractKeyProofSecret  uint32 = 8
)

var ErrInvalidSeed = errors.New("invalid consensus seed")

// Seed is the root secret of the key hierarchy.
type Seed [SeedLength]byte

// NewRandomSeed draws a seed from crypto/rand.
func NewRandomSeed() (Seed, error) {
	var s Seed
	if _, err := rand.Read(s[:]); err != nil {
		return Seed{}, fmt.Errorf("failed to generate seed: %w", err)
	}
	return s, nil
}

// SeedFromBytes copies exactly 32 bytes into a seed.
func SeedFromBytes(b []byte) (Seed, error) {
	if len(b) != SeedLength {
		return Seed{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSeed, SeedLength, len(b))
	}
	var s Seed
	copy(s[:], b)
	if s.IsZero() {
		return Seed{}, fmt.Errorf("%w: all-zero seed", ErrInvalidSeed)
	}
	return s, nil
}

// SeedFromHex parses a 64-character hex seed.
func SeedFromHex(h string) (Seed, error) {
	b, err := hex.DecodeString(h)
	if err != nil {
		return Seed{}, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	return SeedFromBytes(b)
}

func (s Seed) IsZero() bool {
	var zero Seed
	return subtle.ConstantTimeCompare(s[:], zero[:]) == 1
}

func (s Seed) Bytes() []byte {
	return s[:]
}

func (s Seed) Hex() string {
	return hex.EncodeToString(s[:])
}

func (s Seed) derive(order uint32) cryptoutils.AESKey {
	return cryptoutils.AESKey(s).DeriveKeyOrder(order)
}

func (s Seed) deriveKeyPair(order uint32) cryptoutils.KeyPair {
	return cryptoutils.NewKeyPairFromSecret(s.derive(order))
}

// SeedsHolder carries a value for both seed generations.
type SeedsHolder[T any] struct {
	Genesis T
	Current T
}

func mapSeeds[T any](seeds SeedsHolder[Seed], fn func(Seed) T) SeedsHolder[T] {
	return SeedsHolder[T]{
		Genesis: fn(seeds.Genesis),
		Current: fn(seeds.Current),
	}
}
