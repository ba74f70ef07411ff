package kms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/secret-compute-enclave/cryptoutils"
	"github.com/ruteri/secret-compute-enclave/interfaces"
)

const (
	GenesisSeedPath = "consensus_seed.sealed"
	CurrentSeedPath = "consensus_seed_current.sealed"
)

var (
	ErrUninitialized      = errors.New("consensus seed is not initialized")
	ErrAlreadyInitialized = errors.New("consensus seed is already initialized")
)

// derivedKeys is computed once per seed installation and never mutated.
type derivedKeys struct {
	seedExchangeKeypair SeedsHolder[cryptoutils.KeyPair]
	ioExchangeKeypair   SeedsHolder[cryptoutils.KeyPair]
	stateIKM            SeedsHolder[cryptoutils.AESKey]
	callbackSecret      SeedsHolder[cryptoutils.AESKey]

	randomnessEncryptionKey cryptoutils.AESKey
	initialRandomnessSeed   cryptoutils.AESKey
	adminProofSecret        cryptoutils.AESKey
	contractKeyProofSecret  cryptoutils.AESKey
}

func deriveKeys(seeds SeedsHolder[Seed]) *derivedKeys {
	return &derivedKeys{
		seedExchangeKeypair: mapSeeds(seeds, func(s Seed) cryptoutils.KeyPair { return s.deriveKeyPair(orderSeedExchangeKeypair) }),
		ioExchangeKeypair:   mapSeeds(seeds, func(s Seed) cryptoutils.KeyPair { return s.deriveKeyPair(orderIOExchangeKeypair) }),
		stateIKM:            mapSeeds(seeds, func(s Seed) cryptoutils.AESKey { return s.derive(orderStateIKM) }),
		callbackSecret:      mapSeeds(seeds, func(s Seed) cryptoutils.AESKey { return s.derive(orderCallbackSecret) }),

		randomnessEncryptionKey: seeds.Current.derive(orderRandomnessEncryptionKey),
		initialRandomnessSeed:   seeds.Current.derive(orderInitialRandomnessSeed),
		adminProofSecret:        seeds.Current.derive(orderAdminProofSecret),
		contractKeyProofSecret:  seeds.Current.derive(orderContractKeyProofSecret),
	}
}

// KeyHierarchy holds the consensus seeds and everything derived from them.
// It is written once when the seeds are installed and read concurrently by
// every call afterwards.
//
// A nil sealer keeps the seeds in memory only.
type KeyHierarchy struct {
	mu     sync.RWMutex
	sealer interfaces.Sealer
	log    *slog.Logger

	seeds *SeedsHolder[Seed]
	keys  *derivedKeys
}

func NewKeyHierarchy(sealer interfaces.Sealer, log *slog.Logger) *KeyHierarchy {
	if log == nil {
		log = slog.Default()
	}
	return &KeyHierarchy{sealer: sealer, log: log}
}

// NewKeyHierarchyFromSeeds returns an in-memory hierarchy already holding seeds.
func NewKeyHierarchyFromSeeds(seeds SeedsHolder[Seed]) (*KeyHierarchy, error) {
	kh := NewKeyHierarchy(nil, nil)
	if err := kh.install(seeds); err != nil {
		return nil, err
	}
	return kh, nil
}

// CreateConsensusSeed generates random genesis and current seeds, seals and
// installs them. Used once at network birth.
func (k *KeyHierarchy) CreateConsensusSeed(ctx context.Context) (SeedsHolder[Seed], error) {
	genesis, err := NewRandomSeed()
	if err != nil {
		return SeedsHolder[Seed]{}, err
	}
	current, err := NewRandomSeed()
	if err != nil {
		return SeedsHolder[Seed]{}, err
	}

	seeds := SeedsHolder[Seed]{Genesis: genesis, Current: current}
	if err := k.SetConsensusSeed(ctx, seeds); err != nil {
		return SeedsHolder[Seed]{}, err
	}

	k.log.Info("Generated new consensus seeds")
	return seeds, nil
}

// SetConsensusSeed seals and installs provisioned seeds.
func (k *KeyHierarchy) SetConsensusSeed(ctx context.Context, seeds SeedsHolder[Seed]) error {
	if seeds.Genesis.IsZero() || seeds.Current.IsZero() {
		return fmt.Errorf("%w: all-zero seed", ErrInvalidSeed)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.seeds != nil {
		return ErrAlreadyInitialized
	}

	if err := k.sealSeeds(ctx, seeds); err != nil {
		return err
	}

	k.seeds = &seeds
	k.keys = deriveKeys(seeds)
	return nil
}

// LoadSealedSeeds unseals both seed generations and installs them.
// Returns interfaces.ErrSealedDataNotFound when nothing was sealed yet.
func (k *KeyHierarchy) LoadSealedSeeds(ctx context.Context) error {
	if k.sealer == nil {
		return fmt.Errorf("%w: no sealer configured", interfaces.ErrBackendUnavailable)
	}

	genesis, err := k.unsealSeed(ctx, GenesisSeedPath)
	if err != nil {
		return err
	}
	current, err := k.unsealSeed(ctx, CurrentSeedPath)
	if err != nil {
		return err
	}

	if err := k.install(SeedsHolder[Seed]{Genesis: genesis, Current: current}); err != nil {
		return err
	}

	k.log.Info("Loaded sealed consensus seeds", "sealer", k.sealer.Name())
	return nil
}

// RotateCurrentSeed replaces the current seed. The genesis seed is kept.
func (k *KeyHierarchy) RotateCurrentSeed(ctx context.Context, current Seed) error {
	if current.IsZero() {
		return fmt.Errorf("%w: all-zero seed", ErrInvalidSeed)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.seeds == nil {
		return ErrUninitialized
	}

	seeds := SeedsHolder[Seed]{Genesis: k.seeds.Genesis, Current: current}
	if err := k.sealSeeds(ctx, seeds); err != nil {
		return err
	}

	k.seeds = &seeds
	k.keys = deriveKeys(seeds)
	k.log.Info("Rotated current consensus seed")
	return nil
}

// DeleteConsensusSeed drops the seeds from memory and removes the sealed copies.
func (k *KeyHierarchy) DeleteConsensusSeed(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.seeds != nil {
		clear(k.seeds.Genesis[:])
		clear(k.seeds.Current[:])
	}
	k.seeds = nil
	k.keys = nil

	if k.sealer == nil {
		return nil
	}

	return errors.Join(
		k.sealer.Remove(ctx, GenesisSeedPath),
		k.sealer.Remove(ctx, CurrentSeedPath),
	)
}

func (k *KeyHierarchy) IsInitialized() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.keys != nil
}

// Seeds returns a copy of the installed seeds, for backup.
func (k *KeyHierarchy) Seeds() (SeedsHolder[Seed], error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.seeds == nil {
		return SeedsHolder[Seed]{}, ErrUninitialized
	}
	return *k.seeds, nil
}

func (k *KeyHierarchy) ConsensusStateIKM() (SeedsHolder[cryptoutils.AESKey], error) {
	keys, err := k.derived()
	if err != nil {
		return SeedsHolder[cryptoutils.AESKey]{}, err
	}
	return keys.stateIKM, nil
}

func (k *KeyHierarchy) ConsensusIOExchangeKeypair() (SeedsHolder[cryptoutils.KeyPair], error) {
	keys, err := k.derived()
	if err != nil {
		return SeedsHolder[cryptoutils.KeyPair]{}, err
	}
	return keys.ioExchangeKeypair, nil
}

func (k *KeyHierarchy) ConsensusSeedExchangeKeypair() (SeedsHolder[cryptoutils.KeyPair], error) {
	keys, err := k.derived()
	if err != nil {
		return SeedsHolder[cryptoutils.KeyPair]{}, err
	}
	return keys.seedExchangeKeypair, nil
}

func (k *KeyHierarchy) ConsensusCallbackSecret() (SeedsHolder[cryptoutils.AESKey], error) {
	keys, err := k.derived()
	if err != nil {
		return SeedsHolder[cryptoutils.AESKey]{}, err
	}
	return keys.callbackSecret, nil
}

func (k *KeyHierarchy) RandomnessEncryptionKey() (cryptoutils.AESKey, error) {
	keys, err := k.derived()
	if err != nil {
		return cryptoutils.AESKey{}, err
	}
	return keys.randomnessEncryptionKey, nil
}

func (k *KeyHierarchy) InitialRandomnessSeed() (cryptoutils.AESKey, error) {
	keys, err := k.derived()
	if err != nil {
		return cryptoutils.AESKey{}, err
	}
	return keys.initialRandomnessSeed, nil
}

func (k *KeyHierarchy) AdminProofSecret() (cryptoutils.AESKey, error) {
	keys, err := k.derived()
	if err != nil {
		return cryptoutils.AESKey{}, err
	}
	return keys.adminProofSecret, nil
}

func (k *KeyHierarchy) ContractKeyProofSecret() (cryptoutils.AESKey, error) {
	keys, err := k.derived()
	if err != nil {
		return cryptoutils.AESKey{}, err
	}
	return keys.contractKeyProofSecret, nil
}

// Registration holds the public material a node publishes.
type Registration struct {
	IOExchangePubkey   SeedsHolder[[cryptoutils.PublicKeySize]byte]
	SeedExchangePubkey SeedsHolder[[cryptoutils.PublicKeySize]byte]
}

func (k *KeyHierarchy) NodeRegistration() (Registration, error) {
	keys, err := k.derived()
	if err != nil {
		return Registration{}, err
	}
	return Registration{
		IOExchangePubkey: SeedsHolder[[cryptoutils.PublicKeySize]byte]{
			Genesis: keys.ioExchangeKeypair.Genesis.PublicKey(),
			Current: keys.ioExchangeKeypair.Current.PublicKey(),
		},
		SeedExchangePubkey: SeedsHolder[[cryptoutils.PublicKeySize]byte]{
			Genesis: keys.seedExchangeKeypair.Genesis.PublicKey(),
			Current: keys.seedExchangeKeypair.Current.PublicKey(),
		},
	}, nil
}

func (k *KeyHierarchy) derived() (*derivedKeys, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.keys == nil {
		return nil, ErrUninitialized
	}
	return k.keys, nil
}

func (k *KeyHierarchy) install(seeds SeedsHolder[Seed]) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.seeds != nil {
		return ErrAlreadyInitialized
	}
	k.seeds = &seeds
	k.keys = deriveKeys(seeds)
	return nil
}

// sealSeeds must be called with k.mu held.
func (k *KeyHierarchy) sealSeeds(ctx context.Context, seeds SeedsHolder[Seed]) error {
	if k.sealer == nil {
		return nil
	}
	if err := k.sealer.Seal(ctx, seeds.Genesis.Bytes(), GenesisSeedPath); err != nil {
		return fmt.Errorf("failed to seal genesis seed: %w", err)
	}
	if err := k.sealer.Seal(ctx, seeds.Current.Bytes(), CurrentSeedPath); err != nil {
		return fmt.Errorf("failed to seal current seed: %w", err)
	}
	return nil
}

func (k *KeyHierarchy) unsealSeed(ctx context.Context, path string) (Seed, error) {
	data, err := k.sealer.Unseal(ctx, path)
	if err != nil {
		return Seed{}, fmt.Errorf("failed to unseal %s: %w", path, err)
	}
	seed, err := SeedFromBytes(data)
	clear(data)
	if err != nil {
		return Seed{}, fmt.Errorf("failed to unseal %s: %w", path, err)
	}
	return seed, nil
}
