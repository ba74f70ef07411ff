package kms

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/shamir"
)

// SplitSeeds splits genesis || current into Shamir shares for offline backup.
func SplitSeeds(seeds SeedsHolder[Seed], parts, threshold int) ([][]byte, error) {
	if threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if parts < threshold {
		return nil, errors.New("total shares must be at least equal to threshold")
	}

	secret := make([]byte, 0, 2*SeedLength)
	secret = append(secret, seeds.Genesis[:]...)
	secret = append(secret, seeds.Current[:]...)
	defer clear(secret)

	shares, err := shamir.Split(secret, parts, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split seeds: %w", err)
	}
	return shares, nil
}

// CombineSeeds reconstructs seeds from at least threshold shares.
func CombineSeeds(shares [][]byte) (SeedsHolder[Seed], error) {
	secret, err := shamir.Combine(shares)
	if err != nil {
		return SeedsHolder[Seed]{}, fmt.Errorf("failed to combine shares: %w", err)
	}
	defer clear(secret)

	if len(secret) != 2*SeedLength {
		return SeedsHolder[Seed]{}, fmt.Errorf("%w: reconstructed %d bytes", ErrInvalidSeed, len(secret))
	}

	genesis, err := SeedFromBytes(secret[:SeedLength])
	if err != nil {
		return SeedsHolder[Seed]{}, err
	}
	current, err := SeedFromBytes(secret[SeedLength:])
	if err != nil {
		return SeedsHolder[Seed]{}, err
	}
	return SeedsHolder[Seed]{Genesis: genesis, Current: current}, nil
}

// SeedRecovery collects admin-signed seed shares and installs the seeds into
// a KeyHierarchy once the threshold is reached. Shares are wiped from memory
// after reconstruction.
type SeedRecovery struct {
	mu             sync.Mutex
	hierarchy      *KeyHierarchy
	threshold      int
	receivedShares map[string][]byte // admin fingerprint -> share

	adminPubKeys map[string][]byte // fingerprint -> PEM
}

// NewSeedRecovery registers the admin public keys (PEM, ECDSA or Ed25519)
// allowed to submit shares.
func NewSeedRecovery(hierarchy *KeyHierarchy, threshold int, adminPubKeysPEM [][]byte) (*SeedRecovery, error) {
	if threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if len(adminPubKeysPEM) < threshold {
		return nil, errors.New("number of admins must be at least equal to threshold")
	}

	r := &SeedRecovery{
		hierarchy:      hierarchy,
		threshold:      threshold,
		receivedShares: make(map[string][]byte),
		adminPubKeys:   make(map[string][]byte),
	}

	for _, publicKeyPEM := range adminPubKeysPEM {
		if _, err := parseAdminPubkey(publicKeyPEM); err != nil {
			return nil, fmt.Errorf("invalid admin pubkey: %w", err)
		}
		r.adminPubKeys[AdminFingerprint(publicKeyPEM)] = publicKeyPEM
	}

	return r, nil
}

// AdminFingerprint is the hex SHA-256 of an admin's PEM public key.
func AdminFingerprint(publicKeyPEM []byte) string {
	h := sha256.Sum256(publicKeyPEM)
	return hex.EncodeToString(h[:])
}

// SubmitShare verifies the admin signature over SHA256(share) and records
// the share. Returns true once the seeds were reconstructed and installed.
func (r *SeedRecovery) SubmitShare(ctx context.Context, share, signature, adminPubKeyPEM []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hierarchy.IsInitialized() {
		return false, ErrAlreadyInitialized
	}

	fingerprint := AdminFingerprint(adminPubKeyPEM)
	registered, found := r.adminPubKeys[fingerprint]
	if !found {
		return false, errors.New("unregistered admin public key")
	}
	if !bytes.Equal(registered, adminPubKeyPEM) {
		return false, errors.New("invalid pubkey passed for a matching fingerprint")
	}

	pubKey, err := parseAdminPubkey(adminPubKeyPEM)
	if err != nil {
		return false, err
	}

	digest := sha256.Sum256(share)
	switch key := pubKey.(type) {
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(key, digest[:], signature) {
			return false, errors.New("invalid signature")
		}
	case ed25519.PublicKey:
		if !ed25519.Verify(key, digest[:], signature) {
			return false, errors.New("invalid signature")
		}
	}

	r.receivedShares[fingerprint] = append([]byte{}, share...)
	return r.tryReconstruct(ctx)
}

// Received returns how many distinct admins submitted a share.
func (r *SeedRecovery) Received() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.receivedShares)
}

func (r *SeedRecovery) Threshold() int {
	return r.threshold
}

func (r *SeedRecovery) tryReconstruct(ctx context.Context) (bool, error) {
	if len(r.receivedShares) < r.threshold {
		return false, nil
	}

	shares := make([][]byte, 0, len(r.receivedShares))
	for _, share := range r.receivedShares {
		shares = append(shares, share)
	}

	defer func() {
		for i := range r.receivedShares {
			clear(r.receivedShares[i])
		}
		r.receivedShares = make(map[string][]byte)
	}()

	seeds, err := CombineSeeds(shares)
	if err != nil {
		return false, err
	}

	if err := r.hierarchy.SetConsensusSeed(ctx, seeds); err != nil {
		return false, fmt.Errorf("failed to install recovered seeds: %w", err)
	}
	return true, nil
}

// SignShare signs SHA256(share) with an admin ECDSA key.
func SignShare(share []byte, privateKey *ecdsa.PrivateKey) ([]byte, error) {
	digest := sha256.Sum256(share)
	return ecdsa.SignASN1(rand.Reader, privateKey, digest[:])
}

func parseAdminPubkey(publicKeyPEM []byte) (any, error) {
	block, _ := pem.Decode(publicKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode admin public key PEM")
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse admin public key: %w", err)
	}

	switch pubKey.(type) {
	case *ecdsa.PublicKey, ed25519.PublicKey:
		return pubKey, nil
	default:
		return nil, errors.New("admin public key is neither ECDSA nor ED25519 key")
	}
}
