package kms

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateAdmin(t *testing.T) (*ecdsa.PrivateKey, []byte) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err, "Failed to generate admin key")

	pubKeyBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err, "Failed to marshal public key")

	return key, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubKeyBytes})
}

func TestSplitCombineSeeds(t *testing.T) {
	seeds := testSeeds()

	shares, err := SplitSeeds(seeds, 5, 3)
	require.NoError(t, err, "Should split with valid parameters")
	assert.Len(t, shares, 5, "Should generate 5 shares")

	recovered, err := CombineSeeds(shares[1:4])
	require.NoError(t, err)
	assert.Equal(t, seeds, recovered)

	// Invalid parameters
	_, err = SplitSeeds(seeds, 3, 5)
	assert.Error(t, err, "Should fail when threshold > total shares")
	_, err = SplitSeeds(seeds, 5, 1)
	assert.Error(t, err, "Should fail when threshold < 2")

	// A single share cannot be combined
	_, err = CombineSeeds(shares[:1])
	assert.Error(t, err)
}

func TestSeedRecovery(t *testing.T) {
	ctx := context.Background()
	seeds := testSeeds()
	shares, err := SplitSeeds(seeds, 5, 3)
	require.NoError(t, err)

	adminKeys := make([]*ecdsa.PrivateKey, 5)
	adminPubKeyPEMs := make([][]byte, 5)
	for i := range adminKeys {
		adminKeys[i], adminPubKeyPEMs[i] = generateAdmin(t)
	}

	t.Run("threshold shares install seeds", func(t *testing.T) {
		kh := NewKeyHierarchy(newMemorySealer(), nil)
		recovery, err := NewSeedRecovery(kh, 3, adminPubKeyPEMs)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			signature, err := SignShare(shares[i], adminKeys[i])
			require.NoError(t, err, "Failed to sign share")

			done, err := recovery.SubmitShare(ctx, shares[i], signature, adminPubKeyPEMs[i])
			require.NoError(t, err, "Share submission should succeed")
			assert.Equal(t, i == 2, done)
		}

		assert.True(t, kh.IsInitialized(), "Hierarchy should be initialized after threshold shares")
		got, err := kh.Seeds()
		require.NoError(t, err)
		assert.Equal(t, seeds, got)
		assert.Equal(t, 0, recovery.Received(), "Shares should be wiped after reconstruction")

		_, err = recovery.SubmitShare(ctx, shares[3], nil, adminPubKeyPEMs[3])
		assert.ErrorIs(t, err, ErrAlreadyInitialized)
	})

	t.Run("resubmission by the same admin counts once", func(t *testing.T) {
		kh := NewKeyHierarchy(nil, nil)
		recovery, err := NewSeedRecovery(kh, 3, adminPubKeyPEMs)
		require.NoError(t, err)

		signature, err := SignShare(shares[0], adminKeys[0])
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			done, err := recovery.SubmitShare(ctx, shares[0], signature, adminPubKeyPEMs[0])
			require.NoError(t, err)
			assert.False(t, done)
		}
		assert.Equal(t, 1, recovery.Received())
		assert.False(t, kh.IsInitialized())
	})

	t.Run("rejects bad submissions", func(t *testing.T) {
		kh := NewKeyHierarchy(nil, nil)
		recovery, err := NewSeedRecovery(kh, 3, adminPubKeyPEMs)
		require.NoError(t, err)

		_, err = recovery.SubmitShare(ctx, shares[0], []byte("invalid-signature"), adminPubKeyPEMs[0])
		assert.Error(t, err, "Should fail with invalid signature")

		// Signature from another admin
		signature, err := SignShare(shares[0], adminKeys[1])
		require.NoError(t, err)
		_, err = recovery.SubmitShare(ctx, shares[0], signature, adminPubKeyPEMs[0])
		assert.Error(t, err)

		unregisteredKey, unregisteredPEM := generateAdmin(t)
		signature, err = SignShare(shares[0], unregisteredKey)
		require.NoError(t, err)
		_, err = recovery.SubmitShare(ctx, shares[0], signature, unregisteredPEM)
		assert.Error(t, err, "Should fail with unregistered admin")

		assert.Equal(t, 0, recovery.Received())
	})

	t.Run("invalid configuration", func(t *testing.T) {
		_, err := NewSeedRecovery(NewKeyHierarchy(nil, nil), 1, adminPubKeyPEMs)
		assert.Error(t, err)
		_, err = NewSeedRecovery(NewKeyHierarchy(nil, nil), 3, adminPubKeyPEMs[:2])
		assert.Error(t, err)
		_, err = NewSeedRecovery(NewKeyHierarchy(nil, nil), 2, [][]byte{[]byte("nope"), []byte("nope")})
		assert.Error(t, err)
	})
}

func TestSignShare(t *testing.T) {
	privateKey, _ := generateAdmin(t)
	share := []byte("test-share-data")

	signature, err := SignShare(share, privateKey)
	require.NoError(t, err, "Should sign share successfully")

	hash := sha256.Sum256(share)
	assert.True(t, ecdsa.VerifyASN1(&privateKey.PublicKey, hash[:], signature), "Signature should be valid")
}
