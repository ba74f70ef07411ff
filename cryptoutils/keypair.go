package cryptoutils

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// PublicKeySize is the size of an X25519 public key.
const PublicKeySize = curve25519.PointSize

var ErrInvalidPublicKey = errors.New("invalid x25519 public key")

// KeyPair is an X25519 keypair.
type KeyPair struct {
	secret [curve25519.ScalarSize]byte
	public [PublicKeySize]byte
}

// NewKeyPairFromSecret uses the derived key as the X25519 private scalar.
func NewKeyPairFromSecret(secret AESKey) KeyPair {
	kp := KeyPair{secret: secret}
	pub, err := curve25519.X25519(kp.secret[:], curve25519.Basepoint)
	if err != nil {
		// The basepoint is never a low-order point.
		panic("x25519 basepoint: " + err.Error())
	}
	copy(kp.public[:], pub)
	return kp
}

// GenerateKeyPair creates a random keypair, used by clients.
func GenerateKeyPair() (KeyPair, error) {
	var secret AESKey
	if _, err := rand.Read(secret[:]); err != nil {
		return KeyPair{}, fmt.Errorf("failed to generate keypair: %w", err)
	}
	return NewKeyPairFromSecret(secret), nil
}

// PublicKey returns the public half.
func (kp KeyPair) PublicKey() [PublicKeySize]byte {
	return kp.public
}

// SecretKey returns the raw private scalar. Handle with care.
func (kp KeyPair) SecretKey() AESKey {
	return AESKey(kp.secret)
}

// DiffieHellman computes the X25519 shared secret with a peer public key.
// Low-order peer points are rejected.
func (kp KeyPair) DiffieHellman(peer [PublicKeySize]byte) (AESKey, error) {
	shared, err := curve25519.X25519(kp.secret[:], peer[:])
	if err != nil {
		return AESKey{}, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return NewAESKeyFromSlice(shared), nil
}
