package cryptoutils

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// p256PublicKeySize is an uncompressed P-256 point.
const p256PublicKeySize = 65

var adminShareLabel = []byte("admin seed share")

// EncryptForAdmin seals data to an admin's ECDSA P-256 public key:
//
//	ephemeral_pub(65) || aes_siv(hkdf(ecdh), data)
//
// A fresh ephemeral key is used for every call.
func EncryptForAdmin(publicKeyPEM []byte, data []byte) ([]byte, error) {
	pub, err := adminECDHPublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}

	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	shared, err := ephemeral.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to derive shared secret: %w", err)
	}
	defer clear(shared)

	ct, err := DeriveKey(shared, adminShareLabel).Encrypt(data)
	if err != nil {
		return nil, err
	}
	return append(ephemeral.PublicKey().Bytes(), ct...), nil
}

// DecryptAsAdmin opens the output of EncryptForAdmin with the admin's EC
// private key.
func DecryptAsAdmin(privateKeyPEM []byte, encrypted []byte) ([]byte, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode private key PEM")
	}
	privateKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	priv, err := privateKey.ECDH()
	if err != nil {
		return nil, fmt.Errorf("unsupported admin key: %w", err)
	}

	if len(encrypted) < p256PublicKeySize {
		return nil, fmt.Errorf("%w: encrypted share too short", ErrDecryption)
	}
	ephemeral, err := ecdh.P256().NewPublicKey(encrypted[:p256PublicKeySize])
	if err != nil {
		return nil, fmt.Errorf("%w: ephemeral key: %v", ErrDecryption, err)
	}
	shared, err := priv.ECDH(ephemeral)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	defer clear(shared)

	return DeriveKey(shared, adminShareLabel).Decrypt(encrypted[p256PublicKeySize:])
}

func adminECDHPublicKey(publicKeyPEM []byte) (*ecdh.PublicKey, error) {
	block, _ := pem.Decode(publicKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode public key PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("not an ECDSA public key")
	}
	return key.ECDH()
}
