package cryptoutils

import (
	"errors"
	"fmt"

	"github.com/miscreant/miscreant.go"
)

// SIVOverhead is the size of the synthetic IV prepended to every ciphertext.
const SIVOverhead = 16

var (
	ErrEncryption = errors.New("encryption failed")
	ErrDecryption = errors.New("decryption failed")
)

// emptyAD is the single empty associated-data element every network encoder
// passes to S2V. Omitting it yields a different tag.
var emptyAD = []byte{}

// Encrypt seals plaintext with AES-SIV under k.
func (k AESKey) Encrypt(plaintext []byte) ([]byte, error) {
	return k.EncryptWithAD(plaintext, emptyAD)
}

// Decrypt opens an AES-SIV ciphertext produced by Encrypt.
func (k AESKey) Decrypt(ciphertext []byte) ([]byte, error) {
	return k.DecryptWithAD(ciphertext, emptyAD)
}

// EncryptWithAD seals plaintext with AES-SIV binding the given associated data.
func (k AESKey) EncryptWithAD(plaintext []byte, ad ...[]byte) ([]byte, error) {
	c, err := miscreant.NewAESCMACSIV(k[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	out, err := c.Seal(nil, plaintext, ad...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	return out, nil
}

// DecryptWithAD opens a ciphertext sealed with EncryptWithAD. Tampering, a
// wrong key and wrong associated data all yield ErrDecryption.
func (k AESKey) DecryptWithAD(ciphertext []byte, ad ...[]byte) ([]byte, error) {
	if len(ciphertext) < SIVOverhead {
		return nil, ErrDecryption
	}

	c, err := miscreant.NewAESCMACSIV(k[:])
	if err != nil {
		return nil, ErrDecryption
	}

	out, err := c.Open(nil, ciphertext, ad...)
	if err != nil {
		return nil, ErrDecryption
	}
	return out, nil
}
