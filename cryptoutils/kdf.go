package cryptoutils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SymmetricKeySize is the size of every symmetric key in the hierarchy.
const SymmetricKeySize = 32

// HashSize is the size of a SHA-256 digest.
const HashSize = sha256.Size

// hkdfSalt is the fixed salt used by every derivation on the network. It must
// not change: existing state and registered keys depend on it.
var hkdfSalt = []byte{
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x02, 0x4b, 0xea, 0xd8, 0xdf, 0x69, 0x99,
	0x08, 0x52, 0xc2, 0x02, 0xdb, 0x0e, 0x00, 0x97,
	0xc1, 0xa1, 0x2e, 0xa6, 0x37, 0xd7, 0xe9, 0x6d,
}

// AESKey is a 32-byte symmetric key.
type AESKey [SymmetricKeySize]byte

// NewAESKeyFromSlice copies up to 32 bytes of b into a key.
func NewAESKeyFromSlice(b []byte) AESKey {
	var k AESKey
	copy(k[:], b)
	return k
}

// Bytes returns the key as a slice.
func (k AESKey) Bytes() []byte {
	return k[:]
}

// DeriveKey derives a child key from k and data.
func (k AESKey) DeriveKey(data []byte) AESKey {
	return DeriveKey(k[:], data)
}

// DeriveKeyOrder derives a child key for a numeric purpose label, encoded as
// a big-endian uint32.
func (k AESKey) DeriveKeyOrder(order uint32) AESKey {
	var label [4]byte
	binary.BigEndian.PutUint32(label[:], order)
	return DeriveKey(k[:], label[:])
}

// SignSHA256 computes HMAC-SHA256 over data keyed with k.
func (k AESKey) SignSHA256(data []byte) [HashSize]byte {
	mac := hmac.New(sha256.New, k[:])
	mac.Write(data)

	var out [HashSize]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// DeriveKey is HKDF-SHA256 with ikm = key || data, the network salt, empty
// info and a 32-byte output.
func DeriveKey(key []byte, data []byte) AESKey {
	ikm := make([]byte, 0, len(key)+len(data))
	ikm = append(ikm, key...)
	ikm = append(ikm, data...)

	reader := hkdf.New(sha256.New, ikm, hkdfSalt, []byte{})

	var out AESKey
	if _, err := io.ReadFull(reader, out[:]); err != nil {
		// HKDF-SHA256 can produce up to 255*32 bytes, 32 never fails.
		panic("hkdf: " + err.Error())
	}
	return out
}

// SHA256 hashes the concatenation of parts.
func SHA256(parts ...[]byte) [HashSize]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}

	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}
