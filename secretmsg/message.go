package secretmsg

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/ruteri/secret-compute-enclave/cryptoutils"
)

const (
	NonceSize     = 32
	PublicKeySize = cryptoutils.PublicKeySize
	HeaderSize    = NonceSize + PublicKeySize
)

var (
	ErrTooShort    = errors.New("secret message shorter than header")
	ErrInvalidB64  = errors.New("secret message payload is not valid base64")
	ErrDecryption  = cryptoutils.ErrDecryption
	ErrEncryption  = cryptoutils.ErrEncryption
	ErrKeyNotReady = errors.New("io exchange key unavailable")
)

type (
	Nonce     [NonceSize]byte
	PublicKey [PublicKeySize]byte
)

// SecretMessage is the wire envelope nonce || user_public_key || msg. Msg is
// ciphertext on the wire and may hold plaintext while being processed.
type SecretMessage struct {
	Nonce         Nonce
	UserPublicKey PublicKey
	Msg           []byte
}

// FromSlice splits a wire message. The payload may be empty.
func FromSlice(b []byte) (SecretMessage, error) {
	if len(b) < HeaderSize {
		return SecretMessage{}, fmt.Errorf("%w: %d bytes", ErrTooShort, len(b))
	}

	var m SecretMessage
	copy(m.Nonce[:], b[:NonceSize])
	copy(m.UserPublicKey[:], b[NonceSize:HeaderSize])
	m.Msg = append([]byte{}, b[HeaderSize:]...)
	return m, nil
}

// FromBase64 wraps a base64 payload with an existing nonce and key.
func FromBase64(msgB64 string, nonce Nonce, userPublicKey PublicKey) (SecretMessage, error) {
	msg, err := base64.StdEncoding.DecodeString(msgB64)
	if err != nil {
		return SecretMessage{}, fmt.Errorf("%w: %v", ErrInvalidB64, err)
	}
	return SecretMessage{Nonce: nonce, UserPublicKey: userPublicKey, Msg: msg}, nil
}

// Bytes returns the flat wire encoding.
func (m SecretMessage) Bytes() []byte {
	out := make([]byte, 0, HeaderSize+len(m.Msg))
	out = append(out, m.Nonce[:]...)
	out = append(out, m.UserPublicKey[:]...)
	out = append(out, m.Msg...)
	return out
}

// IsPlaintextSentinel reports the all-zero header used for unencrypted input.
func (m SecretMessage) IsPlaintextSentinel() bool {
	return m.Nonce == Nonce{} && m.UserPublicKey == PublicKey{}
}

// WithMsg returns a copy carrying another payload under the same header.
func (m SecretMessage) WithMsg(msg []byte) SecretMessage {
	return SecretMessage{Nonce: m.Nonce, UserPublicKey: m.UserPublicKey, Msg: msg}
}

// Plaintext wraps raw bytes with the zero sentinel header.
func Plaintext(msg []byte) SecretMessage {
	return SecretMessage{Msg: msg}
}
