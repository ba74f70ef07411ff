package secretmsg

import (
	"errors"
	"fmt"

	"github.com/ruteri/secret-compute-enclave/cryptoutils"
	"github.com/ruteri/secret-compute-enclave/kms"
)

// IOKeySource provides the node IO exchange keypair.
type IOKeySource interface {
	ConsensusIOExchangeKeypair() (kms.SeedsHolder[cryptoutils.KeyPair], error)
}

// Codec encrypts and decrypts messages exchanged with users. Message keys
// are always derived from the current IO exchange keypair:
//
//	key = DeriveKey(X25519(io_current_priv, user_pub), nonce)
type Codec struct {
	keys IOKeySource
}

func NewCodec(keys IOKeySource) *Codec {
	return &Codec{keys: keys}
}

// EncryptionKey derives the symmetric key for a nonce and user public key.
func (c *Codec) EncryptionKey(nonce Nonce, userPublicKey PublicKey) (cryptoutils.AESKey, error) {
	io, err := c.keys.ConsensusIOExchangeKeypair()
	if err != nil {
		return cryptoutils.AESKey{}, fmt.Errorf("%w: %w", ErrKeyNotReady, err)
	}

	shared, err := io.Current.DiffieHellman(userPublicKey)
	if err != nil {
		return cryptoutils.AESKey{}, err
	}
	return shared.DeriveKey(nonce[:]), nil
}

// Encode seals plaintext and returns the wire message.
func (c *Codec) Encode(nonce Nonce, userPublicKey PublicKey, plaintext []byte) (SecretMessage, error) {
	ct, err := c.EncryptBytes(nonce, userPublicKey, plaintext)
	if err != nil {
		return SecretMessage{}, err
	}
	return SecretMessage{Nonce: nonce, UserPublicKey: userPublicKey, Msg: ct}, nil
}

// EncryptBytes seals plaintext under the message key of nonce/userPublicKey.
func (c *Codec) EncryptBytes(nonce Nonce, userPublicKey PublicKey, plaintext []byte) ([]byte, error) {
	key, err := c.EncryptionKey(nonce, userPublicKey)
	if err != nil {
		if errors.Is(err, ErrKeyNotReady) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	return key.Encrypt(plaintext)
}

// DecryptBytes opens ciphertext under the message key of nonce/userPublicKey.
// An invalid user key is reported as ErrDecryption.
func (c *Codec) DecryptBytes(nonce Nonce, userPublicKey PublicKey, ciphertext []byte) ([]byte, error) {
	key, err := c.EncryptionKey(nonce, userPublicKey)
	if err != nil {
		if errors.Is(err, ErrKeyNotReady) {
			return nil, err
		}
		return nil, ErrDecryption
	}
	return key.Decrypt(ciphertext)
}

// Decrypt opens m.Msg.
func (c *Codec) Decrypt(m SecretMessage) ([]byte, error) {
	return c.DecryptBytes(m.Nonce, m.UserPublicKey, m.Msg)
}

// EncryptInPlace replaces m.Msg with its ciphertext, keeping nonce and key.
func (c *Codec) EncryptInPlace(m *SecretMessage) error {
	ct, err := c.EncryptBytes(m.Nonce, m.UserPublicKey, m.Msg)
	if err != nil {
		return err
	}
	m.Msg = ct
	return nil
}

type OutcomeKind int

const (
	// Decrypted: the input parsed as a SecretMessage and authenticated.
	Decrypted OutcomeKind = iota
	// PlaintextFallback: the input could not be framed as a SecretMessage and
	// is passed through unchanged with a zero nonce and key.
	PlaintextFallback
)

func (k OutcomeKind) String() string {
	switch k {
	case Decrypted:
		return "decrypted"
	case PlaintextFallback:
		return "plaintext"
	default:
		return "unknown"
	}
}

// Outcome is the result of TryDecrypt. Message carries the original header
// and wire payload; Plaintext is what the contract sees.
type Outcome struct {
	Kind      OutcomeKind
	Message   SecretMessage
	Plaintext []byte
}

func (o Outcome) WasEncrypted() bool {
	return o.Kind == Decrypted
}

// TryDecrypt implements the try-decrypt-else-plaintext policy. Only a
// framing failure falls back to plaintext. Once the input frames as a
// SecretMessage, an authentication failure is returned as ErrDecryption.
func (c *Codec) TryDecrypt(raw []byte) (Outcome, error) {
	m, err := FromSlice(raw)
	if err != nil {
		plain := append([]byte{}, raw...)
		return Outcome{Kind: PlaintextFallback, Message: Plaintext(plain), Plaintext: plain}, nil
	}

	pt, err := c.Decrypt(m)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Kind: Decrypted, Message: m, Plaintext: pt}, nil
}
