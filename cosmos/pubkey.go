package cosmos

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // cosmos addresses are RIPEMD-160
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	TypeURLSecp256k1PubKey           = "/cosmos.crypto.secp256k1.PubKey"
	TypeURLMultisigLegacyAminoPubKey = "/cosmos.crypto.multisig.LegacyAminoPubKey"

	CompressedPubKeySize = 33
	SignatureSize        = 64
)

var (
	ErrInvalidPubKey       = errors.New("invalid public key")
	ErrUnsupportedPubKey   = errors.New("unsupported public key type")
	ErrSignatureInvalid    = errors.New("signature verification failed")
	ErrUnsupportedSignMode = errors.New("unsupported sign mode")
)

// Secp256k1PubKey is a 33-byte compressed secp256k1 key.
type Secp256k1PubKey []byte

func NewSecp256k1PubKey(b []byte) (Secp256k1PubKey, error) {
	if len(b) != CompressedPubKeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidPubKey, len(b))
	}
	if _, err := crypto.DecompressPubkey(b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
	}
	return Secp256k1PubKey(append([]byte{}, b...)), nil
}

// PubKeyFromAny decodes a protobuf Any holding cosmos.crypto.secp256k1.PubKey.
// Multisig keys are recognized and refused.
func PubKeyFromAny(a Any) (Secp256k1PubKey, error) {
	switch a.TypeURL {
	case TypeURLSecp256k1PubKey:
	case TypeURLMultisigLegacyAminoPubKey:
		return nil, fmt.Errorf("%w: multisig", ErrUnsupportedPubKey)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPubKey, a.TypeURL)
	}

	var key []byte
	err := walkFields(a.Value, func(f field) (err error) {
		if f.num == 1 {
			key, err = f.wantBytes()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return NewSecp256k1PubKey(key)
}

// PubKeyFromAnyBytes decodes a serialized Any, as carried by SigInfo.
func PubKeyFromAnyBytes(b []byte) (Secp256k1PubKey, error) {
	a, err := DecodeAny(b)
	if err != nil {
		return nil, err
	}
	return PubKeyFromAny(a)
}

// Any wraps the key as a protobuf Any.
func (k Secp256k1PubKey) Any() Any {
	var value []byte
	value = protowire.AppendTag(value, 1, protowire.BytesType)
	value = protowire.AppendBytes(value, k)
	return Any{TypeURL: TypeURLSecp256k1PubKey, Value: value}
}

// Address is RIPEMD160(SHA256(key)).
func (k Secp256k1PubKey) Address() CanonicalAddr {
	sha := sha256.Sum256(k)
	h := ripemd160.New()
	h.Write(sha[:])
	return CanonicalAddr(h.Sum(nil))
}

// VerifyBytes checks a 64-byte R||S low-S signature over msg. Direct and
// amino JSON sign bytes are hashed with SHA-256, EIP-191 sign bytes with
// Keccak-256.
func (k Secp256k1PubKey) VerifyBytes(msg, sig []byte, mode SignMode) error {
	if len(sig) != SignatureSize {
		return fmt.Errorf("%w: signature is %d bytes", ErrSignatureInvalid, len(sig))
	}

	var digest []byte
	switch mode {
	case SignModeDirect, SignModeLegacyAminoJSON:
		sum := sha256.Sum256(msg)
		digest = sum[:]
	case SignModeEIP191:
		digest = crypto.Keccak256(msg)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedSignMode, mode)
	}

	if !crypto.VerifySignature(k, digest, sig) {
		return ErrSignatureInvalid
	}
	return nil
}
