package cosmos

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// DefaultBech32Prefix is the account address prefix of the network.
const DefaultBech32Prefix = "secret"

var ErrInvalidAddress = errors.New("invalid address")

// CanonicalAddr is the raw byte form of an account or contract address.
type CanonicalAddr []byte

func (a CanonicalAddr) Equal(o CanonicalAddr) bool {
	return bytes.Equal(a, o)
}

// HumanAddr is the bech32 form of an address.
type HumanAddr string

// AddressCodec converts between bech32 and canonical addresses.
type AddressCodec struct {
	prefix string
}

func NewAddressCodec(prefix string) AddressCodec {
	if prefix == "" {
		prefix = DefaultBech32Prefix
	}
	return AddressCodec{prefix: prefix}
}

func (c AddressCodec) Prefix() string {
	return c.prefix
}

// Canonicalize decodes a bech32 address. The human readable part must match
// the codec prefix.
func (c AddressCodec) Canonicalize(addr HumanAddr) (CanonicalAddr, error) {
	if addr == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	hrp, data, err := bech32.Decode(string(addr))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if hrp != c.prefix {
		return nil, fmt.Errorf("%w: prefix %q, expected %q", ErrInvalidAddress, hrp, c.prefix)
	}

	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return CanonicalAddr(raw), nil
}

// Humanize encodes a canonical address with the codec prefix.
func (c AddressCodec) Humanize(addr CanonicalAddr) (HumanAddr, error) {
	if len(addr) == 0 {
		return "", fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	data, err := bech32.ConvertBits(addr, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	encoded, err := bech32.Encode(c.prefix, data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return HumanAddr(encoded), nil
}
