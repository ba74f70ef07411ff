package cosmos

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
)

var ErrInvalidCoin = errors.New("invalid coin")

var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// Coin is a denomination and a Uint128 amount in decimal.
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// NewCoin validates amount and normalizes it to its shortest decimal form.
func NewCoin(denom, amount string) (Coin, error) {
	n, ok := new(big.Int).SetString(amount, 10)
	if !ok || n.Sign() < 0 || n.Cmp(maxUint128) > 0 {
		return Coin{}, fmt.Errorf("%w: amount %q of %s", ErrInvalidCoin, amount, denom)
	}
	return Coin{Denom: denom, Amount: n.String()}, nil
}

type Coins []Coin

// Equal compares in order, as funds lists are signed in order.
func (c Coins) Equal(o Coins) bool {
	if len(c) != len(o) {
		return false
	}
	for i := range c {
		if c[i] != o[i] {
			return false
		}
	}
	return true
}

// MarshalJSON always encodes a list, never null.
func (c Coins) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Coin(c))
}
