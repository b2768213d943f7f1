package liquidity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/elnosh/starknuts/cashu"
	"github.com/holiman/uint256"
)

var (
	ErrInvalidHex      = errors.New("invalid hex number")
	ErrInvalidU256Part = errors.New("u256 part does not fit in 128 bits")

	// 2^128
	u128Limit = new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	// 2^251, addresses are strictly below it
	addressLimit = new(uint256.Int).Lsh(uint256.NewInt(1), 251)
	// 2^251 + 17*2^192 + 1
	feltPrime = new(uint256.Int).Add(
		new(uint256.Int).Add(addressLimit, new(uint256.Int).Lsh(uint256.NewInt(17), 192)),
		uint256.NewInt(1),
	)
)

// U256 is a 256 bit integer split in two 128 bit halves,
// the way Starknet represents it.
type U256 struct {
	Low  string `json:"low"`
	High string `json:"high"`
}

func SplitU256(value *uint256.Int) U256 {
	low := new(uint256.Int).Mod(value, u128Limit)
	high := new(uint256.Int).Rsh(value, 128)
	return U256{Low: low.Hex(), High: high.Hex()}
}

func (u U256) Int() (*uint256.Int, error) {
	low, err := ParseHex(u.Low)
	if err != nil {
		return nil, err
	}
	high, err := ParseHex(u.High)
	if err != nil {
		return nil, err
	}
	if !low.Lt(u128Limit) || !high.Lt(u128Limit) {
		return nil, ErrInvalidU256Part
	}
	return new(uint256.Int).Or(new(uint256.Int).Lsh(high, 128), low), nil
}

// ParseHex parses a 0x prefixed hex number of at most 256 bits.
// Leading zeros are accepted.
func ParseHex(s string) (*uint256.Int, error) {
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(digits) == 0 || len(digits) > 64 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHex, s)
	}
	if len(digits)%2 == 1 {
		digits = "0" + digits
	}
	b, err := hex.DecodeString(digits)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHex, s)
	}
	return new(uint256.Int).SetBytes(b), nil
}

// IsValidAddress reports whether address is a usable Starknet
// contract address, 0x1 < address < 2^251.
func IsValidAddress(address *uint256.Int) bool {
	return address.GtUint64(1) && address.Lt(addressLimit)
}

// FeltFromBytes reduces b modulo the Starknet field prime.
func FeltFromBytes(b []byte) *uint256.Int {
	value := new(uint256.Int).SetBytes(b)
	return value.Mod(value, feltPrime)
}

func scale(unit cashu.Unit) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(unit.ScaleOrder())))
}

// ToOnChain converts an amount of unit into the smallest
// denomination of the unit's asset.
func ToOnChain(unit cashu.Unit, amount uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(amount), scale(unit))
}

// FromOnChain converts an on-chain amount into unit, rounding up so the
// result always covers the on-chain amount.
func FromOnChain(unit cashu.Unit, value *uint256.Int) (uint64, error) {
	quotient, remainder := new(uint256.Int).DivMod(value, scale(unit), new(uint256.Int))
	if !remainder.IsZero() {
		quotient.AddUint64(quotient, 1)
	}
	if !quotient.IsUint64() {
		return 0, cashu.AmountOverflowErr
	}
	return quotient.Uint64(), nil
}
