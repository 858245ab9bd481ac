package core

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Mutez is the smallest currency unit. One tez is 1,000,000 mutez.
type Mutez uint64

const tezPrecision int32 = 6 // mutez per tez = 10^6

var mutezPerTez = decimal.New(1, tezPrecision)

// Tez returns the amount as a decimal number of tez.
func (m Mutez) Tez() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(m)), -tezPrecision)
}

// String formats the amount in tez with six decimal places, e.g. "1.500000".
func (m Mutez) String() string {
	return m.Tez().StringFixed(tezPrecision)
}

// ParseTez parses a decimal tez amount ("0.1", "20") into mutez.
// Amounts finer than one mutez or outside the mutez range are rejected.
func ParseTez(s string) (Mutez, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse tez amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("tez amount %q must not be negative", s)
	}

	mutez := d.Mul(mutezPerTez)
	if !mutez.Equal(mutez.Truncate(0)) {
		return 0, fmt.Errorf("tez amount %q has more than %d decimal places", s, tezPrecision)
	}

	bi := mutez.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("tez amount %q: %w", s, ErrAmountOverflow)
	}
	return Mutez(bi.Uint64()), nil
}

// MulQuantity returns price * quantity, failing with ErrAmountOverflow if the product
// does not fit in a Mutez.
func MulQuantity(price Mutez, quantity uint64) (Mutez, error) {
	product, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(uint64(price)), uint256.NewInt(quantity))
	if overflow || !product.IsUint64() {
		return 0, fmt.Errorf("%d * %d: %w", price, quantity, ErrAmountOverflow)
	}
	return Mutez(product.Uint64()), nil
}

func addMutez(a, b Mutez) (Mutez, error) {
	sum, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(uint64(a)), uint256.NewInt(uint64(b)))
	if overflow || !sum.IsUint64() {
		return 0, fmt.Errorf("%d + %d: %w", a, b, ErrAmountOverflow)
	}
	return Mutez(sum.Uint64()), nil
}
