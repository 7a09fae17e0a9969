package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// TokenDecimals is the fixed-point scale of token amounts and prices.
const TokenDecimals = 18

// ToSmallestUnit converts a display-decimal value into smallest-unit integer
// form. Conversion truncates (floor), never rounds up, so the system can
// never over-credit by a fraction of a unit.
func ToSmallestUnit(d decimal.Decimal, decimals int32) *big.Int {
	return d.Shift(decimals).Truncate(0).BigInt()
}

// FromSmallestUnit converts a smallest-unit integer back to a display decimal.
func FromSmallestUnit(v *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(v, 0).Shift(-decimals)
}

// ExpectedPayment derives the smallest-unit payout owed for an order accepted
// at the given price: price * amount, truncated at the boundary.
func ExpectedPayment(price, amount decimal.Decimal, decimals int32) *big.Int {
	return ToSmallestUnit(price.Mul(amount), decimals)
}
