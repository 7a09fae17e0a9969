package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// curvePrecision is the number of decimal digits carried through intermediate
// curve arithmetic. Final prices are consumed at 18-digit fixed point.
const curvePrecision = 24

var two = decimal.NewFromInt(2)

// Price maps auction elapsed time to the current price of the decaying band.
//
//	elapsed <= 0        -> startPrice
//	elapsed >= duration -> endPrice
//	otherwise           -> startPrice - (startPrice-endPrice) * progress^1.5
//
// The 1.5 exponent front-loads slow decay and accelerates the decline near
// expiry. The result is monotonically non-increasing in elapsed time when
// startPrice >= endPrice. All arithmetic is fixed-point decimal; token
// amounts carry 18 decimals and native floats would lose precision.
func Price(elapsed, duration time.Duration, startPrice, endPrice decimal.Decimal) decimal.Decimal {
	if elapsed <= 0 {
		return startPrice
	}
	if duration <= 0 || elapsed >= duration {
		return endPrice
	}

	progress := decimal.NewFromInt(int64(elapsed)).
		DivRound(decimal.NewFromInt(int64(duration)), curvePrecision)

	// progress^1.5 == progress * sqrt(progress)
	adjusted := progress.Mul(sqrt(progress))

	price := startPrice.Sub(startPrice.Sub(endPrice).Mul(adjusted))
	if price.LessThan(endPrice) {
		return endPrice
	}
	if price.GreaterThan(startPrice) {
		return startPrice
	}
	return price
}

// sqrt computes the square root of a non-negative decimal by Newton
// iteration, converging well within curvePrecision for inputs in (0, 1].
func sqrt(d decimal.Decimal) decimal.Decimal {
	if d.Sign() <= 0 {
		return decimal.Zero
	}

	x := d
	for i := 0; i < 64; i++ {
		next := x.Add(d.DivRound(x, curvePrecision)).DivRound(two, curvePrecision)
		if next.Equal(x) {
			break
		}
		x = next
	}
	return x
}
