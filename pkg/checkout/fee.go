package checkout

import (
	"math"
	"math/rand/v2"

	"github.com/shopspring/decimal"
)

// FeeCalculator derives a randomized processing fee in the [1%, 5%) band.
type FeeCalculator struct {
	random func() float64
}

// NewFeeCalculator wires a calculator; a nil source falls back to math/rand/v2.
func NewFeeCalculator(random func() float64) FeeCalculator {
	if random == nil {
		random = rand.Float64
	}
	return FeeCalculator{random: random}
}

// Fee returns ceil(amount * r) for r drawn uniformly from [0.01, 0.05).
func (calculator FeeCalculator) Fee(amount Amount) Amount {
	random := calculator.random
	if random == nil {
		random = rand.Float64
	}
	rate := feeRateMin + random()*(feeRateMax-feeRateMin)
	if rate >= feeRateMax {
		rate = math.Nextafter(feeRateMax, 0)
	}
	if rate < feeRateMin {
		rate = feeRateMin
	}
	fee := decimal.NewFromInt(amount.Int64()).Mul(decimal.NewFromFloat(rate)).Ceil()
	return Amount(fee.IntPart())
}
