package core

import (
	"github.com/shopspring/decimal"
)

func CalcValue(amount decimal.Decimal, price decimal.Decimal, weight *decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsZero() {
		return decimal.Zero, nil
	}

	weighted := amount
	if weight != nil {
		weighted = amount.Mul(*weight)
	}

	return weighted.Mul(price), nil
}

// CalcLinearInterest grows value by apr pro rata over timeDelta epochs.
func CalcLinearInterest(value, apr decimal.Decimal, epochsPerYear uint64, timeDelta uint64) decimal.Decimal {
	if timeDelta == 0 || apr.IsZero() {
		return value
	}
	irPerPeriod := apr.Mul(decimal.NewFromUint64(timeDelta)).Div(decimal.NewFromUint64(epochsPerYear))
	return value.Mul(ONE.Add(irPerPeriod))
}

// CalcCompoundInterest compounds value once per epoch for timeDelta epochs.
func CalcCompoundInterest(value, apr decimal.Decimal, epochsPerYear uint64, timeDelta uint64) decimal.Decimal {
	if timeDelta == 0 || apr.IsZero() {
		return value
	}
	base := ONE.Add(apr.Div(decimal.NewFromUint64(epochsPerYear)))
	return value.Mul(PowTruncated(base, timeDelta, INDEX_PRECISION+8))
}

// PowTruncated raises base to n by squaring, truncating every product to
// precision digits so long epoch gaps do not blow up the mantissa.
func PowTruncated(base decimal.Decimal, n uint64, precision int32) decimal.Decimal {
	result := ONE
	for n > 0 {
		if n&1 == 1 {
			result = result.Mul(base).Truncate(precision)
		}
		n >>= 1
		if n > 0 {
			base = base.Mul(base).Truncate(precision)
		}
	}
	return result
}

// WeightedRate blends two (amount, rate) legs into a single amount-weighted rate.
func WeightedRate(amount, rate, newAmount, newRate decimal.Decimal) decimal.Decimal {
	total := amount.Add(newAmount)
	if !total.IsPositive() {
		return decimal.Zero
	}
	return amount.Mul(rate).Add(newAmount.Mul(newRate)).Div(total)
}
