package core

import (
	"github.com/shopspring/decimal"
)

// RateModel maps pool utilization to the variable rate and the quote for new
// stable loans. Implementations must be pure.
type RateModel interface {
	Rate(utilization, stableRatio decimal.Decimal) (variableRate decimal.Decimal, stableRate decimal.Decimal)
}

type CurveKind uint8

const (
	CurveDefault CurveKind = iota
	CurveStable
)

func (ck CurveKind) String() string {
	switch ck {
	case CurveDefault:
		return "Default"
	case CurveStable:
		return "Stable"
	default:
		return "Unknown"
	}
}

func ParseCurveKind(s string) (CurveKind, bool) {
	switch s {
	case "default", "Default", "":
		return CurveDefault, true
	case "stable", "Stable":
		return CurveStable, true
	default:
		return 0, false
	}
}

type StableRateKind uint8

const (
	StableRateFixed StableRateKind = iota
	StableRateUtilization
)

func (sk StableRateKind) String() string {
	switch sk {
	case StableRateFixed:
		return "Fixed"
	case StableRateUtilization:
		return "Utilization"
	default:
		return "Unknown"
	}
}

func ParseStableRateKind(s string) (StableRateKind, bool) {
	switch s {
	case "fixed", "Fixed", "":
		return StableRateFixed, true
	case "utilization", "Utilization":
		return StableRateUtilization, true
	default:
		return 0, false
	}
}

var (
	defaultCurveLinear    = decimal.NewFromFloat(0.2)
	defaultCurveQuadratic = decimal.NewFromFloat(0.5)
	defaultCurveCap       = decimal.NewFromFloat(0.7)

	stableCurveX2 = decimal.NewFromFloat(0.55)
	stableCurveX4 = decimal.NewFromFloat(0.45)
)

// DefaultCurve is 0.2u + 0.5u² below full utilization and a flat 0.7 above.
func DefaultCurve(utilization decimal.Decimal) decimal.Decimal {
	if utilization.GreaterThan(ONE) {
		return defaultCurveCap
	}
	if utilization.IsNegative() {
		return decimal.Zero
	}
	return defaultCurveLinear.Mul(utilization).Add(defaultCurveQuadratic.Mul(utilization).Mul(utilization))
}

// StableCurve is 0.55x² + 0.45x⁴ with x = min(u, 1)².
func StableCurve(utilization decimal.Decimal) decimal.Decimal {
	u := decimal.Min(utilization, ONE)
	if u.IsNegative() {
		return decimal.Zero
	}
	x := u.Mul(u)
	x2 := x.Mul(x)
	x4 := x2.Mul(x2)
	return stableCurveX2.Mul(x2).Add(stableCurveX4.Mul(x4))
}

// InterestModel is the per-pool rate model: a curve for the variable rate and
// a strategy for quoting new stable loans.
type InterestModel struct {
	Curve          CurveKind       `json:"curve"`
	StableStrategy StableRateKind  `json:"stableStrategy"`
	StableBaseRate decimal.Decimal `json:"stableBaseRate"`

	// Only used by StableRateUtilization.
	OptimalStableRatio decimal.Decimal `json:"optimalStableRatio"`
	StableRatioPremium decimal.Decimal `json:"stableRatioPremium"`
}

func DefaultInterestModel() InterestModel {
	return InterestModel{
		Curve:          CurveDefault,
		StableStrategy: StableRateFixed,
		StableBaseRate: DEFAULT_STABLE_BASE_RATE,
	}
}

func (m InterestModel) Rate(utilization, stableRatio decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	return m.VariableRate(utilization), m.StableRate(utilization, stableRatio)
}

func (m InterestModel) VariableRate(utilization decimal.Decimal) decimal.Decimal {
	switch m.Curve {
	case CurveStable:
		return StableCurve(utilization)
	default:
		return DefaultCurve(utilization)
	}
}

func (m InterestModel) StableRate(utilization, stableRatio decimal.Decimal) decimal.Decimal {
	switch m.StableStrategy {
	case StableRateUtilization:
		rate := m.StableBaseRate.Add(StableCurve(utilization))
		excess := stableRatio.Sub(m.OptimalStableRatio)
		if excess.IsPositive() {
			rate = rate.Add(m.StableRatioPremium.Mul(excess))
		}
		return rate
	default:
		return m.StableBaseRate
	}
}

func (m InterestModel) Validate() error {
	if m.Curve != CurveDefault && m.Curve != CurveStable {
		return ErrInvalidInterestRate
	}
	if m.StableBaseRate.IsNegative() {
		return ErrInvalidInterestRate
	}
	if m.StableStrategy == StableRateUtilization {
		if m.OptimalStableRatio.IsNegative() || m.OptimalStableRatio.GreaterThan(ONE) {
			return ErrInvalidInterestRate
		}
		if m.StableRatioPremium.IsNegative() {
			return ErrInvalidInterestRate
		}
	} else if m.StableStrategy != StableRateFixed {
		return ErrInvalidInterestRate
	}
	return nil
}
