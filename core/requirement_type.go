package core

import "github.com/shopspring/decimal"

type RequirementType uint8

const (
	Initial RequirementType = iota
	Maintenance
	Equity
)

func (rt RequirementType) String() string {
	switch rt {
	case Initial:
		return "Initial"
	case Maintenance:
		return "Maintenance"
	case Equity:
		return "Equity"
	default:
		return "Unknown"
	}
}

// Weight is the collateral weight a health check applies: ltv when borrowing,
// the liquidation threshold when deciding liquidation, and none for equity.
func (rt RequirementType) Weight(config *PoolConfig) decimal.Decimal {
	switch rt {
	case Initial:
		return config.LTV
	case Maintenance:
		return config.LiquidationThreshold
	default:
		return ONE
	}
}
