package core

import (
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type LiquidateResult struct {
	PositionId uuid.UUID `json:"positionId"`

	LiquidateePreHealth  decimal.Decimal `json:"liquidateePreHealth"`
	LiquidateePostHealth decimal.Decimal `json:"liquidateePostHealth"`

	DebtPrice       decimal.Decimal `json:"debtPrice"`
	CollateralPrice decimal.Decimal `json:"collateralPrice"`
	DebtToCover     decimal.Decimal `json:"debtToCover"`

	Plan *LiquidationPlan `json:"plan"`

	// Repaid is what the borrow pool consumed; it always equals Plan.ActualToLiquidate.
	Repaid decimal.Decimal `json:"repaid"`
	Refund Bucket          `json:"refund"`
	Seized Bucket          `json:"seized"`

	CollateralPool *Pool     `json:"collateralPool"`
	BorrowPool     *Pool     `json:"borrowPool"`
	Position       *Position `json:"position"`
}
