package core

import (
	"github.com/DomeLiquid/lending/utils"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// MaxLoanAmount is how much of the borrow asset underlying collateral can
// back at the given ltv. Unusable prices or a zero ltv give zero.
func MaxLoanAmount(underlying, ltv, collateralPrice, borrowPrice decimal.Decimal, divisibility int32) decimal.Decimal {
	if !ltv.IsPositive() || !collateralPrice.IsPositive() || !borrowPrice.IsPositive() {
		return decimal.Zero
	}
	if !underlying.IsPositive() {
		return decimal.Zero
	}
	return utils.DivFloor(underlying.Mul(collateralPrice).Mul(ltv), borrowPrice, divisibility)
}

// HealthFactor is weighted collateral value over debt value, both in the
// reference unit. No debt reports MAX_HEALTH_FACTOR.
func HealthFactor(collateralValue, threshold, debtValue decimal.Decimal) decimal.Decimal {
	if !debtValue.IsPositive() {
		return MAX_HEALTH_FACTOR
	}
	hf := collateralValue.Mul(threshold).Div(debtValue)
	if hf.GreaterThan(MAX_HEALTH_FACTOR) {
		return MAX_HEALTH_FACTOR
	}
	return hf
}

type RiskEngine struct {
	Position       *Position
	CollateralPool *Pool
	BorrowPool     *Pool

	CollateralPrice decimal.Decimal
	BorrowPrice     decimal.Decimal

	now int64
}

func NewRiskEngine(feed PriceFeed, position *Position, collateralPool, borrowPool *Pool, now int64) *RiskEngine {
	collateralPrice, borrowPrice := PairPrices(feed, collateralPool.Asset, borrowPool.Asset)
	return &RiskEngine{
		Position:        position,
		CollateralPool:  collateralPool,
		BorrowPool:      borrowPool,
		CollateralPrice: collateralPrice,
		BorrowPrice:     borrowPrice,
		now:             now,
	}
}

func (r *RiskEngine) pricesUsable() bool {
	return r.CollateralPrice.IsPositive() && r.BorrowPrice.IsPositive()
}

// BorrowingPower is the maximum debt collateralShares of the collateral pool
// can carry in the borrow asset.
func (r *RiskEngine) BorrowingPower(collateralShares decimal.Decimal) decimal.Decimal {
	underlying := r.CollateralPool.RedemptionValue(r.now, collateralShares)
	return MaxLoanAmount(underlying, r.CollateralPool.LTV, r.CollateralPrice, r.BorrowPrice, r.BorrowPool.Divisibility)
}

func (r *RiskEngine) CurrentDebt() decimal.Decimal {
	return r.Position.CurrentDebt(r.BorrowPool, r.now)
}

func (r *RiskEngine) CollateralUnderlying() decimal.Decimal {
	return r.CollateralPool.RedemptionValue(r.now, r.Position.CollateralAmount)
}

// GetHealthComponents returns collateral and debt value in the reference unit.
func (r *RiskEngine) GetHealthComponents() (decimal.Decimal, decimal.Decimal, error) {
	if !r.pricesUsable() {
		return decimal.Zero, decimal.Zero, errors.Wrapf(ErrInvalidPriceInput, "collateral price %s, borrow price %s", r.CollateralPrice, r.BorrowPrice)
	}
	collateralValue, err := CalcValue(r.CollateralUnderlying(), r.CollateralPrice, nil)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	debtValue, err := CalcValue(r.CurrentDebt(), r.BorrowPrice, nil)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return collateralValue, debtValue, nil
}

func (r *RiskEngine) GetHealthFactor(requirementType RequirementType) (decimal.Decimal, error) {
	collateralValue, debtValue, err := r.GetHealthComponents()
	if err != nil {
		return decimal.Zero, err
	}
	return HealthFactor(collateralValue, requirementType.Weight(&r.CollateralPool.PoolConfig), debtValue), nil
}

// CheckBorrow rejects owing more than the remaining collateral can back
// once collateralShares are left in the position.
func (r *RiskEngine) CheckBorrow(collateralShares, owed decimal.Decimal) error {
	power := r.BorrowingPower(collateralShares)
	if owed.GreaterThan(power) {
		return errors.Wrapf(ErrExceedsBorrowingPower, "owed %s, borrowing power %s", owed, power)
	}
	return nil
}

func (r *RiskEngine) CheckPreLiquidation() (decimal.Decimal, error) {
	if !r.Position.HasDebt() {
		return decimal.Zero, errors.Wrap(ErrNotLiquidatable, "position has no debt")
	}
	hf, err := r.GetHealthFactor(Maintenance)
	if err != nil {
		return decimal.Zero, err
	}
	if hf.GreaterThan(ONE) {
		return decimal.Zero, errors.Wrapf(ErrNotLiquidatable, "health factor %s", hf)
	}
	return hf, nil
}

type (
	LiquidationParams struct {
		Debt        decimal.Decimal
		DebtToCover *decimal.Decimal
		CloseFactor decimal.Decimal

		CollateralShares     decimal.Decimal
		CollateralUnderlying decimal.Decimal
		DepositIndex         decimal.Decimal

		DebtPrice        decimal.Decimal
		CollateralPrice  decimal.Decimal
		LiquidationBonus decimal.Decimal

		DebtDivisibility       int32
		CollateralDivisibility int32
		ShareDivisibility      int32
	}

	// LiquidationPlan amounts are in underlying units of their own asset;
	// SeizedShares is in collateral pool shares.
	LiquidationPlan struct {
		MaxToLiquidate    decimal.Decimal `json:"maxToLiquidate"`
		ActualToLiquidate decimal.Decimal `json:"actualToLiquidate"`
		CollateralToSeize decimal.Decimal `json:"collateralToSeize"`
		SeizedShares      decimal.Decimal `json:"seizedShares"`
		Clamped           bool            `json:"clamped"`
	}
)

// PlanLiquidation caps the repayment at the close factor and, when the bonus
// would seize more than the position holds, seizes everything and shrinks the
// repayment to match.
func PlanLiquidation(p LiquidationParams) (*LiquidationPlan, error) {
	if !p.DebtPrice.IsPositive() || !p.CollateralPrice.IsPositive() {
		return nil, errors.Wrapf(ErrInvalidPriceInput, "debt price %s, collateral price %s", p.DebtPrice, p.CollateralPrice)
	}

	maxToLiquidate := utils.Floor(p.Debt.Mul(p.CloseFactor), p.DebtDivisibility)
	actual := maxToLiquidate
	if p.DebtToCover != nil && p.DebtToCover.LessThan(actual) {
		actual = utils.Floor(*p.DebtToCover, p.DebtDivisibility)
	}
	if !actual.IsPositive() {
		return nil, errors.Wrapf(ErrInvalidAmount, "liquidate %s of max %s", actual, maxToLiquidate)
	}

	bonusPrice := p.DebtPrice.Mul(ONE.Add(p.LiquidationBonus))

	plan := &LiquidationPlan{MaxToLiquidate: maxToLiquidate}
	seize := utils.DivFloor(actual.Mul(bonusPrice), p.CollateralPrice, p.CollateralDivisibility)
	if seize.GreaterThan(p.CollateralUnderlying) {
		plan.Clamped = true
		plan.CollateralToSeize = p.CollateralUnderlying
		plan.SeizedShares = p.CollateralShares
		plan.ActualToLiquidate = utils.DivFloor(p.CollateralUnderlying.Mul(p.CollateralPrice), bonusPrice, p.DebtDivisibility)
	} else {
		plan.CollateralToSeize = seize
		plan.SeizedShares = decimal.Min(utils.DivFloor(seize, p.DepositIndex, p.ShareDivisibility), p.CollateralShares)
		plan.ActualToLiquidate = actual
	}

	if !plan.ActualToLiquidate.IsPositive() {
		return nil, errors.Wrapf(ErrInsufficientCollateral, "collateral %s covers no debt", p.CollateralUnderlying)
	}
	return plan, nil
}

// PlanLiquidation builds the plan for the engine's position at its current prices.
func (r *RiskEngine) PlanLiquidation(closeFactor decimal.Decimal, debtToCover *decimal.Decimal) (*LiquidationPlan, error) {
	depositIndex, _ := r.CollateralPool.CurrentIndex(r.now)
	return PlanLiquidation(LiquidationParams{
		Debt:                   r.CurrentDebt(),
		DebtToCover:            debtToCover,
		CloseFactor:            closeFactor,
		CollateralShares:       r.Position.CollateralAmount,
		CollateralUnderlying:   utils.Floor(r.CollateralUnderlying(), r.CollateralPool.Divisibility),
		DepositIndex:           depositIndex,
		DebtPrice:              r.BorrowPrice,
		CollateralPrice:        r.CollateralPrice,
		LiquidationBonus:       r.CollateralPool.LiquidationBonus,
		DebtDivisibility:       r.BorrowPool.Divisibility,
		CollateralDivisibility: r.CollateralPool.Divisibility,
		ShareDivisibility:      r.CollateralPool.ShareDivisibility,
	})
}
