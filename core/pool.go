package core

import (
	"context"
	"time"

	"github.com/DomeLiquid/lending/utils"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type (
	PoolStore interface {
		UpsertPool(ctx context.Context, pool *Pool) error
		GetPoolById(ctx context.Context, poolId uuid.UUID) (*Pool, error)
		ListPools(ctx context.Context, protocolId uuid.UUID) ([]*Pool, error)
	}

	// Pool is the accrual state of one underlying asset.
	Pool struct {
		Id         uuid.UUID `json:"id"`
		ProtocolId uuid.UUID `json:"protocolId"`

		Asset      string `json:"asset"`
		ShareAsset string `json:"shareAsset"`
		Symbol     string `json:"symbol"`

		Divisibility      int32 `json:"divisibility"`
		ShareDivisibility int32 `json:"shareDivisibility"`

		DepositIndex decimal.Decimal `json:"depositIndex"`
		LoanIndex    decimal.Decimal `json:"loanIndex"`

		DepositRate  decimal.Decimal `json:"depositRate"`
		VariableRate decimal.Decimal `json:"variableRate"`

		DepositShareQuantity  decimal.Decimal `json:"depositShareQuantity"`
		VariableShareQuantity decimal.Decimal `json:"variableShareQuantity"`

		// Deposit shares the protocol holds as position collateral.
		CollateralShareQuantity decimal.Decimal `json:"collateralShareQuantity"`

		StableAmount decimal.Decimal `json:"stableAmount"`
		StableRate   decimal.Decimal `json:"stableRate"`

		Vault            decimal.Decimal `json:"vault"`
		InsuranceBalance decimal.Decimal `json:"insuranceBalance"`

		PoolConfig `json:"poolConfig"`

		CreatedAt  int64 `json:"createdAt"`
		LastUpdate int64 `json:"lastUpdate"`
	}

	PoolConfig struct {
		// Risk parameters of this asset when used as collateral.
		LTV                  decimal.Decimal `json:"ltv"`
		LiquidationThreshold decimal.Decimal `json:"liquidationThreshold"`
		LiquidationBonus     decimal.Decimal `json:"liquidationBonus"`

		InsuranceRatio    decimal.Decimal `json:"insuranceRatio"`
		FlashloanFeeRatio decimal.Decimal `json:"flashloanFeeRatio"`

		EpochsPerYear uint64 `json:"epochsPerYear"`

		InterestModel `json:"interestModel"`
	}

	// StableRepayment is what RepayStable reports back to the position.
	// PrincipalDelta is negative when unpaid interest was capitalized.
	StableRepayment struct {
		Consumed       decimal.Decimal `json:"consumed"`
		PrincipalDelta decimal.Decimal `json:"principalDelta"`
		Interest       decimal.Decimal `json:"interest"`
		Epoch          int64           `json:"epoch"`
	}
)

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		LTV:                  decimal.NewFromFloat(0.6),
		LiquidationThreshold: decimal.NewFromFloat(0.8),
		LiquidationBonus:     decimal.NewFromFloat(0.1),
		InsuranceRatio:       decimal.NewFromFloat(0.1),
		FlashloanFeeRatio:    decimal.NewFromFloat(0.0009),
		EpochsPerYear:        EPOCHS_PER_YEAR,
		InterestModel:        DefaultInterestModel(),
	}
}

func (pc *PoolConfig) Validate() error {
	if pc.LTV.IsNegative() || pc.LTV.GreaterThanOrEqual(ONE) {
		return errors.Wrapf(ErrInvalidRiskParams, "ltv %s", pc.LTV)
	}
	if pc.LiquidationThreshold.LessThan(pc.LTV) || pc.LiquidationThreshold.GreaterThan(ONE) {
		return errors.Wrapf(ErrInvalidRiskParams, "liquidation threshold %s", pc.LiquidationThreshold)
	}
	if pc.LiquidationBonus.IsNegative() || pc.LiquidationBonus.GreaterThanOrEqual(ONE) {
		return errors.Wrapf(ErrInvalidRiskParams, "liquidation bonus %s", pc.LiquidationBonus)
	}
	if pc.InsuranceRatio.IsNegative() || pc.InsuranceRatio.GreaterThan(ONE) {
		return errors.Wrapf(InvalidConfig, "insurance ratio %s", pc.InsuranceRatio)
	}
	if pc.FlashloanFeeRatio.IsNegative() || pc.FlashloanFeeRatio.GreaterThanOrEqual(ONE) {
		return errors.Wrapf(InvalidConfig, "flash loan fee ratio %s", pc.FlashloanFeeRatio)
	}
	if pc.EpochsPerYear == 0 {
		return errors.Wrap(InvalidConfig, "epochs per year is zero")
	}
	return pc.InterestModel.Validate()
}

func NewPool(protocolId uuid.UUID, asset *Asset, config PoolConfig, createTime time.Time, epoch int64) *Pool {
	id := utils.MustUuidFromStrings(protocolId.String(), asset.AssetID)
	return &Pool{
		Id:                      id,
		ProtocolId:              protocolId,
		Asset:                   asset.AssetID,
		ShareAsset:              utils.GenUuidFromStrings(id.String(), "share"),
		Symbol:                  asset.Symbol,
		Divisibility:            asset.Precision,
		ShareDivisibility:       DEFAULT_SHARE_DIVISIBILITY,
		DepositIndex:            ONE,
		LoanIndex:               ONE,
		DepositRate:             decimal.Zero,
		VariableRate:            decimal.Zero,
		DepositShareQuantity:    decimal.Zero,
		VariableShareQuantity:   decimal.Zero,
		CollateralShareQuantity: decimal.Zero,
		StableAmount:            decimal.Zero,
		StableRate:              decimal.Zero,
		Vault:                   decimal.Zero,
		InsuranceBalance:        decimal.Zero,
		PoolConfig:              config,
		CreatedAt:               createTime.Unix(),
		LastUpdate:              epoch,
	}
}

func (p *Pool) Clone() *Pool {
	clone := *p
	return &clone
}

func (p *Pool) epochsPerYear() uint64 {
	if p.EpochsPerYear == 0 {
		return EPOCHS_PER_YEAR
	}
	return p.EpochsPerYear
}

func (p *Pool) elapsed(now int64) uint64 {
	if now <= p.LastUpdate {
		return 0
	}
	return uint64(now - p.LastUpdate)
}

// CurrentIndex projects both indices to epoch now without touching state.
func (p *Pool) CurrentIndex(now int64) (decimal.Decimal, decimal.Decimal) {
	timeDelta := p.elapsed(now)
	if timeDelta == 0 {
		return p.DepositIndex, p.LoanIndex
	}

	depositIndex := CalcLinearInterest(p.DepositIndex, p.DepositRate, p.epochsPerYear(), timeDelta).RoundFloor(INDEX_PRECISION)
	loanIndex := CalcCompoundInterest(p.LoanIndex, p.VariableRate, p.epochsPerYear(), timeDelta).RoundCeil(INDEX_PRECISION)
	return depositIndex, loanIndex
}

// UpdateIndex folds the elapsed accrual into the indices and credits the
// spread between debt growth and deposit growth to insurance.
func (p *Pool) UpdateIndex(log Log, now int64) {
	timeDelta := p.elapsed(now)
	if timeDelta == 0 {
		return
	}

	depositIndex, loanIndex := p.CurrentIndex(now)

	variableInterest := p.VariableShareQuantity.Mul(loanIndex.Sub(p.LoanIndex))
	stableInterest := CalcCompoundInterest(p.StableAmount, p.StableRate, p.epochsPerYear(), timeDelta).Sub(p.StableAmount)
	supplyInterest := p.DepositShareQuantity.Mul(depositIndex.Sub(p.DepositIndex))

	spread := variableInterest.Add(stableInterest).Sub(supplyInterest)
	if spread.IsNegative() {
		log.Warn().Msgf("pool %s: negative interest spread %s clamped to zero", p.Symbol, spread)
		spread = decimal.Zero
	}

	log.Debug().Msgf("pool %s: timeDelta: %d, depositIndex: %s => %s, loanIndex: %s => %s, spread: %s",
		p.Symbol, timeDelta, p.DepositIndex, depositIndex, p.LoanIndex, loanIndex, spread)

	p.InsuranceBalance = p.InsuranceBalance.Add(spread)
	p.DepositIndex = depositIndex
	p.LoanIndex = loanIndex
	p.LastUpdate = now
}

// StableDebtValue is the stable book compounded to now.
func (p *Pool) StableDebtValue(now int64) decimal.Decimal {
	return CalcCompoundInterest(p.StableAmount, p.StableRate, p.epochsPerYear(), p.elapsed(now))
}

func (p *Pool) debtComponents(now int64) (supply, variableDebt, stableDebt decimal.Decimal) {
	depositIndex, loanIndex := p.CurrentIndex(now)
	supply = p.DepositShareQuantity.Mul(depositIndex)
	variableDebt = p.VariableShareQuantity.Mul(loanIndex)
	stableDebt = p.StableDebtValue(now)
	return
}

func (p *Pool) calcInterestRate(supply, variableDebt, stableDebt decimal.Decimal) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	totalDebt := variableDebt.Add(stableDebt)

	utilization := decimal.Zero
	if supply.IsPositive() {
		utilization = totalDebt.Div(supply)
	}
	stableRatio := decimal.Zero
	if totalDebt.IsPositive() {
		stableRatio = stableDebt.Div(totalDebt)
	}

	variableRate, stableRate := p.InterestModel.Rate(utilization, stableRatio)

	overallRate := decimal.Zero
	if totalDebt.IsPositive() {
		// Existing stable debt accrues at the book rate, not at the new-loan quote.
		overallRate = variableDebt.Mul(variableRate).Add(stableDebt.Mul(p.StableRate)).Div(totalDebt)
	}

	depositRate := decimal.Zero
	if supply.IsPositive() {
		depositRate = totalDebt.Mul(overallRate).Mul(ONE.Sub(p.InsuranceRatio)).Div(supply)
	}

	return variableRate, stableRate, depositRate
}

// InterestRate returns (variable, stable quote, deposit) as they would be with
// extraStable more stable debt outstanding.
func (p *Pool) InterestRate(now int64, extraStable decimal.Decimal) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	supply, variableDebt, stableDebt := p.debtComponents(now)
	return p.calcInterestRate(supply, variableDebt, stableDebt.Add(extraStable))
}

func (p *Pool) UpdateInterestRate(log Log, now int64) {
	supply, variableDebt, stableDebt := p.debtComponents(now)
	variableRate, _, depositRate := p.calcInterestRate(supply, variableDebt, stableDebt)

	log.Debug().Msgf("pool %s: supply: %s, variableDebt: %s, stableDebt: %s, variableRate: %s, depositRate: %s",
		p.Symbol, supply, variableDebt, stableDebt, variableRate, depositRate)

	p.VariableRate = variableRate
	p.DepositRate = depositRate
}

// Utilization is total debt over supply, projected to now.
func (p *Pool) Utilization(now int64) decimal.Decimal {
	supply, variableDebt, stableDebt := p.debtComponents(now)
	if !supply.IsPositive() {
		return decimal.Zero
	}
	return variableDebt.Add(stableDebt).Div(supply)
}

func (p *Pool) Available() decimal.Decimal {
	return p.Vault
}

// RedemptionValue converts deposit shares into underlying at the projected index.
func (p *Pool) RedemptionValue(now int64, shares decimal.Decimal) decimal.Decimal {
	depositIndex, _ := p.CurrentIndex(now)
	return shares.Mul(depositIndex)
}

// VariableDebtValue converts variable debt shares into owed underlying, rounded up.
func (p *Pool) VariableDebtValue(now int64, shares decimal.Decimal) decimal.Decimal {
	_, loanIndex := p.CurrentIndex(now)
	return utils.Ceil(shares.Mul(loanIndex), p.Divisibility)
}

// StableInterest is the interest a stable position has accrued since lastUpdate.
func (p *Pool) StableInterest(now int64, principal, rate decimal.Decimal, lastUpdate int64) decimal.Decimal {
	if now <= lastUpdate {
		return decimal.Zero
	}
	timeDelta := uint64(now - lastUpdate)
	return utils.Ceil(CalcCompoundInterest(principal, rate, p.epochsPerYear(), timeDelta).Sub(principal), p.Divisibility)
}

func (p *Pool) AddLiquidity(log Log, now int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, errors.Wrapf(ErrInvalidAmount, "deposit %s", amount)
	}

	p.UpdateIndex(log, now)

	shares := utils.DivFloor(amount, p.DepositIndex, p.ShareDivisibility)
	if !shares.IsPositive() {
		return decimal.Zero, errors.Wrapf(ErrDustAmount, "deposit %s at index %s", amount, p.DepositIndex)
	}

	p.Vault = p.Vault.Add(amount)
	p.DepositShareQuantity = p.DepositShareQuantity.Add(shares)

	p.UpdateInterestRate(log, now)
	return shares, nil
}

func (p *Pool) RemoveLiquidity(log Log, now int64, shares decimal.Decimal) (decimal.Decimal, error) {
	if !shares.IsPositive() {
		return decimal.Zero, errors.Wrapf(ErrInvalidAmount, "redeem %s shares", shares)
	}
	if shares.GreaterThan(p.DepositShareQuantity) {
		return decimal.Zero, errors.Wrapf(ErrInsufficientShares, "redeem %s of %s", shares, p.DepositShareQuantity)
	}

	p.UpdateIndex(log, now)

	amount := utils.Floor(shares.Mul(p.DepositIndex), p.Divisibility)
	if amount.GreaterThan(p.Vault) {
		return decimal.Zero, errors.Wrapf(ErrInsufficientLiquidity, "withdraw %s, available %s", amount, p.Vault)
	}

	p.DepositShareQuantity = p.DepositShareQuantity.Sub(shares)
	p.Vault = p.Vault.Sub(amount)

	p.UpdateInterestRate(log, now)
	return amount, nil
}

func (p *Pool) BorrowVariable(log Log, now int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, errors.Wrapf(ErrInvalidAmount, "borrow %s", amount)
	}
	if amount.GreaterThan(p.Vault) {
		return decimal.Zero, errors.Wrapf(ErrInsufficientLiquidity, "borrow %s, available %s", amount, p.Vault)
	}

	p.UpdateIndex(log, now)

	shares := utils.DivCeil(amount, p.LoanIndex, p.ShareDivisibility)
	p.VariableShareQuantity = p.VariableShareQuantity.Add(shares)
	p.Vault = p.Vault.Sub(amount)

	p.UpdateInterestRate(log, now)
	return shares, nil
}

func (p *Pool) BorrowStable(log Log, now int64, amount, rate decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.Wrapf(ErrInvalidAmount, "borrow %s", amount)
	}
	if amount.GreaterThan(p.Vault) {
		return errors.Wrapf(ErrInsufficientLiquidity, "borrow %s, available %s", amount, p.Vault)
	}

	p.UpdateIndex(log, now)

	p.StableRate = WeightedRate(p.StableAmount, p.StableRate, amount, rate)
	p.StableAmount = p.StableAmount.Add(amount)
	p.Vault = p.Vault.Sub(amount)

	p.UpdateInterestRate(log, now)
	return nil
}

// CapitalizeStableInterest moves unpaid position interest into the stable book
// at the position's rate.
func (p *Pool) CapitalizeStableInterest(interest, rate decimal.Decimal) {
	if !interest.IsPositive() {
		return
	}
	p.StableRate = WeightedRate(p.StableAmount, p.StableRate, interest, rate)
	p.StableAmount = p.StableAmount.Add(interest)
}

// RepayVariable applies up to payment (and limit, when given) against a
// position holding positionShares of variable debt. It returns the underlying
// consumed and the debt shares retired.
func (p *Pool) RepayVariable(log Log, now int64, payment, positionShares decimal.Decimal, limit *decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if payment.IsNegative() {
		return decimal.Zero, decimal.Zero, errors.Wrapf(ErrInvalidAmount, "repay %s", payment)
	}

	p.UpdateIndex(log, now)

	debt := utils.Ceil(positionShares.Mul(p.LoanIndex), p.Divisibility)

	applied := decimal.Min(payment, debt)
	if limit != nil && limit.LessThan(applied) {
		applied = decimal.Max(*limit, decimal.Zero)
	}

	var retired decimal.Decimal
	if applied.Equal(debt) {
		retired = positionShares
	} else {
		retired = decimal.Min(utils.DivFloor(applied, p.LoanIndex, p.ShareDivisibility), positionShares)
	}
	retired = decimal.Min(retired, p.VariableShareQuantity)

	p.VariableShareQuantity = p.VariableShareQuantity.Sub(retired)
	p.Vault = p.Vault.Add(applied)

	p.UpdateInterestRate(log, now)
	return applied, retired, nil
}

// RepayStable settles interest first and then principal for a stable position
// with the given principal, rate and last accrual epoch. A payment below the
// accrued interest capitalizes the shortfall.
func (p *Pool) RepayStable(log Log, now int64, payment, principal, rate decimal.Decimal, lastUpdate int64, limit *decimal.Decimal) (StableRepayment, error) {
	if payment.IsNegative() {
		return StableRepayment{}, errors.Wrapf(ErrInvalidAmount, "repay %s", payment)
	}

	p.UpdateIndex(log, now)

	interest := p.StableInterest(now, principal, rate, lastUpdate)
	previousDebt := p.StableAmount.Mul(p.StableRate)

	repayAmount := payment
	if limit != nil && limit.LessThan(repayAmount) {
		repayAmount = decimal.Max(*limit, decimal.Zero)
	}

	var principalDelta decimal.Decimal
	if repayAmount.LessThan(interest) {
		outstanding := interest.Sub(repayAmount)
		principalDelta = outstanding.Neg()
		p.StableAmount = p.StableAmount.Add(outstanding)
		p.StableRate = previousDebt.Add(outstanding.Mul(rate)).Div(p.StableAmount)
	} else {
		shouldPaid := principal.Add(interest)
		if repayAmount.GreaterThanOrEqual(shouldPaid) {
			repayAmount = shouldPaid
			principalDelta = principal
		} else {
			principalDelta = repayAmount.Sub(interest)
		}

		// Positions are settled one by one, so the last repayment can exceed the book.
		if principalDelta.GreaterThanOrEqual(p.StableAmount) {
			p.StableAmount = decimal.Zero
			p.StableRate = decimal.Zero
		} else {
			p.StableAmount = p.StableAmount.Sub(principalDelta)
			p.StableRate = decimal.Max(previousDebt.Sub(principalDelta.Mul(rate)).Div(p.StableAmount), decimal.Zero)
		}
	}

	p.Vault = p.Vault.Add(repayAmount)

	p.UpdateInterestRate(log, now)
	return StableRepayment{
		Consumed:       repayAmount,
		PrincipalDelta: principalDelta,
		Interest:       interest,
		Epoch:          now,
	}, nil
}

func (p *Pool) WithdrawInsurance(log Log, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, errors.Wrapf(ErrInvalidAmount, "withdraw insurance %s", amount)
	}
	if amount.GreaterThan(p.InsuranceBalance) {
		return decimal.Zero, errors.Wrapf(ErrInsufficientInsurance, "withdraw %s, insurance %s", amount, p.InsuranceBalance)
	}

	taken := utils.Floor(amount, p.Divisibility)
	if taken.GreaterThan(p.Vault) {
		return decimal.Zero, errors.Wrapf(ErrInsufficientLiquidity, "withdraw %s, available %s", taken, p.Vault)
	}

	log.Info().Msgf("pool %s: withdraw insurance %s of %s", p.Symbol, taken, p.InsuranceBalance)

	p.InsuranceBalance = p.InsuranceBalance.Sub(taken)
	p.Vault = p.Vault.Sub(taken)
	return taken, nil
}

func (p *Pool) BorrowFlashloan(amount decimal.Decimal) (*FlashLoan, error) {
	if !amount.IsPositive() {
		return nil, errors.Wrapf(ErrInvalidAmount, "flash loan %s", amount)
	}
	if amount.GreaterThan(p.Vault) {
		return nil, errors.Wrapf(ErrInsufficientLiquidity, "flash loan %s, available %s", amount, p.Vault)
	}

	p.Vault = p.Vault.Sub(amount)
	return NewFlashLoan(p, amount), nil
}

// RepayFlashloan takes amount+fee out of payment and returns the remainder.
// The fee is split between insurance and an immediate deposit index bump.
func (p *Pool) RepayFlashloan(log Log, now int64, payment decimal.Decimal, loan *FlashLoan) (decimal.Decimal, error) {
	if loan.PoolId != p.Id {
		return decimal.Zero, errors.Wrapf(ErrResourceMismatch, "flash loan of pool %s repaid to %s", loan.PoolId, p.Id)
	}

	total := loan.Total(p.Divisibility)
	if payment.LessThan(total) {
		return decimal.Zero, errors.Wrapf(ErrInsufficientRepayment, "flash loan needs %s, got %s", total, payment)
	}

	p.Vault = p.Vault.Add(total)
	fee := total.Sub(loan.Amount)

	if fee.IsPositive() {
		p.UpdateIndex(log, now)

		supply := p.DepositShareQuantity.Mul(p.DepositIndex)
		insurance := fee.Mul(p.InsuranceRatio)
		if !supply.IsPositive() {
			insurance = fee
		}
		p.InsuranceBalance = p.InsuranceBalance.Add(insurance)

		if supply.IsPositive() {
			bump := fee.Sub(insurance).Div(supply)
			p.DepositIndex = p.DepositIndex.Add(bump).RoundFloor(INDEX_PRECISION)
		}

		log.Debug().Msgf("pool %s: flash loan fee %s, insurance %s, depositIndex %s", p.Symbol, fee, insurance, p.DepositIndex)

		p.UpdateInterestRate(log, now)
	}

	return payment.Sub(total), nil
}
