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
	// Tx is one all-or-nothing unit of work. Pools and positions are cloned on
	// first touch; nothing reaches the protocol until Commit.
	Tx struct {
		protocol *Protocol
		log      Log

		version    uint64
		now        int64
		createTime time.Time

		pools       map[uuid.UUID]*Pool
		newPools    []uuid.UUID
		newAssets   []*Asset
		positions   map[uuid.UUID]*Position
		positionSeq uint64

		flashloans map[uuid.UUID]*FlashLoan
		commands   []Command
		events     []*Event

		err  error
		done bool
	}

	Receipt struct {
		Epoch    int64     `json:"epoch"`
		Commands []Command `json:"commands"`
		Events   []*Event  `json:"events"`
	}

	OpenRequest struct {
		// Collateral may be the collateral pool's underlying or its share token.
		Collateral  Bucket          `json:"collateral"`
		BorrowAsset string          `json:"borrowAsset"`
		Amount      decimal.Decimal `json:"amount"`
		IsStable    bool            `json:"isStable"`
	}
)

func (p *Protocol) Begin() *Tx {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return &Tx{
		protocol:    p,
		log:         p.log,
		version:     p.version,
		now:         p.Epoch(),
		createTime:  p.clk.Now(),
		pools:       map[uuid.UUID]*Pool{},
		positions:   map[uuid.UUID]*Position{},
		positionSeq: p.positionSeq,
		flashloans:  map[uuid.UUID]*FlashLoan{},
	}
}

// Epoch is the accrual epoch every pool in this transaction sees.
func (t *Tx) Epoch() int64 {
	return t.now
}

func (t *Tx) fail(err error) error {
	if err != nil && t.err == nil {
		t.err = err
	}
	return err
}

func (t *Tx) check() error {
	if t.done {
		return ErrTxDone
	}
	if t.err != nil {
		return errors.Wrap(t.err, "transaction aborted")
	}
	return nil
}

func (t *Tx) pool(poolId uuid.UUID) (*Pool, error) {
	if pool, ok := t.pools[poolId]; ok {
		return pool, nil
	}

	t.protocol.mu.RLock()
	base, ok := t.protocol.pools[poolId]
	t.protocol.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrPoolNotFound, "pool %s", poolId)
	}

	pool := base.Clone()
	t.pools[poolId] = pool
	return pool, nil
}

func (t *Tx) poolByAsset(asset string) (*Pool, error) {
	for _, pool := range t.pools {
		if pool.Asset == asset {
			return pool, nil
		}
	}

	t.protocol.mu.RLock()
	poolId, ok := t.protocol.poolByAsset[asset]
	t.protocol.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrPoolNotFound, "asset %s", asset)
	}
	return t.pool(poolId)
}

func (t *Tx) poolByShare(shareAsset string) (*Pool, error) {
	for _, pool := range t.pools {
		if pool.ShareAsset == shareAsset {
			return pool, nil
		}
	}

	t.protocol.mu.RLock()
	poolId, ok := t.protocol.poolByShare[shareAsset]
	t.protocol.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrResourceMismatch, "%s is not a share token", shareAsset)
	}
	return t.pool(poolId)
}

func (t *Tx) position(positionId uuid.UUID) (*Position, error) {
	position, ok := t.positions[positionId]
	if !ok {
		t.protocol.mu.RLock()
		base, found := t.protocol.positions[positionId]
		t.protocol.mu.RUnlock()
		if !found {
			return nil, errors.Wrapf(ErrPositionNotFound, "position %s", positionId)
		}
		position = base.Clone()
		t.positions[positionId] = position
	}
	if position.IsClosed() {
		return nil, errors.Wrapf(ErrPositionClosed, "position %s", positionId)
	}
	return position, nil
}

func (t *Tx) positionPools(position *Position) (*Pool, *Pool, error) {
	collateralPool, err := t.pool(position.CollateralPoolId)
	if err != nil {
		return nil, nil, err
	}
	borrowPool, err := t.pool(position.BorrowPoolId)
	if err != nil {
		return nil, nil, err
	}
	return collateralPool, borrowPool, nil
}

func (t *Tx) emit(commands ...Command) {
	t.commands = append(t.commands, commands...)
}

func (t *Tx) record(action ActionType, poolId, positionId uuid.UUID, detail EventDetail) {
	t.events = append(t.events, NewEvent(t.protocol.clk, t.protocol.Id, action, poolId, positionId, t.now, detail))
}

// Pool returns the transaction's view of a pool.
func (t *Tx) Pool(poolId uuid.UUID) (*Pool, error) {
	pool, err := t.pool(poolId)
	if err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

func (t *Tx) Position(positionId uuid.UUID) (*Position, error) {
	position, err := t.position(positionId)
	if err != nil {
		return nil, err
	}
	return position.Clone(), nil
}

func (t *Tx) NewPool(asset *Asset, config PoolConfig) (*Pool, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, t.fail(err)
	}
	if _, err := t.poolByAsset(asset.AssetID); err == nil {
		return nil, t.fail(errors.Wrapf(ErrPoolExists, "asset %s", asset.AssetID))
	}

	pool := NewPool(t.protocol.Id, asset, config, t.createTime, t.now)
	t.pools[pool.Id] = pool
	t.newPools = append(t.newPools, pool.Id)
	copied := *asset
	t.newAssets = append(t.newAssets, &copied)

	t.log.Info().Msgf("new pool %s for %s, share %s", pool.Id, pool.Symbol, pool.ShareAsset)
	t.record(ActionNewPool, pool.Id, uuid.Nil, EventDetail{Asset: pool.Asset})
	return pool.Clone(), nil
}

// Supply deposits underlying and returns the minted pool shares.
func (t *Tx) Supply(payment Bucket) (Bucket, error) {
	if err := t.check(); err != nil {
		return Bucket{}, err
	}
	pool, err := t.poolByAsset(payment.Asset)
	if err != nil {
		return Bucket{}, t.fail(err)
	}

	shares, err := pool.AddLiquidity(t.log, t.now, payment.Amount)
	if err != nil {
		return Bucket{}, t.fail(err)
	}

	t.emit(
		NewCommand(CommandDeposit, pool.Asset, payment.Amount),
		NewCommand(CommandMint, pool.ShareAsset, shares),
	)
	t.record(ActionSupply, pool.Id, uuid.Nil, EventDetail{Asset: pool.Asset, Amount: payment.Amount, Shares: shares})
	return NewBucket(pool.ShareAsset, shares), nil
}

// Withdraw redeems pool shares for underlying.
func (t *Tx) Withdraw(shares Bucket) (Bucket, error) {
	if err := t.check(); err != nil {
		return Bucket{}, err
	}
	pool, err := t.poolByShare(shares.Asset)
	if err != nil {
		return Bucket{}, t.fail(err)
	}
	// shares locked as collateral stay in the vault
	if free := pool.DepositShareQuantity.Sub(pool.CollateralShareQuantity); shares.Amount.GreaterThan(free) {
		return Bucket{}, t.fail(errors.Wrapf(ErrInsufficientShares, "redeem %s of %s unlocked", shares.Amount, free))
	}

	amount, err := pool.RemoveLiquidity(t.log, t.now, shares.Amount)
	if err != nil {
		return Bucket{}, t.fail(err)
	}

	t.emit(
		NewCommand(CommandBurn, pool.ShareAsset, shares.Amount),
		NewCommand(CommandWithdraw, pool.Asset, amount),
	)
	t.record(ActionWithdraw, pool.Id, uuid.Nil, EventDetail{Asset: pool.Asset, Amount: amount, Shares: shares.Amount})
	return NewBucket(pool.Asset, amount), nil
}

// collateralShares turns a presented bucket into shares of pool. Underlying is
// supplied first; foreign assets are rejected.
func (t *Tx) collateralShares(pool *Pool, bucket Bucket) (decimal.Decimal, error) {
	switch bucket.Asset {
	case pool.ShareAsset:
		if !bucket.Amount.IsPositive() {
			return decimal.Zero, errors.Wrapf(ErrInvalidAmount, "collateral %s", bucket.Amount)
		}
		if locked := pool.CollateralShareQuantity.Add(bucket.Amount); locked.GreaterThan(pool.DepositShareQuantity) {
			return decimal.Zero, errors.Wrapf(ErrInsufficientShares, "lock %s %s, %s of %s minted already locked",
				bucket.Amount, pool.ShareAsset, pool.CollateralShareQuantity, pool.DepositShareQuantity)
		}
		t.emit(NewCommand(CommandDeposit, pool.ShareAsset, bucket.Amount))
		return bucket.Amount, nil
	case pool.Asset:
		shares, err := pool.AddLiquidity(t.log, t.now, bucket.Amount)
		if err != nil {
			return decimal.Zero, err
		}
		t.emit(
			NewCommand(CommandDeposit, pool.Asset, bucket.Amount),
			NewCommand(CommandMint, pool.ShareAsset, shares),
		)
		return shares, nil
	default:
		return decimal.Zero, errors.Wrapf(ErrResourceMismatch, "%s is not collateral of pool %s", bucket.Asset, pool.Symbol)
	}
}

func (t *Tx) collateralPoolFor(bucket Bucket) (*Pool, error) {
	if pool, err := t.poolByShare(bucket.Asset); err == nil {
		return pool, nil
	}
	pool, err := t.poolByAsset(bucket.Asset)
	if err != nil {
		return nil, errors.Wrapf(ErrResourceMismatch, "no pool accepts %s", bucket.Asset)
	}
	return pool, nil
}

// borrow disburses amount from borrowPool to the position. Stable loans blend
// the pool's current quote into the position rate; interest accrued so far is
// capitalized first.
func (t *Tx) borrow(position *Position, borrowPool *Pool, amount decimal.Decimal) error {
	if !position.IsStable {
		shares, err := borrowPool.BorrowVariable(t.log, t.now, amount)
		if err != nil {
			return err
		}
		position.NormalizedBorrow = position.NormalizedBorrow.Add(shares)
		position.TotalBorrow = position.TotalBorrow.Add(amount)
		return nil
	}

	if amount.GreaterThan(borrowPool.Vault) {
		return errors.Wrapf(ErrInsufficientLiquidity, "borrow %s, available %s", amount, borrowPool.Vault)
	}

	borrowPool.UpdateIndex(t.log, t.now)
	interest := borrowPool.StableInterest(t.now, position.BorrowAmount, position.StableRate, position.LastUpdate)
	borrowPool.CapitalizeStableInterest(interest, position.StableRate)

	_, quote, _ := borrowPool.InterestRate(t.now, amount)
	if quote.IsNegative() {
		return errors.Wrapf(ErrNegativeInterestRate, "stable quote %s", quote)
	}
	if err := borrowPool.BorrowStable(t.log, t.now, amount, quote); err != nil {
		return err
	}

	owed := position.BorrowAmount.Add(interest)
	position.StableRate = WeightedRate(owed, position.StableRate, amount, quote)
	position.BorrowAmount = owed.Add(amount)
	position.LastUpdate = t.now
	position.TotalBorrow = position.TotalBorrow.Add(amount)
	return nil
}

// repay applies payment (up to limit) to the position's debt and returns the
// amount the borrow pool consumed.
func (t *Tx) repay(position *Position, borrowPool *Pool, payment decimal.Decimal, limit *decimal.Decimal) (decimal.Decimal, error) {
	var consumed decimal.Decimal
	if position.IsStable {
		result, err := borrowPool.RepayStable(t.log, t.now, payment, position.BorrowAmount, position.StableRate, position.LastUpdate, limit)
		if err != nil {
			return decimal.Zero, err
		}
		consumed = result.Consumed
		position.BorrowAmount = position.BorrowAmount.Sub(result.PrincipalDelta)
		position.LastUpdate = result.Epoch
		if !position.BorrowAmount.IsPositive() {
			position.BorrowAmount = decimal.Zero
			position.StableRate = decimal.Zero
		}
	} else {
		applied, retired, err := borrowPool.RepayVariable(t.log, t.now, payment, position.NormalizedBorrow, limit)
		if err != nil {
			return decimal.Zero, err
		}
		consumed = applied
		position.NormalizedBorrow = position.NormalizedBorrow.Sub(retired)
	}

	position.TotalRepay = position.TotalRepay.Add(consumed)
	return consumed, nil
}

// Open creates a position backed by req.Collateral and disburses req.Amount.
// It returns the position and the borrowed funds.
func (t *Tx) Open(req OpenRequest) (*Position, Bucket, error) {
	if err := t.check(); err != nil {
		return nil, Bucket{}, err
	}
	if req.Amount.IsNegative() {
		return nil, Bucket{}, t.fail(errors.Wrapf(ErrInvalidAmount, "borrow %s", req.Amount))
	}

	collateralPool, err := t.collateralPoolFor(req.Collateral)
	if err != nil {
		return nil, Bucket{}, t.fail(err)
	}
	borrowPool, err := t.poolByAsset(req.BorrowAsset)
	if err != nil {
		return nil, Bucket{}, t.fail(err)
	}

	shares, err := t.collateralShares(collateralPool, req.Collateral)
	if err != nil {
		return nil, Bucket{}, t.fail(err)
	}

	t.positionSeq++
	position := NewPosition(
		utils.SequenceUuid(t.protocol.Id, "position", t.positionSeq),
		t.positionSeq,
		collateralPool,
		borrowPool,
		req.IsStable,
		t.createTime,
		t.now,
	)
	position.CollateralAmount = shares

	risk := NewRiskEngine(t.protocol.priceFeed, position, collateralPool, borrowPool, t.now)
	if err := risk.CheckBorrow(shares, req.Amount); err != nil {
		return nil, Bucket{}, t.fail(err)
	}

	if req.Amount.IsPositive() {
		if err := t.borrow(position, borrowPool, req.Amount); err != nil {
			return nil, Bucket{}, t.fail(err)
		}
	}

	collateralPool.CollateralShareQuantity = collateralPool.CollateralShareQuantity.Add(shares)
	position.refreshState(t.createTime.Unix())
	t.positions[position.Id] = position

	t.log.Info().Msgf("open position #%d %s: collateral %s %s, borrow %s %s, stable %v",
		position.Number, position.Id, shares, collateralPool.Symbol, req.Amount, borrowPool.Symbol, req.IsStable)

	t.emit(NewPositionCommand(CommandMintPosition, position.Id))
	if req.Amount.IsPositive() {
		t.emit(NewCommand(CommandWithdraw, borrowPool.Asset, req.Amount))
	}
	t.record(ActionCreatePosition, borrowPool.Id, position.Id, EventDetail{
		Asset:    borrowPool.Asset,
		Amount:   req.Amount,
		Shares:   shares,
		IsStable: req.IsStable,
		Rate:     position.StableRate,
	})
	return position.Clone(), NewBucket(borrowPool.Asset, req.Amount), nil
}

func (t *Tx) ExtendBorrow(positionId uuid.UUID, amount decimal.Decimal) (Bucket, error) {
	if err := t.check(); err != nil {
		return Bucket{}, err
	}
	if !amount.IsPositive() {
		return Bucket{}, t.fail(errors.Wrapf(ErrInvalidAmount, "borrow %s", amount))
	}
	position, err := t.position(positionId)
	if err != nil {
		return Bucket{}, t.fail(err)
	}
	collateralPool, borrowPool, err := t.positionPools(position)
	if err != nil {
		return Bucket{}, t.fail(err)
	}

	risk := NewRiskEngine(t.protocol.priceFeed, position, collateralPool, borrowPool, t.now)
	if err := risk.CheckBorrow(position.CollateralAmount, risk.CurrentDebt().Add(amount)); err != nil {
		return Bucket{}, t.fail(err)
	}

	if err := t.borrow(position, borrowPool, amount); err != nil {
		return Bucket{}, t.fail(err)
	}
	position.refreshState(t.createTime.Unix())

	t.emit(NewCommand(CommandWithdraw, borrowPool.Asset, amount))
	t.record(ActionExtendBorrow, borrowPool.Id, position.Id, EventDetail{
		Asset:    borrowPool.Asset,
		Amount:   amount,
		IsStable: position.IsStable,
		Rate:     position.StableRate,
	})
	return NewBucket(borrowPool.Asset, amount), nil
}

func (t *Tx) AddCollateral(positionId uuid.UUID, bucket Bucket) error {
	if err := t.check(); err != nil {
		return err
	}
	position, err := t.position(positionId)
	if err != nil {
		return t.fail(err)
	}
	collateralPool, err := t.pool(position.CollateralPoolId)
	if err != nil {
		return t.fail(err)
	}

	shares, err := t.collateralShares(collateralPool, bucket)
	if err != nil {
		return t.fail(err)
	}

	position.CollateralAmount = position.CollateralAmount.Add(shares)
	collateralPool.CollateralShareQuantity = collateralPool.CollateralShareQuantity.Add(shares)
	position.refreshState(t.createTime.Unix())

	t.record(ActionAddCollateral, collateralPool.Id, position.Id, EventDetail{Asset: bucket.Asset, Amount: bucket.Amount, Shares: shares})
	return nil
}

// WithdrawCollateral releases amount of collateral, given in underlying
// units, as pool shares. The position is debited the rounded-up share count
// and the caller receives the rounded-down one.
func (t *Tx) WithdrawCollateral(positionId uuid.UUID, amount decimal.Decimal) (Bucket, error) {
	if err := t.check(); err != nil {
		return Bucket{}, err
	}
	if !amount.IsPositive() {
		return Bucket{}, t.fail(errors.Wrapf(ErrInvalidAmount, "withdraw collateral %s", amount))
	}
	position, err := t.position(positionId)
	if err != nil {
		return Bucket{}, t.fail(err)
	}
	collateralPool, borrowPool, err := t.positionPools(position)
	if err != nil {
		return Bucket{}, t.fail(err)
	}

	collateralPool.UpdateIndex(t.log, t.now)
	taken := utils.DivFloor(amount, collateralPool.DepositIndex, collateralPool.ShareDivisibility)
	debited := utils.DivCeil(amount, collateralPool.DepositIndex, collateralPool.ShareDivisibility)
	if !taken.IsPositive() {
		return Bucket{}, t.fail(errors.Wrapf(ErrDustAmount, "withdraw collateral %s", amount))
	}
	if taken.GreaterThan(position.CollateralAmount) {
		return Bucket{}, t.fail(errors.Wrapf(ErrInsufficientCollateral, "withdraw %s shares of %s", taken, position.CollateralAmount))
	}
	debited = decimal.Min(debited, position.CollateralAmount)
	remaining := position.CollateralAmount.Sub(debited)

	risk := NewRiskEngine(t.protocol.priceFeed, position, collateralPool, borrowPool, t.now)
	if owed := risk.CurrentDebt(); owed.IsPositive() {
		if power := risk.BorrowingPower(remaining); owed.GreaterThan(power) {
			return Bucket{}, t.fail(errors.Wrapf(ErrInsufficientCollateral, "owed %s, borrowing power left %s", owed, power))
		}
	}

	position.CollateralAmount = remaining
	collateralPool.CollateralShareQuantity = collateralPool.CollateralShareQuantity.Sub(taken)
	position.refreshState(t.createTime.Unix())

	t.emit(NewCommand(CommandTransfer, collateralPool.ShareAsset, taken))
	t.record(ActionWithdrawCollateral, collateralPool.Id, position.Id, EventDetail{Asset: collateralPool.Asset, Amount: amount, Shares: debited})
	return NewBucket(collateralPool.ShareAsset, taken), nil
}

// Repay pays down the position's debt and returns what was not consumed.
func (t *Tx) Repay(positionId uuid.UUID, payment Bucket) (Bucket, error) {
	if err := t.check(); err != nil {
		return Bucket{}, err
	}
	position, err := t.position(positionId)
	if err != nil {
		return Bucket{}, t.fail(err)
	}
	if payment.Asset != position.BorrowAsset {
		return Bucket{}, t.fail(errors.Wrapf(ErrResourceMismatch, "repay %s for a %s loan", payment.Asset, position.BorrowAsset))
	}
	if !payment.Amount.IsPositive() {
		return Bucket{}, t.fail(errors.Wrapf(ErrInvalidAmount, "repay %s", payment.Amount))
	}
	borrowPool, err := t.pool(position.BorrowPoolId)
	if err != nil {
		return Bucket{}, t.fail(err)
	}

	consumed, err := t.repay(position, borrowPool, payment.Amount, nil)
	if err != nil {
		return Bucket{}, t.fail(err)
	}
	position.refreshState(t.createTime.Unix())

	t.emit(NewCommand(CommandDeposit, borrowPool.Asset, consumed))
	t.record(ActionRepay, borrowPool.Id, position.Id, EventDetail{Asset: borrowPool.Asset, Amount: consumed, IsStable: position.IsStable})
	return NewBucket(payment.Asset, payment.Amount.Sub(consumed)), nil
}

// Close retires a debt-free position and releases its remaining collateral shares.
func (t *Tx) Close(positionId uuid.UUID) (Bucket, error) {
	if err := t.check(); err != nil {
		return Bucket{}, err
	}
	position, err := t.position(positionId)
	if err != nil {
		return Bucket{}, t.fail(err)
	}
	if position.HasDebt() {
		return Bucket{}, t.fail(errors.Wrapf(ErrPositionHasDebt, "position %s", positionId))
	}
	collateralPool, err := t.pool(position.CollateralPoolId)
	if err != nil {
		return Bucket{}, t.fail(err)
	}

	released := position.CollateralAmount
	collateralPool.CollateralShareQuantity = collateralPool.CollateralShareQuantity.Sub(released)
	position.CollateralAmount = decimal.Zero
	position.State = PositionClosed
	position.UpdatedAt = t.createTime.Unix()

	if released.IsPositive() {
		t.emit(NewCommand(CommandTransfer, collateralPool.ShareAsset, released))
	}
	t.emit(NewPositionCommand(CommandBurnPosition, position.Id))
	t.record(ActionClosePosition, collateralPool.Id, position.Id, EventDetail{Asset: collateralPool.ShareAsset, Shares: released})
	return NewBucket(collateralPool.ShareAsset, released), nil
}

// Liquidate repays part of an unhealthy position's debt with payment and
// seizes collateral plus the liquidation bonus. debtToCover, when set, lowers
// the close-factor limit. Seized collateral is paid in pool shares unless
// receiveUnderlying is set.
func (t *Tx) Liquidate(positionId uuid.UUID, payment Bucket, debtToCover *decimal.Decimal, receiveUnderlying bool) (*LiquidateResult, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	position, err := t.position(positionId)
	if err != nil {
		return nil, t.fail(err)
	}
	if payment.Asset != position.BorrowAsset {
		return nil, t.fail(errors.Wrapf(ErrResourceMismatch, "liquidate a %s loan with %s", position.BorrowAsset, payment.Asset))
	}
	collateralPool, borrowPool, err := t.positionPools(position)
	if err != nil {
		return nil, t.fail(err)
	}

	collateralPool.UpdateIndex(t.log, t.now)
	borrowPool.UpdateIndex(t.log, t.now)

	risk := NewRiskEngine(t.protocol.priceFeed, position, collateralPool, borrowPool, t.now)
	preHealth, err := risk.CheckPreLiquidation()
	if err != nil {
		return nil, t.fail(err)
	}

	plan, err := risk.PlanLiquidation(t.protocol.closeFactor, debtToCover)
	if err != nil {
		return nil, t.fail(err)
	}
	if payment.Amount.LessThan(plan.ActualToLiquidate) {
		return nil, t.fail(errors.Wrapf(ErrInsufficientRepayment, "liquidation needs %s, got %s", plan.ActualToLiquidate, payment.Amount))
	}

	limit := plan.ActualToLiquidate
	repaid, err := t.repay(position, borrowPool, payment.Amount, &limit)
	if err != nil {
		return nil, t.fail(err)
	}
	if !repaid.Equal(plan.ActualToLiquidate) {
		return nil, t.fail(errors.Wrapf(ErrRepayMismatch, "pool consumed %s, expected %s", repaid, plan.ActualToLiquidate))
	}

	position.CollateralAmount = position.CollateralAmount.Sub(plan.SeizedShares)
	collateralPool.CollateralShareQuantity = collateralPool.CollateralShareQuantity.Sub(plan.SeizedShares)

	seized := NewBucket(collateralPool.ShareAsset, plan.SeizedShares)
	if receiveUnderlying && plan.SeizedShares.IsPositive() {
		amount, err := collateralPool.RemoveLiquidity(t.log, t.now, plan.SeizedShares)
		if err != nil {
			return nil, t.fail(err)
		}
		seized = NewBucket(collateralPool.Asset, amount)
		t.emit(
			NewCommand(CommandBurn, collateralPool.ShareAsset, plan.SeizedShares),
			NewCommand(CommandWithdraw, collateralPool.Asset, amount),
		)
	} else {
		t.emit(NewCommand(CommandTransfer, collateralPool.ShareAsset, plan.SeizedShares))
	}
	t.emit(NewCommand(CommandDeposit, borrowPool.Asset, repaid))

	position.State = PositionLiquidated
	position.refreshState(t.createTime.Unix())

	postHealth, err := risk.GetHealthFactor(Maintenance)
	if err != nil {
		return nil, t.fail(err)
	}

	cover := plan.MaxToLiquidate
	if debtToCover != nil {
		cover = *debtToCover
	}

	result := &LiquidateResult{
		PositionId:           position.Id,
		LiquidateePreHealth:  preHealth,
		LiquidateePostHealth: postHealth,
		DebtPrice:            risk.BorrowPrice,
		CollateralPrice:      risk.CollateralPrice,
		DebtToCover:          cover,
		Plan:                 plan,
		Repaid:               repaid,
		Refund:               NewBucket(payment.Asset, payment.Amount.Sub(repaid)),
		Seized:               seized,
		CollateralPool:       collateralPool.Clone(),
		BorrowPool:           borrowPool.Clone(),
		Position:             position.Clone(),
	}

	t.log.Info().Msgf("liquidate position #%d: health %s => %s, repaid %s %s, seized %s %s",
		position.Number, preHealth, postHealth, repaid, borrowPool.Symbol, plan.SeizedShares, collateralPool.Symbol)

	t.record(ActionLiquidation, borrowPool.Id, position.Id, EventDetail{
		Asset:       borrowPool.Asset,
		Amount:      repaid,
		Shares:      plan.SeizedShares,
		IsStable:    position.IsStable,
		Liquidation: NewLiquidationDetail(result),
	})
	return result, nil
}

// BorrowFlashloan lends amount for the rest of the transaction. The returned
// marker must be passed to RepayFlashloan before Commit.
func (t *Tx) BorrowFlashloan(asset string, amount decimal.Decimal) (Bucket, *FlashLoan, error) {
	if err := t.check(); err != nil {
		return Bucket{}, nil, err
	}
	pool, err := t.poolByAsset(asset)
	if err != nil {
		return Bucket{}, nil, t.fail(err)
	}

	loan, err := pool.BorrowFlashloan(amount)
	if err != nil {
		return Bucket{}, nil, t.fail(err)
	}
	t.flashloans[loan.Id] = loan

	t.emit(NewCommand(CommandWithdraw, pool.Asset, amount))
	return NewBucket(pool.Asset, amount), loan, nil
}

// RepayFlashloan settles a marker and returns the unused part of payment.
func (t *Tx) RepayFlashloan(payment Bucket, loan *FlashLoan) (Bucket, error) {
	if err := t.check(); err != nil {
		return Bucket{}, err
	}
	if loan == nil {
		return Bucket{}, t.fail(ErrUnknownFlashloan)
	}
	if _, ok := t.flashloans[loan.Id]; !ok {
		return Bucket{}, t.fail(errors.Wrapf(ErrUnknownFlashloan, "flash loan %s", loan.Id))
	}
	if payment.Asset != loan.Asset {
		return Bucket{}, t.fail(errors.Wrapf(ErrResourceMismatch, "repay a %s flash loan with %s", loan.Asset, payment.Asset))
	}
	pool, err := t.pool(loan.PoolId)
	if err != nil {
		return Bucket{}, t.fail(err)
	}

	refund, err := pool.RepayFlashloan(t.log, t.now, payment.Amount, loan)
	if err != nil {
		return Bucket{}, t.fail(err)
	}
	delete(t.flashloans, loan.Id)

	consumed := payment.Amount.Sub(refund)
	t.emit(NewCommand(CommandDeposit, pool.Asset, consumed))
	t.record(ActionFlashLoan, pool.Id, uuid.Nil, EventDetail{Asset: pool.Asset, Amount: loan.Amount, Fee: consumed.Sub(loan.Amount)})
	return NewBucket(payment.Asset, refund), nil
}

func (t *Tx) WithdrawInsurance(asset string, amount decimal.Decimal) (Bucket, error) {
	if err := t.check(); err != nil {
		return Bucket{}, err
	}
	pool, err := t.poolByAsset(asset)
	if err != nil {
		return Bucket{}, t.fail(err)
	}

	pool.UpdateIndex(t.log, t.now)
	taken, err := pool.WithdrawInsurance(t.log, amount)
	if err != nil {
		return Bucket{}, t.fail(err)
	}
	pool.UpdateInterestRate(t.log, t.now)

	t.emit(NewCommand(CommandWithdraw, pool.Asset, taken))
	t.record(ActionWithdrawInsurance, pool.Id, uuid.Nil, EventDetail{Asset: pool.Asset, Amount: taken})
	return NewBucket(pool.Asset, taken), nil
}

func (t *Tx) Rollback() {
	t.done = true
}

// Commit persists and publishes the overlay. It fails, discarding every
// change, if an operation failed, a flash loan is outstanding, or another
// transaction committed first.
func (t *Tx) Commit(ctx context.Context) (*Receipt, error) {
	if err := t.check(); err != nil {
		t.done = true
		return nil, err
	}
	t.done = true

	if len(t.flashloans) > 0 {
		return nil, errors.Wrapf(ErrFlashloanNotRepaid, "%d outstanding", len(t.flashloans))
	}

	p := t.protocol
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.version != t.version {
		return nil, ErrTxConflict
	}

	if p.store != nil {
		err := p.store.Atomic(ctx, func(s Store) error {
			for _, asset := range t.newAssets {
				if err := s.UpsertAsset(ctx, asset); err != nil {
					return err
				}
			}
			for _, pool := range t.pools {
				if err := s.UpsertPool(ctx, pool); err != nil {
					return err
				}
			}
			for _, position := range t.positions {
				if err := s.UpsertPosition(ctx, position); err != nil {
					return err
				}
			}
			for _, event := range t.events {
				if err := s.CreateEvent(ctx, event); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "persist transaction")
		}
	}

	for id, pool := range t.pools {
		p.pools[id] = pool
	}
	for _, id := range t.newPools {
		pool := t.pools[id]
		p.poolByAsset[pool.Asset] = id
		p.poolByShare[pool.ShareAsset] = id
	}
	for id, position := range t.positions {
		p.positions[id] = position
	}
	p.positionSeq = t.positionSeq
	p.version++

	if p.observer != nil {
		for _, pool := range t.pools {
			p.observer.ObservePool(pool, t.now)
		}
		for _, event := range t.events {
			p.observer.ObserveEvent(event)
		}
	}

	return &Receipt{
		Epoch:    t.now,
		Commands: t.commands,
		Events:   t.events,
	}, nil
}
