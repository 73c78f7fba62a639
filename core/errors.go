package core

import "github.com/pkg/errors"

var (
	ErrInsufficientLiquidity  = errors.New("insufficient liquidity")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrExceedsBorrowingPower  = errors.New("exceeds borrowing power")
	ErrNotLiquidatable        = errors.New("position is not liquidatable")
	ErrRepayMismatch          = errors.New("repay amount mismatch")
	ErrInvalidPriceInput      = errors.New("invalid price input")
	ErrInsufficientInsurance  = errors.New("insufficient insurance")
	ErrResourceMismatch       = errors.New("resource mismatch")

	ErrInvalidAmount         = errors.New("invalid amount")
	ErrDustAmount            = errors.New("amount rounds to zero")
	ErrInsufficientShares    = errors.New("insufficient shares")
	ErrInsufficientRepayment = errors.New("insufficient repayment")
	ErrNegativeInterestRate  = errors.New("negative interest rate")

	ErrPoolNotFound     = errors.New("pool not found")
	ErrPoolExists       = errors.New("pool already exists")
	ErrPositionNotFound = errors.New("position not found")
	ErrPositionClosed   = errors.New("position is closed")
	ErrPositionHasDebt  = errors.New("position has outstanding debt")
	ErrAssetNotFound    = errors.New("asset not found")

	ErrFlashloanNotRepaid = errors.New("flash loan not repaid")
	ErrUnknownFlashloan   = errors.New("unknown flash loan")
	ErrTxDone             = errors.New("transaction already committed or rolled back")
	ErrTxConflict         = errors.New("protocol changed since transaction began")

	InvalidConfig          = errors.New("invalid config")
	ErrInvalidRiskParams   = errors.New("invalid risk parameters")
	ErrInvalidInterestRate = errors.New("invalid interest model")
)
