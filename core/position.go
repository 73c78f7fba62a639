package core

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type (
	PositionStore interface {
		UpsertPosition(ctx context.Context, position *Position) error
		GetPositionById(ctx context.Context, positionId uuid.UUID) (*Position, error)
		ListPositions(ctx context.Context, protocolId uuid.UUID) ([]*Position, error)
	}

	// Position is one collateralized loan. CollateralAmount is held in
	// collateral pool shares. NormalizedBorrow is authoritative for variable
	// loans, BorrowAmount for stable ones.
	Position struct {
		Id         uuid.UUID `json:"id"`
		Number     uint64    `json:"number"`
		ProtocolId uuid.UUID `json:"protocolId"`

		CollateralPoolId uuid.UUID `json:"collateralPoolId"`
		BorrowPoolId     uuid.UUID `json:"borrowPoolId"`
		CollateralAsset  string    `json:"collateralAsset"`
		BorrowAsset      string    `json:"borrowAsset"`

		IsStable         bool            `json:"isStable"`
		CollateralAmount decimal.Decimal `json:"collateralAmount"`
		NormalizedBorrow decimal.Decimal `json:"normalizedBorrow"`
		BorrowAmount     decimal.Decimal `json:"borrowAmount"`
		StableRate       decimal.Decimal `json:"stableRate"`
		LastUpdate       int64           `json:"lastUpdate"`

		TotalBorrow decimal.Decimal `json:"totalBorrow"`
		TotalRepay  decimal.Decimal `json:"totalRepay"`

		State     PositionState `json:"state"`
		CreatedAt int64         `json:"createdAt"`
		UpdatedAt int64         `json:"updatedAt"`
	}
)

type PositionState uint8

const (
	PositionOpen PositionState = iota
	PositionActive
	PositionRepaid
	PositionLiquidated
	PositionClosed
)

func (s PositionState) String() string {
	switch s {
	case PositionOpen:
		return "Open"
	case PositionActive:
		return "Active"
	case PositionRepaid:
		return "Repaid"
	case PositionLiquidated:
		return "Liquidated"
	case PositionClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

func NewPosition(id uuid.UUID, number uint64, collateralPool, borrowPool *Pool, isStable bool, createTime time.Time, epoch int64) *Position {
	return &Position{
		Id:               id,
		Number:           number,
		ProtocolId:       collateralPool.ProtocolId,
		CollateralPoolId: collateralPool.Id,
		BorrowPoolId:     borrowPool.Id,
		CollateralAsset:  collateralPool.Asset,
		BorrowAsset:      borrowPool.Asset,
		IsStable:         isStable,
		CollateralAmount: decimal.Zero,
		NormalizedBorrow: decimal.Zero,
		BorrowAmount:     decimal.Zero,
		StableRate:       decimal.Zero,
		LastUpdate:       epoch,
		TotalBorrow:      decimal.Zero,
		TotalRepay:       decimal.Zero,
		State:            PositionOpen,
		CreatedAt:        createTime.Unix(),
		UpdatedAt:        createTime.Unix(),
	}
}

func (p *Position) Clone() *Position {
	clone := *p
	return &clone
}

func (p *Position) IsClosed() bool {
	return p.State == PositionClosed
}

func (p *Position) HasDebt() bool {
	if p.IsStable {
		return p.BorrowAmount.IsPositive()
	}
	return p.NormalizedBorrow.IsPositive()
}

// CurrentDebt is what the position owes at epoch now: the index-projected
// value of its shares for variable loans, principal plus accrued interest for
// stable ones.
func (p *Position) CurrentDebt(borrowPool *Pool, now int64) decimal.Decimal {
	if p.IsStable {
		if !p.BorrowAmount.IsPositive() {
			return decimal.Zero
		}
		return p.BorrowAmount.Add(borrowPool.StableInterest(now, p.BorrowAmount, p.StableRate, p.LastUpdate))
	}
	return borrowPool.VariableDebtValue(now, p.NormalizedBorrow)
}

// refreshState derives the lifecycle state from the debt after a mutation.
// Liquidated sticks until the debt is gone.
func (p *Position) refreshState(updatedAt int64) {
	p.UpdatedAt = updatedAt
	if p.IsClosed() {
		return
	}
	switch {
	case p.HasDebt() && p.State == PositionLiquidated:
	case p.HasDebt():
		p.State = PositionActive
	case p.State == PositionActive, p.State == PositionLiquidated:
		p.State = PositionRepaid
	}
}
