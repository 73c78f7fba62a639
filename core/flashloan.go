package core

import (
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

// FlashLoan is the marker handed out by BorrowFlashloan. A transaction cannot
// commit while one is outstanding.
type FlashLoan struct {
	Id     uuid.UUID       `json:"id"`
	PoolId uuid.UUID       `json:"poolId"`
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
	Fee    decimal.Decimal `json:"fee"`
}

func NewFlashLoan(pool *Pool, amount decimal.Decimal) *FlashLoan {
	return &FlashLoan{
		Id:     uuid.Must(uuid.NewV4()),
		PoolId: pool.Id,
		Asset:  pool.Asset,
		Amount: amount,
		Fee:    amount.Mul(pool.FlashloanFeeRatio),
	}
}

// Total is what the pool expects back, rounded up to its divisibility.
func (f *FlashLoan) Total(divisibility int32) decimal.Decimal {
	return f.Amount.Add(f.Fee).RoundCeil(divisibility)
}
