package core

import (
	"context"
	"database/sql/driver"
	"encoding/json"

	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type ActionType uint8

const (
	ActionSupply ActionType = iota + 1
	ActionWithdraw
	ActionCreatePosition
	ActionExtendBorrow
	ActionAddCollateral
	ActionWithdrawCollateral
	ActionRepay
	ActionLiquidation
	ActionFlashLoan
	ActionWithdrawInsurance
	ActionClosePosition
	ActionNewPool
)

func (a ActionType) String() string {
	switch a {
	case ActionSupply:
		return "Supply"
	case ActionWithdraw:
		return "Withdraw"
	case ActionCreatePosition:
		return "CreatePosition"
	case ActionExtendBorrow:
		return "ExtendBorrow"
	case ActionAddCollateral:
		return "AddCollateral"
	case ActionWithdrawCollateral:
		return "WithdrawCollateral"
	case ActionRepay:
		return "Repay"
	case ActionLiquidation:
		return "Liquidation"
	case ActionFlashLoan:
		return "FlashLoan"
	case ActionWithdrawInsurance:
		return "WithdrawInsurance"
	case ActionClosePosition:
		return "ClosePosition"
	case ActionNewPool:
		return "NewPool"
	default:
		return "Unknown"
	}
}

type (
	EventStore interface {
		CreateEvent(ctx context.Context, event *Event) error
		ListEvents(ctx context.Context, protocolId uuid.UUID, action ActionType, createdBeforeAt, limit int64) ([]*Event, error)
	}

	Event struct {
		Id         uuid.UUID   `json:"id"`
		ProtocolId uuid.UUID   `json:"protocolId"`
		PositionId uuid.UUID   `json:"positionId"`
		PoolId     uuid.UUID   `json:"poolId"`
		Action     ActionType  `json:"action"`
		Detail     EventDetail `json:"detail"`
		Epoch      int64       `json:"epoch"`
		CreatedAt  int64       `json:"createdAt"`
	}

	EventDetail struct {
		Asset  string          `json:"asset,omitempty"`
		Amount decimal.Decimal `json:"amount"`
		Shares decimal.Decimal `json:"shares"`

		IsStable bool            `json:"isStable,omitempty"`
		Rate     decimal.Decimal `json:"rate"`
		Fee      decimal.Decimal `json:"fee"`

		Liquidation *LiquidationDetail `json:"liquidation,omitempty"`
	}

	LiquidationDetail struct {
		DebtPrice         decimal.Decimal `json:"debtPrice"`
		CollateralPrice   decimal.Decimal `json:"collateralPrice"`
		DebtToCover       decimal.Decimal `json:"debtToCover"`
		ActualToLiquidate decimal.Decimal `json:"actualToLiquidate"`
		SeizedShares      decimal.Decimal `json:"seizedShares"`
		SeizedUnderlying  decimal.Decimal `json:"seizedUnderlying"`
		PreHealth         decimal.Decimal `json:"preHealth"`
		PostHealth        decimal.Decimal `json:"postHealth"`
	}
)

func NewEvent(clk clock.Clock, protocolId uuid.UUID, action ActionType, poolId, positionId uuid.UUID, epoch int64, detail EventDetail) *Event {
	return &Event{
		Id:         uuid.Must(uuid.NewV4()),
		ProtocolId: protocolId,
		PositionId: positionId,
		PoolId:     poolId,
		Action:     action,
		Detail:     detail,
		Epoch:      epoch,
		CreatedAt:  clk.Now().Unix(),
	}
}

func (j EventDetail) Value() (driver.Value, error) {
	valueString, err := json.Marshal(j)
	return string(valueString), err
}

func (j *EventDetail) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case nil:
		return nil
	default:
		return errors.Errorf("unsupported event detail type %T", value)
	}
	return json.Unmarshal(raw, j)
}

func NewLiquidationDetail(result *LiquidateResult) *LiquidationDetail {
	return &LiquidationDetail{
		DebtPrice:         result.DebtPrice,
		CollateralPrice:   result.CollateralPrice,
		DebtToCover:       result.DebtToCover,
		ActualToLiquidate: result.Plan.ActualToLiquidate,
		SeizedShares:      result.Plan.SeizedShares,
		SeizedUnderlying:  result.Plan.CollateralToSeize,
		PreHealth:         result.LiquidateePreHealth,
		PostHealth:        result.LiquidateePostHealth,
	}
}
