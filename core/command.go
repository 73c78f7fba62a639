package core

import (
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

// CommandKind is a custody instruction the engine emits. The engine never
// moves tokens itself; the host applies commands in the same unit of work.
type CommandKind string

const (
	// Deposit takes a presented bucket into the protocol's custody.
	CommandDeposit CommandKind = "deposit"
	// Withdraw releases underlying from custody to the caller.
	CommandWithdraw CommandKind = "withdraw"

	CommandMint         CommandKind = "mint"
	CommandBurn         CommandKind = "burn"
	CommandMintPosition CommandKind = "mint_position"
	CommandBurnPosition CommandKind = "burn_position"

	// Transfer hands existing tokens (usually pool shares) to the caller.
	CommandTransfer CommandKind = "transfer"
)

type Command struct {
	Kind       CommandKind     `json:"kind"`
	Asset      string          `json:"asset"`
	Amount     decimal.Decimal `json:"amount"`
	PositionId uuid.UUID       `json:"positionId,omitempty"`
}

func NewCommand(kind CommandKind, asset string, amount decimal.Decimal) Command {
	return Command{Kind: kind, Asset: asset, Amount: amount}
}

func NewPositionCommand(kind CommandKind, positionId uuid.UUID) Command {
	return Command{Kind: kind, Amount: ONE, PositionId: positionId}
}
