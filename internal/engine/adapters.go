package engine

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// AssetTransfer moves collateral units between user custody and the vault.
// Implementations are expected to be atomic per call: either the full amount
// moves or an error is returned and nothing moved.
type AssetTransfer interface {
	// Pull moves amount of asset from the user into vault custody.
	Pull(ctx context.Context, asset string, user uuid.UUID, amount *big.Int) error
	// Push moves amount of asset from vault custody to the user.
	Push(ctx context.Context, asset string, user uuid.UUID, amount *big.Int) error
}

// DebtToken manages the external supply of the synthetic debt unit.
type DebtToken interface {
	// Mint creates amount of debt tokens held by the user.
	Mint(ctx context.Context, user uuid.UUID, amount *big.Int) error
	// Pull moves amount of debt tokens from the user into vault custody.
	Pull(ctx context.Context, user uuid.UUID, amount *big.Int) error
	// Burn destroys amount of debt tokens held in vault custody.
	Burn(ctx context.Context, amount *big.Int) error
}

// OperationRecord is the durable trace of one applied engine operation.
// Records are handed to the persistence layer over a channel; the engine
// never blocks on the database directly.
type OperationRecord struct {
	ID           uuid.UUID
	Kind         string
	User         uuid.UUID
	Counterparty uuid.UUID
	Asset        string
	Amount       string
	HealthFactor string
	AppliedAt    time.Time
}

// Operation kinds as written into the operation log.
const (
	OpDeposit   = "deposit"
	OpMint      = "mint"
	OpBurn      = "burn"
	OpRedeem    = "redeem"
	OpLiquidate = "liquidate"
)

// LiquidationEvent describes one executed liquidation for downstream
// consumers.
type LiquidationEvent struct {
	ID               uuid.UUID `json:"id"`
	Liquidator       uuid.UUID `json:"liquidator"`
	Target           uuid.UUID `json:"target"`
	Asset            string    `json:"asset"`
	DebtCovered      string    `json:"debt_covered"`
	CollateralSeized string    `json:"collateral_seized"`
	ExecutedAt       time.Time `json:"executed_at"`
}

// LiquidationPublisher fans executed liquidations out to interested
// consumers. Publish must not block the engine.
type LiquidationPublisher interface {
	Publish(evt LiquidationEvent)
}
