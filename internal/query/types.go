package query

import (
	"time"

	"github.com/google/uuid"
)

// PositionResponse is one user's full position for API queries. Amounts are
// decimal strings in 1e18 scale.
type PositionResponse struct {
	UserID          uuid.UUID           `json:"user_id"`
	Collateral      []CollateralBalance `json:"collateral"`
	CollateralValue string              `json:"collateral_value"`
	Debt            string              `json:"debt"`
	HealthFactor    string              `json:"health_factor"`
	Safe            bool                `json:"safe"`
}

// CollateralBalance is one asset's balance within a position.
type CollateralBalance struct {
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
	Value   string `json:"value"`
}

// AssetResponse describes one registered collateral asset.
type AssetResponse struct {
	Asset string `json:"asset"`
	Feed  string `json:"feed"`
	Price string `json:"price,omitempty"`
}

// OperationResponse is one operation-log row for API queries.
type OperationResponse struct {
	ID           uuid.UUID `json:"id"`
	Kind         string    `json:"kind"`
	UserID       uuid.UUID `json:"user_id"`
	Counterparty uuid.UUID `json:"counterparty,omitempty"`
	Asset        string    `json:"asset,omitempty"`
	Amount       string    `json:"amount"`
	HealthFactor string    `json:"health_factor"`
	AppliedAt    time.Time `json:"applied_at"`
}
