package query

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"synthvault/internal/ledger"
	"synthvault/internal/persistence"
	"synthvault/internal/valuation"
)

// QueryService provides read-only access to positions, pricing and the
// operation log. Position data is served from the live ledger rather than
// a projection so responses are never stale.
type QueryService struct {
	ledger    *ledger.PositionLedger
	valuation *valuation.Valuation
	health    *valuation.HealthCalculator
	oplog     *persistence.OperationLogWriter
}

func NewQueryService(
	l *ledger.PositionLedger,
	val *valuation.Valuation,
	health *valuation.HealthCalculator,
	oplog *persistence.OperationLogWriter,
) *QueryService {
	return &QueryService{
		ledger:    l,
		valuation: val,
		health:    health,
		oplog:     oplog,
	}
}

// GetPosition returns the user's full position with per-asset values and
// the current health factor.
func (qs *QueryService) GetPosition(ctx context.Context, userID uuid.UUID) (*PositionResponse, error) {
	resp := &PositionResponse{UserID: userID}

	for _, asset := range qs.ledger.Registry().Assets() {
		bal := qs.ledger.CollateralBalance(userID, asset)
		if bal.Sign() == 0 {
			continue
		}
		value, err := qs.valuation.ValueOf(asset, bal)
		if err != nil {
			return nil, fmt.Errorf("value %s: %w", asset, err)
		}
		resp.Collateral = append(resp.Collateral, CollateralBalance{
			Asset:   asset,
			Balance: bal.String(),
			Value:   value.String(),
		})
	}

	totalValue, err := qs.valuation.TotalCollateralValue(userID)
	if err != nil {
		return nil, err
	}
	resp.CollateralValue = totalValue.String()
	resp.Debt = qs.ledger.DebtBalance(userID).String()

	safe, hf, err := qs.health.IsSafe(userID)
	if err != nil {
		return nil, err
	}
	resp.HealthFactor = hf.String()
	resp.Safe = safe
	return resp, nil
}

// ListAssets returns the registered collateral assets with their feeds and
// latest prices. Assets without a price yet omit the price field.
func (qs *QueryService) ListAssets(ctx context.Context) ([]AssetResponse, error) {
	reg := qs.ledger.Registry()
	out := make([]AssetResponse, 0, len(reg.Assets()))
	for _, asset := range reg.Assets() {
		feed, err := reg.FeedFor(asset)
		if err != nil {
			return nil, err
		}
		resp := AssetResponse{Asset: asset, Feed: feed}
		if price, err := qs.valuation.AssetPrice(asset); err == nil {
			resp.Price = price.String()
		}
		out = append(out, resp)
	}
	return out, nil
}

// GetOperations returns the most recent operations touching a user, newest
// first.
func (qs *QueryService) GetOperations(ctx context.Context, userID uuid.UUID, limit int) ([]OperationResponse, error) {
	if qs.oplog == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := qs.oplog.LoadRecent(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]OperationResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, OperationResponse{
			ID:           r.ID,
			Kind:         r.Kind,
			UserID:       r.User,
			Counterparty: r.Counterparty,
			Asset:        r.Asset,
			Amount:       r.Amount,
			HealthFactor: r.HealthFactor,
			AppliedAt:    r.AppliedAt,
		})
	}
	return out, nil
}
