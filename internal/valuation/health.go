package valuation

import (
	"math/big"

	"github.com/google/uuid"

	"synthvault/internal/ledger"
)

// HealthCalculator derives the single solvency score of a position from the
// ledger and valuation. A ratio below MinHealthFactor marks the position as
// liquidatable; at or above it the position is safe. Exactly 1.0 is safe,
// the eligibility comparison is strictly less-than.
type HealthCalculator struct {
	ledger    *ledger.PositionLedger
	valuation *Valuation
}

// NewHealthCalculator creates a calculator over the given ledger and valuation.
func NewHealthCalculator(l *ledger.PositionLedger, v *Valuation) *HealthCalculator {
	return &HealthCalculator{ledger: l, valuation: v}
}

// HealthFactor returns (collateralValue × threshold / 100) × Precision / debt.
// A debt-free position has no defined ratio by direct division; it reports
// MaxHealthFactor so a depositor who never minted is always safe.
func (h *HealthCalculator) HealthFactor(user uuid.UUID) (*big.Int, error) {
	debt := h.ledger.DebtBalance(user)
	if debt.Sign() == 0 {
		return new(big.Int).Set(MaxHealthFactor), nil
	}

	collateralValue, err := h.valuation.TotalCollateralValue(user)
	if err != nil {
		return nil, err
	}

	adjusted := new(big.Int).Mul(collateralValue, big.NewInt(LiquidationThreshold))
	adjusted.Quo(adjusted, big.NewInt(LiquidationPrecision))

	hf := adjusted.Mul(adjusted, Precision)
	hf.Quo(hf, debt)
	return hf, nil
}

// IsSafe reports whether the user's ratio clears the solvency line.
func (h *HealthCalculator) IsSafe(user uuid.UUID) (bool, *big.Int, error) {
	hf, err := h.HealthFactor(user)
	if err != nil {
		return false, nil, err
	}
	return hf.Cmp(MinHealthFactor) >= 0, hf, nil
}
