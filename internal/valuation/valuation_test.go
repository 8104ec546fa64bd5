package valuation_test

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"

	"synthvault/internal/ledger"
	"synthvault/internal/valuation"
)

// staticOracle serves fixed prices from a map, keyed by feed reference.
type staticOracle map[string]*big.Int

func (o staticOracle) LatestPrice(feed string) (*big.Int, time.Time, error) {
	price, ok := o[feed]
	if !ok {
		return nil, time.Time{}, errors.New("no such feed")
	}
	return price, time.Now(), nil
}

// usd returns an 8-decimal feed price for a whole-dollar amount.
func usd(dollars int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(dollars), big.NewInt(100_000_000))
}

// wad returns n scaled to 18 decimals.
func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), valuation.Precision)
}

func newTestValuation(t *testing.T, prices staticOracle) (*ledger.PositionLedger, *valuation.Valuation) {
	t.Helper()
	reg, err := ledger.NewRegistry(
		[]string{"WETH", "WBTC"},
		[]string{"ETH-USD", "BTC-USD"},
	)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	l := ledger.NewPositionLedger(reg)
	return l, valuation.New(l, prices)
}

// ============================================================================
// Test: conversions
// ============================================================================

func TestValueOf(t *testing.T) {
	_, val := newTestValuation(t, staticOracle{"ETH-USD": usd(2000)})

	// 1 WETH at $2000 is worth 2000 value units.
	got, err := val.ValueOf("WETH", wad(1))
	if err != nil {
		t.Fatalf("ValueOf: %v", err)
	}
	if got.Cmp(wad(2000)) != 0 {
		t.Errorf("got %s, want %s", got, wad(2000))
	}
}

func TestAmountFor(t *testing.T) {
	_, val := newTestValuation(t, staticOracle{"ETH-USD": usd(2000)})

	// $1000 of value buys 0.5 WETH at $2000.
	got, err := val.AmountFor("WETH", wad(1000))
	if err != nil {
		t.Fatalf("AmountFor: %v", err)
	}
	half := new(big.Int).Quo(wad(1), big.NewInt(2))
	if got.Cmp(half) != 0 {
		t.Errorf("got %s, want %s", got, half)
	}
}

func TestValueOf_AmountFor_Inverse(t *testing.T) {
	_, val := newTestValuation(t, staticOracle{"ETH-USD": usd(1777)})

	amount := wad(3)
	value, err := val.ValueOf("WETH", amount)
	if err != nil {
		t.Fatalf("ValueOf: %v", err)
	}
	back, err := val.AmountFor("WETH", value)
	if err != nil {
		t.Fatalf("AmountFor: %v", err)
	}
	if back.Cmp(amount) != 0 {
		t.Errorf("round trip drifted: got %s, want %s", back, amount)
	}
}

func TestValueOf_UnknownAsset(t *testing.T) {
	_, val := newTestValuation(t, staticOracle{})
	_, err := val.ValueOf("DOGE", wad(1))
	if !errors.Is(err, ledger.ErrUnknownAsset) {
		t.Errorf("got %v, want ErrUnknownAsset", err)
	}
}

func TestValueOf_InvalidPrice(t *testing.T) {
	for _, price := range []*big.Int{big.NewInt(0), big.NewInt(-1)} {
		_, val := newTestValuation(t, staticOracle{"ETH-USD": price})
		_, err := val.ValueOf("WETH", wad(1))
		if !errors.Is(err, valuation.ErrInvalidPrice) {
			t.Errorf("price %s: got %v, want ErrInvalidPrice", price, err)
		}
	}
}

func TestTotalCollateralValue_MultiAsset(t *testing.T) {
	l, val := newTestValuation(t, staticOracle{
		"ETH-USD": usd(2000),
		"BTC-USD": usd(30_000),
	})
	user := uuid.New()

	if err := l.AddCollateral(user, "WETH", wad(2)); err != nil {
		t.Fatalf("AddCollateral: %v", err)
	}
	if err := l.AddCollateral(user, "WBTC", wad(1)); err != nil {
		t.Fatalf("AddCollateral: %v", err)
	}

	got, err := val.TotalCollateralValue(user)
	if err != nil {
		t.Fatalf("TotalCollateralValue: %v", err)
	}
	if want := wad(34_000); got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

// ============================================================================
// Test: health factor
// ============================================================================

func TestHealthFactor_ZeroDebt(t *testing.T) {
	l, val := newTestValuation(t, staticOracle{"ETH-USD": usd(2000)})
	health := valuation.NewHealthCalculator(l, val)
	user := uuid.New()

	if err := l.AddCollateral(user, "WETH", wad(1)); err != nil {
		t.Fatalf("AddCollateral: %v", err)
	}

	hf, err := health.HealthFactor(user)
	if err != nil {
		t.Fatalf("HealthFactor: %v", err)
	}
	if hf.Cmp(valuation.MaxHealthFactor) != 0 {
		t.Errorf("debt-free position: got %s, want MaxHealthFactor", hf)
	}

	safe, _, err := health.IsSafe(user)
	if err != nil {
		t.Fatalf("IsSafe: %v", err)
	}
	if !safe {
		t.Error("debt-free position should be safe")
	}
}

func TestHealthFactor_Computation(t *testing.T) {
	l, val := newTestValuation(t, staticOracle{"ETH-USD": usd(2000)})
	health := valuation.NewHealthCalculator(l, val)
	user := uuid.New()

	// 1 WETH at $2000, threshold 50% -> $1000 counts. Debt of 500 gives
	// a health factor of exactly 2.0.
	if err := l.AddCollateral(user, "WETH", wad(1)); err != nil {
		t.Fatalf("AddCollateral: %v", err)
	}
	if err := l.AddDebt(user, wad(500)); err != nil {
		t.Fatalf("AddDebt: %v", err)
	}

	hf, err := health.HealthFactor(user)
	if err != nil {
		t.Fatalf("HealthFactor: %v", err)
	}
	if want := wad(2); hf.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", hf, want)
	}
}

func TestHealthFactor_ExactlyOneIsSafe(t *testing.T) {
	l, val := newTestValuation(t, staticOracle{"ETH-USD": usd(2000)})
	health := valuation.NewHealthCalculator(l, val)
	user := uuid.New()

	// Debt equal to the full adjusted collateral value lands exactly on
	// the solvency line.
	if err := l.AddCollateral(user, "WETH", wad(1)); err != nil {
		t.Fatalf("AddCollateral: %v", err)
	}
	if err := l.AddDebt(user, wad(1000)); err != nil {
		t.Fatalf("AddDebt: %v", err)
	}

	safe, hf, err := health.IsSafe(user)
	if err != nil {
		t.Fatalf("IsSafe: %v", err)
	}
	if hf.Cmp(valuation.MinHealthFactor) != 0 {
		t.Fatalf("expected health factor exactly at the line, got %s", hf)
	}
	if !safe {
		t.Error("health factor of exactly 1.0 must be safe")
	}
}

func TestHealthFactor_BelowOneIsUnsafe(t *testing.T) {
	l, val := newTestValuation(t, staticOracle{"ETH-USD": usd(2000)})
	health := valuation.NewHealthCalculator(l, val)
	user := uuid.New()

	if err := l.AddCollateral(user, "WETH", wad(1)); err != nil {
		t.Fatalf("AddCollateral: %v", err)
	}
	if err := l.AddDebt(user, wad(1001)); err != nil {
		t.Fatalf("AddDebt: %v", err)
	}

	safe, _, err := health.IsSafe(user)
	if err != nil {
		t.Fatalf("IsSafe: %v", err)
	}
	if safe {
		t.Error("position below the line should not be safe")
	}
}
