package valuation

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"synthvault/internal/ledger"
)

var (
	// ErrInvalidPrice is returned when the oracle reports a non-positive
	// price. The conversion math divides by the price, so this is checked
	// explicitly instead of being left to big.Int division behavior.
	ErrInvalidPrice = errors.New("valuation: oracle returned non-positive price")
)

// PriceOracle supplies the latest price for a feed reference. Prices are
// signed 8-decimal fixed-point values; staleness checking is the oracle's
// concern, not the engine's.
type PriceOracle interface {
	LatestPrice(feed string) (price *big.Int, updatedAt time.Time, err error)
}

// Valuation converts asset amounts to the common 18-decimal value unit and
// back. Every conversion queries the oracle fresh; nothing is cached here.
type Valuation struct {
	ledger *ledger.PositionLedger
	oracle PriceOracle
}

// New creates a Valuation over the given ledger and oracle.
func New(l *ledger.PositionLedger, oracle PriceOracle) *Valuation {
	return &Valuation{ledger: l, oracle: oracle}
}

// ValueOf returns amount × price(asset), normalized to internal precision:
// value = amount * (price * FeedPrecisionGap) / Precision.
func (v *Valuation) ValueOf(asset string, amount *big.Int) (*big.Int, error) {
	price, err := v.price(asset)
	if err != nil {
		return nil, err
	}

	value := new(big.Int).Mul(price, FeedPrecisionGap)
	value.Mul(value, amount)
	value.Quo(value, Precision)
	return value, nil
}

// AmountFor is the inverse conversion: the asset amount worth the given
// value at the current price. amount = value * Precision / (price * gap).
func (v *Valuation) AmountFor(asset string, value *big.Int) (*big.Int, error) {
	price, err := v.price(asset)
	if err != nil {
		return nil, err
	}

	amount := new(big.Int).Mul(value, Precision)
	amount.Quo(amount, new(big.Int).Mul(price, FeedPrecisionGap))
	return amount, nil
}

// TotalCollateralValue sums the value of every registered asset the user
// holds. Zero balances contribute zero without special-casing.
func (v *Valuation) TotalCollateralValue(user uuid.UUID) (*big.Int, error) {
	total := new(big.Int)

	for _, asset := range v.ledger.Registry().Assets() {
		bal := v.ledger.CollateralBalance(user, asset)
		if bal.Sign() == 0 {
			continue
		}
		value, err := v.ValueOf(asset, bal)
		if err != nil {
			return nil, fmt.Errorf("value %s: %w", asset, err)
		}
		total.Add(total, value)
	}

	return total, nil
}

// AssetPrice returns the validated oracle price for a registered asset, in
// the feed's native 1e8 scale.
func (v *Valuation) AssetPrice(asset string) (*big.Int, error) {
	price, err := v.price(asset)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(price), nil
}

func (v *Valuation) price(asset string) (*big.Int, error) {
	feed, err := v.ledger.Registry().FeedFor(asset)
	if err != nil {
		return nil, err
	}

	price, _, err := v.oracle.LatestPrice(feed)
	if err != nil {
		return nil, fmt.Errorf("oracle query for %s: %w", asset, err)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: feed %s reported %s", ErrInvalidPrice, feed, balString(price))
	}
	return price, nil
}

func balString(b *big.Int) string {
	if b == nil {
		return "<nil>"
	}
	return b.String()
}
