package valuation

import "math/big"

// Fixed-point scaling constants. Internal values (collateral values, debt,
// health factors) carry 18 decimals; oracle feeds report 8 decimals and are
// normalized up by FeedPrecisionGap before any multiplication.
var (
	// Precision is the internal fixed-point scale (1e18).
	Precision = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	// FeedPrecisionGap lifts an 8-decimal feed price to 18 decimals (1e10).
	FeedPrecisionGap = new(big.Int).Exp(big.NewInt(10), big.NewInt(10), nil)

	// MinHealthFactor is the solvency line: a position is safe when its
	// health factor is at or above 1.0 in internal precision.
	MinHealthFactor = new(big.Int).Set(Precision)

	// MaxHealthFactor stands in for the undefined ratio of a debt-free
	// position. Any comparison against MinHealthFactor treats it as safe.
	MaxHealthFactor = new(big.Int).Lsh(big.NewInt(1), 255)
)

// Risk policy constants.
const (
	// LiquidationThreshold is the percentage of raw collateral value that
	// counts toward solvency; the remainder is the safety margin.
	LiquidationThreshold = 50

	// LiquidationBonus is the percentage of seized collateral awarded to a
	// liquidator on top of the covered amount.
	LiquidationBonus = 10

	// LiquidationPrecision is the divisor for the two percentages above.
	LiquidationPrecision = 100
)
