package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"synthvault/internal/ledger"
	"synthvault/internal/observability"
	"synthvault/internal/valuation"
)

// CollateralEngine is the single writer over the position ledger. Every
// public operation is all-or-nothing: a ledger checkpoint is taken up front
// and restored whenever a solvency check or an adapter interaction fails.
//
// Ledger mutations and solvency checks always run before adapter
// interactions, so a rejected operation never moves external value.
type CollateralEngine struct {
	ledger     *ledger.PositionLedger
	valuation  *valuation.Valuation
	health     *valuation.HealthCalculator
	collateral AssetTransfer
	debtToken  DebtToken

	busy atomic.Bool

	records   chan<- OperationRecord
	publisher LiquidationPublisher
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

// NewCollateralEngine wires the engine over its ledger, pricing stack and
// external adapters.
func NewCollateralEngine(
	l *ledger.PositionLedger,
	val *valuation.Valuation,
	health *valuation.HealthCalculator,
	collateral AssetTransfer,
	debtToken DebtToken,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *CollateralEngine {
	return &CollateralEngine{
		ledger:     l,
		valuation:  val,
		health:     health,
		collateral: collateral,
		debtToken:  debtToken,
		logger:     logger.With().Str("component", "engine").Logger(),
		metrics:    metrics,
	}
}

// SetRecordSink installs the channel operation records are written to.
// Sends block when the sink is full so the operation log never drops
// entries.
func (e *CollateralEngine) SetRecordSink(ch chan<- OperationRecord) {
	e.records = ch
}

// SetLiquidationPublisher installs the outbound liquidation event sink.
func (e *CollateralEngine) SetLiquidationPublisher(p LiquidationPublisher) {
	e.publisher = p
}

// HealthFactor reports the user's current ratio of risk-adjusted collateral
// value to debt, scaled by 1e18.
func (e *CollateralEngine) HealthFactor(user uuid.UUID) (*big.Int, error) {
	return e.health.HealthFactor(user)
}

// enter flips the reentrancy guard. Adapters that call back into the engine
// while an operation is in flight are rejected immediately rather than
// deadlocked.
func (e *CollateralEngine) enter() error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

func (e *CollateralEngine) leave() {
	e.busy.Store(false)
}

// DepositCollateral credits the user's collateral balance and pulls the
// asset into vault custody.
func (e *CollateralEngine) DepositCollateral(ctx context.Context, user uuid.UUID, asset string, amount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()
	started := time.Now()

	if err := e.depositCollateral(ctx, user, asset, amount); err != nil {
		e.reject(OpDeposit, err)
		return err
	}
	e.commit(ctx, OpDeposit, user, uuid.Nil, asset, amount, started)
	return nil
}

func (e *CollateralEngine) depositCollateral(ctx context.Context, user uuid.UUID, asset string, amount *big.Int) error {
	if err := positiveAmount(amount); err != nil {
		return err
	}
	cp := e.ledger.Checkpoint(user)
	if err := e.ledger.AddCollateral(user, asset, amount); err != nil {
		return err
	}
	if err := e.collateral.Pull(ctx, asset, user, amount); err != nil {
		e.ledger.Restore(cp)
		return fmt.Errorf("%w: pull %s: %v", ErrTransferFailed, asset, err)
	}
	return nil
}

// MintDebt increases the user's debt and mints the synthetic unit to them.
// The mint is rejected when the resulting position would sit below the
// solvency line.
func (e *CollateralEngine) MintDebt(ctx context.Context, user uuid.UUID, amount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()
	started := time.Now()

	if err := e.mintDebt(ctx, user, amount); err != nil {
		e.reject(OpMint, err)
		return err
	}
	e.commit(ctx, OpMint, user, uuid.Nil, "", amount, started)
	return nil
}

func (e *CollateralEngine) mintDebt(ctx context.Context, user uuid.UUID, amount *big.Int) error {
	if err := positiveAmount(amount); err != nil {
		return err
	}
	cp := e.ledger.Checkpoint(user)
	if err := e.ledger.AddDebt(user, amount); err != nil {
		return err
	}
	if err := e.requireSafe(user, cp); err != nil {
		return err
	}
	if err := e.debtToken.Mint(ctx, user, amount); err != nil {
		e.ledger.Restore(cp)
		return fmt.Errorf("%w: %v", ErrMintFailed, err)
	}
	return nil
}

// BurnDebt pulls the synthetic unit back from the user, burns it and
// reduces the user's recorded debt.
func (e *CollateralEngine) BurnDebt(ctx context.Context, user uuid.UUID, amount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()
	started := time.Now()

	if err := e.burnDebt(ctx, user, user, amount); err != nil {
		e.reject(OpBurn, err)
		return err
	}
	e.commit(ctx, OpBurn, user, uuid.Nil, "", amount, started)
	return nil
}

// burnDebt reduces onBehalfOf's debt, paid for by payer's tokens. Reducing
// debt can only raise the ratio, but the post-check runs anyway so every
// mutating path leaves through the same gate.
func (e *CollateralEngine) burnDebt(ctx context.Context, payer, onBehalfOf uuid.UUID, amount *big.Int) error {
	if err := positiveAmount(amount); err != nil {
		return err
	}
	cp := e.ledger.Checkpoint(onBehalfOf)
	if err := e.ledger.SubDebt(onBehalfOf, amount); err != nil {
		return err
	}
	if err := e.requireSafe(onBehalfOf, cp); err != nil {
		return err
	}
	if err := e.debtToken.Pull(ctx, payer, amount); err != nil {
		e.ledger.Restore(cp)
		return fmt.Errorf("%w: debt token pull: %v", ErrTransferFailed, err)
	}
	if err := e.debtToken.Burn(ctx, amount); err != nil {
		e.ledger.Restore(cp)
		return fmt.Errorf("%w: debt token burn: %v", ErrTransferFailed, err)
	}
	return nil
}

// RedeemCollateral debits the user's collateral balance and pushes the
// asset back to them, provided the position stays above the solvency line.
func (e *CollateralEngine) RedeemCollateral(ctx context.Context, user uuid.UUID, asset string, amount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()
	started := time.Now()

	if err := e.redeemCollateral(ctx, user, asset, amount); err != nil {
		e.reject(OpRedeem, err)
		return err
	}
	e.commit(ctx, OpRedeem, user, uuid.Nil, asset, amount, started)
	return nil
}

func (e *CollateralEngine) redeemCollateral(ctx context.Context, user uuid.UUID, asset string, amount *big.Int) error {
	if err := positiveAmount(amount); err != nil {
		return err
	}
	cp := e.ledger.Checkpoint(user)
	if err := e.ledger.SubCollateral(user, asset, amount); err != nil {
		return err
	}
	if err := e.requireSafe(user, cp); err != nil {
		return err
	}
	if err := e.collateral.Push(ctx, asset, user, amount); err != nil {
		e.ledger.Restore(cp)
		return fmt.Errorf("%w: push %s: %v", ErrTransferFailed, asset, err)
	}
	return nil
}

// DepositAndMint deposits collateral and mints debt as one atomic
// operation. Both ledger mutations and the solvency check complete before
// any adapter is touched, so a rejection never moves external value.
func (e *CollateralEngine) DepositAndMint(ctx context.Context, user uuid.UUID, asset string, collateralAmount, debtAmount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()
	started := time.Now()

	err := func() error {
		if err := positiveAmount(collateralAmount); err != nil {
			return err
		}
		if err := positiveAmount(debtAmount); err != nil {
			return err
		}
		cp := e.ledger.Checkpoint(user)
		if err := e.ledger.AddCollateral(user, asset, collateralAmount); err != nil {
			return err
		}
		if err := e.ledger.AddDebt(user, debtAmount); err != nil {
			e.ledger.Restore(cp)
			return err
		}
		if err := e.requireSafe(user, cp); err != nil {
			return err
		}
		if err := e.collateral.Pull(ctx, asset, user, collateralAmount); err != nil {
			e.ledger.Restore(cp)
			return fmt.Errorf("%w: pull %s: %v", ErrTransferFailed, asset, err)
		}
		if err := e.debtToken.Mint(ctx, user, debtAmount); err != nil {
			e.ledger.Restore(cp)
			// The collateral pull already happened; hand it back so the
			// user is whole.
			if pushErr := e.collateral.Push(ctx, asset, user, collateralAmount); pushErr != nil {
				e.logger.Error().
					Str("user", user.String()).
					Str("asset", asset).
					Str("amount", collateralAmount.String()).
					Err(pushErr).
					Msg("compensating collateral push failed after mint failure")
			}
			return fmt.Errorf("%w: %v", ErrMintFailed, err)
		}
		return nil
	}()
	if err != nil {
		e.reject(OpMint, err)
		return err
	}
	e.commit(ctx, OpDeposit, user, uuid.Nil, asset, collateralAmount, started)
	e.commit(ctx, OpMint, user, uuid.Nil, "", debtAmount, started)
	return nil
}

// RedeemForBurn burns debt and redeems collateral as one atomic operation.
func (e *CollateralEngine) RedeemForBurn(ctx context.Context, user uuid.UUID, asset string, collateralAmount, debtAmount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()
	started := time.Now()

	err := func() error {
		if err := positiveAmount(collateralAmount); err != nil {
			return err
		}
		if err := positiveAmount(debtAmount); err != nil {
			return err
		}
		cp := e.ledger.Checkpoint(user)
		if err := e.ledger.SubDebt(user, debtAmount); err != nil {
			return err
		}
		if err := e.ledger.SubCollateral(user, asset, collateralAmount); err != nil {
			e.ledger.Restore(cp)
			return err
		}
		if err := e.requireSafe(user, cp); err != nil {
			return err
		}
		if err := e.debtToken.Pull(ctx, user, debtAmount); err != nil {
			e.ledger.Restore(cp)
			return fmt.Errorf("%w: debt token pull: %v", ErrTransferFailed, err)
		}
		if err := e.debtToken.Burn(ctx, debtAmount); err != nil {
			e.ledger.Restore(cp)
			return fmt.Errorf("%w: debt token burn: %v", ErrTransferFailed, err)
		}
		if err := e.collateral.Push(ctx, asset, user, collateralAmount); err != nil {
			e.ledger.Restore(cp)
			return fmt.Errorf("%w: push %s: %v", ErrTransferFailed, asset, err)
		}
		return nil
	}()
	if err != nil {
		e.reject(OpRedeem, err)
		return err
	}
	e.commit(ctx, OpBurn, user, uuid.Nil, "", debtAmount, started)
	e.commit(ctx, OpRedeem, user, uuid.Nil, asset, collateralAmount, started)
	return nil
}

// Liquidate lets the liquidator repay debtToCover of the target's debt in
// exchange for the equivalent collateral value plus a 10% bonus, seized
// from the target. The target must start below the solvency line and must
// end strictly healthier than it started. Returns the total collateral
// seized.
func (e *CollateralEngine) Liquidate(ctx context.Context, liquidator, target uuid.UUID, asset string, debtToCover *big.Int) (*big.Int, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.leave()
	started := time.Now()

	seized, err := e.liquidate(ctx, liquidator, target, asset, debtToCover)
	if err != nil {
		e.reject(OpLiquidate, err)
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.LiquidationsExecuted.Inc()
	}
	e.commit(ctx, OpLiquidate, target, liquidator, asset, debtToCover, started)
	return seized, nil
}

func (e *CollateralEngine) liquidate(ctx context.Context, liquidator, target uuid.UUID, asset string, debtToCover *big.Int) (*big.Int, error) {
	if err := positiveAmount(debtToCover); err != nil {
		return nil, err
	}
	startSafe, startHF, err := e.health.IsSafe(target)
	if err != nil {
		return nil, err
	}
	if startSafe {
		return nil, fmt.Errorf("%w: health factor %s", ErrHealthFactorOk, startHF)
	}

	base, err := e.valuation.AmountFor(asset, debtToCover)
	if err != nil {
		return nil, err
	}
	bonus := new(big.Int).Mul(base, big.NewInt(valuation.LiquidationBonus))
	bonus.Quo(bonus, big.NewInt(valuation.LiquidationPrecision))
	seized := new(big.Int).Add(base, bonus)

	cp := e.ledger.Checkpoint(target, liquidator)
	if err := e.ledger.SubCollateral(target, asset, seized); err != nil {
		return nil, err
	}
	if err := e.ledger.SubDebt(target, debtToCover); err != nil {
		e.ledger.Restore(cp)
		return nil, err
	}

	endHF, err := e.health.HealthFactor(target)
	if err != nil {
		e.ledger.Restore(cp)
		return nil, err
	}
	if endHF.Cmp(startHF) <= 0 {
		e.ledger.Restore(cp)
		return nil, fmt.Errorf("%w: %s -> %s", ErrHealthFactorNotImproved, startHF, endHF)
	}
	if err := e.requireSafe(liquidator, cp); err != nil {
		return nil, err
	}

	if err := e.debtToken.Pull(ctx, liquidator, debtToCover); err != nil {
		e.ledger.Restore(cp)
		return nil, fmt.Errorf("%w: debt token pull: %v", ErrTransferFailed, err)
	}
	if err := e.debtToken.Burn(ctx, debtToCover); err != nil {
		e.ledger.Restore(cp)
		return nil, fmt.Errorf("%w: debt token burn: %v", ErrTransferFailed, err)
	}
	if err := e.collateral.Push(ctx, asset, liquidator, seized); err != nil {
		e.ledger.Restore(cp)
		return nil, fmt.Errorf("%w: push %s: %v", ErrTransferFailed, asset, err)
	}

	if e.publisher != nil {
		e.publisher.Publish(LiquidationEvent{
			ID:               uuid.New(),
			Liquidator:       liquidator,
			Target:           target,
			Asset:            asset,
			DebtCovered:      debtToCover.String(),
			CollateralSeized: seized.String(),
			ExecutedAt:       time.Now().UTC(),
		})
	}
	e.logger.Info().
		Str("liquidator", liquidator.String()).
		Str("target", target.String()).
		Str("asset", asset).
		Str("debt_covered", debtToCover.String()).
		Str("seized", seized.String()).
		Str("health_factor_before", startHF.String()).
		Str("health_factor_after", endHF.String()).
		Msg("liquidation executed")
	return seized, nil
}

// requireSafe verifies the user's position sits at or above the solvency
// line, restoring the checkpoint otherwise.
func (e *CollateralEngine) requireSafe(user uuid.UUID, cp *ledger.Checkpoint) error {
	safe, hf, err := e.health.IsSafe(user)
	if err != nil {
		e.ledger.Restore(cp)
		return err
	}
	if !safe {
		e.ledger.Restore(cp)
		return fmt.Errorf("%w: health factor %s", ErrHealthFactorBroken, hf)
	}
	return nil
}

// commit emits the operation record, metrics and log line for one applied
// operation.
func (e *CollateralEngine) commit(ctx context.Context, kind string, user, counterparty uuid.UUID, asset string, amount *big.Int, started time.Time) {
	hf := "unknown"
	if v, err := e.health.HealthFactor(user); err == nil {
		hf = v.String()
	}
	if e.records != nil {
		select {
		case e.records <- OperationRecord{
			ID:           uuid.New(),
			Kind:         kind,
			User:         user,
			Counterparty: counterparty,
			Asset:        asset,
			Amount:       amount.String(),
			HealthFactor: hf,
			AppliedAt:    time.Now().UTC(),
		}:
		case <-ctx.Done():
		}
	}
	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues(kind).Inc()
		e.metrics.OpDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
	}
	e.logger.Debug().
		Str("op", kind).
		Str("user", user.String()).
		Str("asset", asset).
		Str("amount", amount.String()).
		Str("health_factor", hf).
		Msg("operation applied")
}

func (e *CollateralEngine) reject(kind string, err error) {
	if e.metrics != nil {
		e.metrics.OpsRejected.WithLabelValues(kind, rejectReason(err)).Inc()
	}
	e.logger.Debug().Str("op", kind).Err(err).Msg("operation rejected")
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, ledger.ErrUnknownAsset):
		return "unknown_asset"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, valuation.ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, ErrHealthFactorBroken):
		return "health_factor_broken"
	case errors.Is(err, ErrHealthFactorOk):
		return "health_factor_ok"
	case errors.Is(err, ErrHealthFactorNotImproved):
		return "health_factor_not_improved"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrMintFailed):
		return "mint_failed"
	default:
		return "other"
	}
}

func positiveAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	return nil
}
