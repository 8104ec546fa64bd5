package engine

import "errors"

var (
	// ErrZeroAmount rejects zero or negative amount arguments before any
	// state is touched.
	ErrZeroAmount = errors.New("engine: amount must be positive")

	// ErrTransferFailed surfaces a failed pull/push on the asset transfer
	// or debt token adapter. The enclosing operation is unwound.
	ErrTransferFailed = errors.New("engine: transfer failed")

	// ErrMintFailed surfaces a failed debt token mint.
	ErrMintFailed = errors.New("engine: debt token mint failed")

	// ErrHealthFactorBroken rejects an operation that would leave the
	// caller's position below the solvency line. The wrapped message
	// carries the offending ratio.
	ErrHealthFactorBroken = errors.New("engine: health factor below minimum")

	// ErrHealthFactorOk rejects a liquidation attempted against a position
	// that is not eligible (ratio at or above the line).
	ErrHealthFactorOk = errors.New("engine: target health factor is not below minimum")

	// ErrHealthFactorNotImproved rejects a liquidation that did not
	// strictly improve the target's ratio.
	ErrHealthFactorNotImproved = errors.New("engine: liquidation did not improve target health factor")

	// ErrReentrantCall rejects a nested call into the engine while another
	// state-mutating operation is still in flight.
	ErrReentrantCall = errors.New("engine: reentrant call")
)
