package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"synthvault/internal/engine"
	"synthvault/internal/ledger"
	"synthvault/internal/valuation"
)

// Request/reply subjects for state-mutating vault operations.
const (
	SubjectDeposit     = "synth.ops.deposit"
	SubjectMint        = "synth.ops.mint"
	SubjectBurn        = "synth.ops.burn"
	SubjectRedeem      = "synth.ops.redeem"
	SubjectDepositMint = "synth.ops.deposit_mint"
	SubjectRedeemBurn  = "synth.ops.redeem_burn"
	SubjectLiquidate   = "synth.ops.liquidate"

	queueGroup = "synthvault-ops"
)

// OperationRequest is the wire format for every operation subject. Amounts
// are decimal strings in 1e18 scale; each subject reads the fields it needs.
type OperationRequest struct {
	User             uuid.UUID `json:"user"`
	Asset            string    `json:"asset,omitempty"`
	Amount           string    `json:"amount,omitempty"`
	CollateralAmount string    `json:"collateral_amount,omitempty"`
	DebtAmount       string    `json:"debt_amount,omitempty"`
	Liquidator       uuid.UUID `json:"liquidator,omitempty"`
	Target           uuid.UUID `json:"target,omitempty"`
	DebtToCover      string    `json:"debt_to_cover,omitempty"`
}

// OperationReply reports the outcome of one operation.
type OperationReply struct {
	OK               bool   `json:"ok"`
	Error            string `json:"error,omitempty"`
	ErrorKind        string `json:"error_kind,omitempty"`
	HealthFactor     string `json:"health_factor,omitempty"`
	CollateralSeized string `json:"collateral_seized,omitempty"`
}

// Responder is the write-side ingress: it consumes operation requests over
// NATS request/reply and applies them through the engine. Requests are
// handled by a single loop, so concurrent callers queue up instead of
// tripping the engine's reentrancy guard.
type Responder struct {
	nc     *nats.Conn
	engine *engine.CollateralEngine
	inbox  chan *nats.Msg
	subs   []*nats.Subscription
	logger zerolog.Logger
}

func NewResponder(nc *nats.Conn, eng *engine.CollateralEngine, buffer int, logger zerolog.Logger) *Responder {
	return &Responder{
		nc:     nc,
		engine: eng,
		inbox:  make(chan *nats.Msg, buffer),
		logger: logger.With().Str("component", "commands").Logger(),
	}
}

// Subscribe registers the operation subjects. Requests that arrive while
// the inbox is full are rejected immediately so callers time out fast.
func (r *Responder) Subscribe() error {
	subjects := []string{
		SubjectDeposit, SubjectMint, SubjectBurn, SubjectRedeem,
		SubjectDepositMint, SubjectRedeemBurn, SubjectLiquidate,
	}
	for _, subject := range subjects {
		sub, err := r.nc.QueueSubscribe(subject, queueGroup, func(msg *nats.Msg) {
			select {
			case r.inbox <- msg:
			default:
				r.respond(msg, OperationReply{OK: false, Error: "server busy", ErrorKind: "busy"})
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		r.subs = append(r.subs, sub)
	}
	r.logger.Info().Int("subjects", len(subjects)).Msg("operation responder subscribed")
	return nil
}

// Run applies queued requests until the context is cancelled.
func (r *Responder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-r.inbox:
			r.handle(ctx, msg)
		}
	}
}

// Stop drains the subscriptions so no new requests arrive.
func (r *Responder) Stop() {
	for _, sub := range r.subs {
		sub.Unsubscribe()
	}
	r.logger.Info().Msg("operation responder stopped")
}

func (r *Responder) handle(ctx context.Context, msg *nats.Msg) {
	var req OperationRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.respond(msg, OperationReply{OK: false, Error: "malformed request", ErrorKind: "malformed"})
		return
	}

	reply := r.apply(ctx, msg.Subject, req)
	r.respond(msg, reply)
}

func (r *Responder) apply(ctx context.Context, subject string, req OperationRequest) OperationReply {
	var (
		seized *big.Int
		err    error
	)

	switch subject {
	case SubjectDeposit:
		amount, perr := parseAmount(req.Amount)
		if perr != nil {
			return malformed(perr)
		}
		err = r.engine.DepositCollateral(ctx, req.User, req.Asset, amount)

	case SubjectMint:
		amount, perr := parseAmount(req.Amount)
		if perr != nil {
			return malformed(perr)
		}
		err = r.engine.MintDebt(ctx, req.User, amount)

	case SubjectBurn:
		amount, perr := parseAmount(req.Amount)
		if perr != nil {
			return malformed(perr)
		}
		err = r.engine.BurnDebt(ctx, req.User, amount)

	case SubjectRedeem:
		amount, perr := parseAmount(req.Amount)
		if perr != nil {
			return malformed(perr)
		}
		err = r.engine.RedeemCollateral(ctx, req.User, req.Asset, amount)

	case SubjectDepositMint:
		collateral, perr := parseAmount(req.CollateralAmount)
		if perr != nil {
			return malformed(perr)
		}
		debt, perr := parseAmount(req.DebtAmount)
		if perr != nil {
			return malformed(perr)
		}
		err = r.engine.DepositAndMint(ctx, req.User, req.Asset, collateral, debt)

	case SubjectRedeemBurn:
		collateral, perr := parseAmount(req.CollateralAmount)
		if perr != nil {
			return malformed(perr)
		}
		debt, perr := parseAmount(req.DebtAmount)
		if perr != nil {
			return malformed(perr)
		}
		err = r.engine.RedeemForBurn(ctx, req.User, req.Asset, collateral, debt)

	case SubjectLiquidate:
		cover, perr := parseAmount(req.DebtToCover)
		if perr != nil {
			return malformed(perr)
		}
		seized, err = r.engine.Liquidate(ctx, req.Liquidator, req.Target, req.Asset, cover)

	default:
		return OperationReply{OK: false, Error: "unknown subject", ErrorKind: "malformed"}
	}

	if err != nil {
		return OperationReply{OK: false, Error: err.Error(), ErrorKind: errorKind(err)}
	}

	reply := OperationReply{OK: true}
	if hf, hfErr := r.engine.HealthFactor(replyUser(subject, req)); hfErr == nil {
		reply.HealthFactor = hf.String()
	}
	if seized != nil {
		reply.CollateralSeized = seized.String()
	}
	return reply
}

func (r *Responder) respond(msg *nats.Msg, reply OperationReply) {
	data, err := json.Marshal(reply)
	if err != nil {
		r.logger.Error().Err(err).Msg("marshal reply")
		return
	}
	if err := msg.Respond(data); err != nil {
		r.logger.Warn().Str("subject", msg.Subject).Err(err).Msg("respond failed")
	}
}

// replyUser is the party whose health factor the reply reports: the target
// for liquidations, the acting user otherwise.
func replyUser(subject string, req OperationRequest) uuid.UUID {
	if subject == SubjectLiquidate {
		return req.Target
	}
	return req.User
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("missing amount")
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	return amount, nil
}

func malformed(err error) OperationReply {
	return OperationReply{OK: false, Error: err.Error(), ErrorKind: "malformed"}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, engine.ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, ledger.ErrUnknownAsset):
		return "unknown_asset"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, valuation.ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, engine.ErrHealthFactorBroken):
		return "health_factor_broken"
	case errors.Is(err, engine.ErrHealthFactorOk):
		return "health_factor_ok"
	case errors.Is(err, engine.ErrHealthFactorNotImproved):
		return "health_factor_not_improved"
	case errors.Is(err, engine.ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, engine.ErrMintFailed):
		return "mint_failed"
	case errors.Is(err, engine.ErrReentrantCall):
		return "reentrant_call"
	default:
		return "rejected"
	}
}
