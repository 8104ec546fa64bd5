package custody

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Request/reply subjects served by the external custody and token
// services.
const (
	SubjectAssetPull = "synth.custody.pull"
	SubjectAssetPush = "synth.custody.push"
	SubjectTokenMint = "synth.token.mint"
	SubjectTokenPull = "synth.token.pull"
	SubjectTokenBurn = "synth.token.burn"
)

const requestTimeout = 5 * time.Second

// transferRequest is the wire format for custody and token operations.
// Amounts are decimal strings in 1e18 scale.
type transferRequest struct {
	Asset  string    `json:"asset,omitempty"`
	User   uuid.UUID `json:"user,omitempty"`
	Amount string    `json:"amount"`
}

type transferReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// AssetClient implements engine.AssetTransfer over NATS request/reply to
// the external custody service.
type AssetClient struct {
	nc *nats.Conn
}

func NewAssetClient(nc *nats.Conn) *AssetClient {
	return &AssetClient{nc: nc}
}

func (c *AssetClient) Pull(ctx context.Context, asset string, user uuid.UUID, amount *big.Int) error {
	return request(ctx, c.nc, SubjectAssetPull, transferRequest{Asset: asset, User: user, Amount: amount.String()})
}

func (c *AssetClient) Push(ctx context.Context, asset string, user uuid.UUID, amount *big.Int) error {
	return request(ctx, c.nc, SubjectAssetPush, transferRequest{Asset: asset, User: user, Amount: amount.String()})
}

// TokenClient implements engine.DebtToken over NATS request/reply to the
// external token service.
type TokenClient struct {
	nc *nats.Conn
}

func NewTokenClient(nc *nats.Conn) *TokenClient {
	return &TokenClient{nc: nc}
}

func (c *TokenClient) Mint(ctx context.Context, user uuid.UUID, amount *big.Int) error {
	return request(ctx, c.nc, SubjectTokenMint, transferRequest{User: user, Amount: amount.String()})
}

func (c *TokenClient) Pull(ctx context.Context, user uuid.UUID, amount *big.Int) error {
	return request(ctx, c.nc, SubjectTokenPull, transferRequest{User: user, Amount: amount.String()})
}

func (c *TokenClient) Burn(ctx context.Context, amount *big.Int) error {
	return request(ctx, c.nc, SubjectTokenBurn, transferRequest{Amount: amount.String()})
}

func request(ctx context.Context, nc *nats.Conn, subject string, req transferRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	reqCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, requestTimeout)
		defer cancel()
	}

	msg, err := nc.RequestWithContext(reqCtx, subject, data)
	if err != nil {
		return fmt.Errorf("%s: %w", subject, err)
	}

	var reply transferReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("%s: malformed reply: %w", subject, err)
	}
	if !reply.OK {
		return fmt.Errorf("%s: %s", subject, reply.Error)
	}
	return nil
}
