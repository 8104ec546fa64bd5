package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"synthvault/internal/engine"
	"synthvault/internal/observability"
)

const (
	// StreamName holds outbound liquidation events.
	StreamName = "SYNTH_EVENTS"
	// Subject carries executed liquidations.
	Subject = "synth.liquidations.executed"
)

// Publisher fans executed liquidations out to NATS JetStream. The engine
// hands events over a buffered channel and never blocks; a full channel
// drops the event, downstream consumers can recover from the operation log.
type Publisher struct {
	js      jetstream.JetStream
	input   chan engine.LiquidationEvent
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewPublisher(js jetstream.JetStream, buffer int, logger zerolog.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		js:      js,
		input:   make(chan engine.LiquidationEvent, buffer),
		logger:  logger.With().Str("component", "events").Logger(),
		metrics: metrics,
	}
}

// Publish queues an event for the outbound loop.
func (p *Publisher) Publish(evt engine.LiquidationEvent) {
	select {
	case p.input <- evt:
	default:
		p.metrics.LiquidationPublishDrops.Inc()
		p.logger.Warn().Str("id", evt.ID.String()).Msg("publish channel full, event dropped")
	}
}

// Run drains the queue until the context is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-p.input:
			if err := p.publish(ctx, evt); err != nil {
				p.logger.Warn().Str("id", evt.ID.String()).Err(err).Msg("outbound publish failed")
				continue
			}
			p.metrics.LiquidationsPublished.Inc()
		}
	}
}

func (p *Publisher) publish(ctx context.Context, evt engine.LiquidationEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = p.js.Publish(ctx, Subject, data)
	return err
}

// EnsureStream creates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"synth.liquidations.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
