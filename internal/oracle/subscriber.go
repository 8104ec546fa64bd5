package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"synthvault/internal/observability"
)

const (
	// StreamName holds inbound price updates.
	StreamName = "SYNTH_PRICES"
	// SubjectPrefix is the subject filter for price updates; the feed
	// identifier rides in the last token.
	SubjectPrefix = "synth.prices.>"
	consumerName  = "vault-prices"
)

// PriceUpdate is the wire format of one price quote. Price is a decimal
// string in the feed's native 1e8 scale.
type PriceUpdate struct {
	Feed      string    `json:"feed"`
	Price     string    `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscriber consumes price updates from NATS JetStream and keeps the Feed
// current.
type Subscriber struct {
	js       jetstream.JetStream
	feed     *Feed
	logger   zerolog.Logger
	metrics  *observability.Metrics
	consumer jetstream.ConsumeContext
}

func NewSubscriber(js jetstream.JetStream, feed *Feed, logger zerolog.Logger, metrics *observability.Metrics) *Subscriber {
	return &Subscriber{
		js:      js,
		feed:    feed,
		logger:  logger.With().Str("component", "oracle").Logger(),
		metrics: metrics,
	}
}

// EnsureStream creates the price stream if it does not exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"synth.prices.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	return nil
}

// Subscribe creates a durable JetStream consumer over the price subjects.
// New quotes replace older ones per feed, so redeliveries are harmless.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: SubjectPrefix,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverLastPerSubjectPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		s.handle(msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", consumerName, err)
	}
	s.consumer = cc
	s.logger.Info().Str("subject", SubjectPrefix).Msg("subscribed to price feed")
	return nil
}

func (s *Subscriber) handle(msg jetstream.Msg) {
	var upd PriceUpdate
	if err := json.Unmarshal(msg.Data(), &upd); err != nil {
		s.logger.Warn().Str("subject", msg.Subject()).Err(err).Msg("malformed price update")
		s.metrics.PriceFetchErrors.WithLabelValues(msg.Subject()).Inc()
		msg.Ack()
		return
	}
	price, ok := new(big.Int).SetString(upd.Price, 10)
	if !ok || price.Sign() <= 0 {
		s.logger.Warn().Str("feed", upd.Feed).Str("price", upd.Price).Msg("rejected non-positive price")
		s.metrics.PriceFetchErrors.WithLabelValues(upd.Feed).Inc()
		msg.Ack()
		return
	}
	at := upd.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}
	s.feed.Update(upd.Feed, price, at)
	s.metrics.PriceUpdates.WithLabelValues(upd.Feed).Inc()
	s.metrics.PriceAge.WithLabelValues(upd.Feed).Set(time.Since(at).Seconds())
	msg.Ack()
}

// Stop drains the consumer.
func (s *Subscriber) Stop() {
	if s.consumer != nil {
		s.consumer.Stop()
	}
	s.logger.Info().Msg("price subscriber stopped")
}

// Connect establishes a NATS connection and returns a JetStream context.
func Connect(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
