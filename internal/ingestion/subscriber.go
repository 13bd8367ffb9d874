package ingestion

import (
	"EscrowLedger/internal/observability"
	"EscrowLedger/internal/oracle"
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	QuoteStream  = "ESCROW_QUOTES"
	EventsStream = "ESCROW_LEDGER_EVENTS"

	quoteConsumer = "escrow-ledger-quotes"
	streamMaxAge  = 72 * time.Hour
)

// QuoteSink stores accepted quotes. *oracle.MemorySource implements it.
type QuoteSink interface {
	Set(oracle common.Address, q oracle.Quote) bool
}

// Message is the part of a JetStream message the feed handler uses.
type Message interface {
	Subject() string
	Data() []byte
	Ack() error
	Term() error
}

// QuoteSubscriber consumes oracle answers from JetStream into a QuoteSink.
type QuoteSubscriber struct {
	js       jetstream.JetStream
	sink     QuoteSink
	consumer jetstream.ConsumeContext
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewQuoteSubscriber(js jetstream.JetStream, sink QuoteSink, metrics *observability.Metrics, logger zerolog.Logger) *QuoteSubscriber {
	return &QuoteSubscriber{js: js, sink: sink, metrics: metrics, logger: logger}
}

// Subscribe creates the durable consumer and starts delivering messages.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (s *QuoteSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, QuoteStream, jetstream.ConsumerConfig{
		Durable:       quoteConsumer,
		FilterSubject: QuoteSubjectPrefix + ">",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverLastPerSubjectPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", quoteConsumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		s.Handle(msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", quoteConsumer, err)
	}
	s.consumer = cc

	s.logger.Info().Str("stream", QuoteStream).Str("consumer", quoteConsumer).Msg("subscribed to quote feed")
	return nil
}

// Handle applies one quote message. Malformed messages are terminated so
// they are not redelivered.
func (s *QuoteSubscriber) Handle(msg Message) {
	addr, q, err := ParseQuote(msg.Subject(), msg.Data())
	if err != nil {
		s.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("rejected quote message")
		s.record("rejected")
		if termErr := msg.Term(); termErr != nil {
			s.logger.Error().Err(termErr).Msg("term quote message")
		}
		return
	}

	outcome := "applied"
	if !s.sink.Set(addr, q) {
		outcome = "out_of_order"
	}
	s.record(outcome)

	s.logger.Debug().
		Str("oracle", addr.Hex()).
		Str("price", q.Price.String()).
		Uint8("decimals", q.Decimals).
		Time("updated_at", q.UpdatedAt).
		Str("outcome", outcome).
		Msg("quote received")

	if err := msg.Ack(); err != nil {
		s.logger.Error().Err(err).Msg("ack quote message")
	}
}

func (s *QuoteSubscriber) Stop() {
	if s.consumer != nil {
		s.consumer.Stop()
	}
	s.logger.Info().Msg("quote subscriber stopped")
}

func (s *QuoteSubscriber) record(outcome string) {
	if s.metrics != nil {
		s.metrics.QuoteUpdates.WithLabelValues(outcome).Inc()
	}
}

// EnsureStreams creates the quote and ledger-event streams if missing.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      QuoteStream,
			Subjects:  []string{QuoteSubjectPrefix + ">"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    streamMaxAge,
			Replicas:  1,
		},
		{
			Name:       EventsStream,
			Subjects:   []string{EventSubjectPrefix + ">"},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     streamMaxAge,
			Replicas:   1,
			Duplicates: 10 * time.Minute,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("escrow-ledger"),
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
