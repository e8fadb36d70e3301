package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Subscriber consumes raw operations from JetStream and feeds them into
// the engine loop via opChan. Consumers are durable; after a restart
// unacknowledged operations are redelivered, and the engine's
// idempotency and sequence checks absorb the duplicates.
type Subscriber struct {
	log       zerolog.Logger
	js        jetstream.JetStream
	opChan    chan<- RawOp
	consumers []jetstream.ConsumeContext
}

// RawOp is an unparsed operation pulled off the stream. Kind comes from
// the subject's final token (venue.ops.<kind> / venue.prices.<kind>).
type RawOp struct {
	Kind    string
	Data    []byte
	AckFunc func()
	NakFunc func()
}

// SubjectConfig maps a JetStream subject to a durable consumer.
type SubjectConfig struct {
	Subject      string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject layout. Prices get their
// own stream so a burst of index updates cannot starve operations.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "venue.ops.>", ConsumerName: "venue-ops", StreamName: "VENUE_OPS"},
		{Subject: "venue.prices.>", ConsumerName: "venue-prices", StreamName: "VENUE_PRICES"},
	}
}

func NewSubscriber(js jetstream.JetStream, opChan chan<- RawOp, log zerolog.Logger) *Subscriber {
	return &Subscriber{
		log:    log,
		js:     js,
		opChan: opChan,
	}
}

// Subscribe creates durable JetStream consumers for all configured
// subjects. Consumers use explicit ACK with bounded redelivery.
func (s *Subscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := s.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawOp{
				Kind:    kindFromSubject(msg.Subject()),
				Data:    msg.Data(),
				AckFunc: func() { msg.Ack() },
				NakFunc: func() { msg.Nak() },
			}

			select {
			case s.opChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		s.consumers = append(s.consumers, consumerContext)
		s.log.Info().
			Str("subject", cfg.Subject).
			Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}

	return nil
}

// kindFromSubject extracts the operation kind from the final subject
// token, e.g. "venue.ops.deposit" yields "deposit".
func kindFromSubject(subject string) string {
	idx := strings.LastIndex(subject, ".")
	if idx < 0 {
		return subject
	}
	return subject[idx+1:]
}

// EnsureStreams creates the required JetStream streams if missing.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "VENUE_OPS",
			Subjects:  []string{"venue.ops.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "VENUE_PRICES",
			Subjects:  []string{"venue.prices.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (s *Subscriber) Stop() {
	for _, cc := range s.consumers {
		cc.Stop()
	}
	s.log.Info().Msg("subscribers stopped")
}

// Connect establishes a NATS connection and returns a JetStream context.
func Connect(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
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
