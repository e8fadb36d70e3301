package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"perpvenue/internal/core"
)

// Publisher fans processed events out to JetStream for downstream
// consumers. It drains the engine's projection channel, so publishing
// is best effort: a dropped or failed publish never blocks the engine,
// and consumers that need completeness read the event log instead.
type Publisher struct {
	log       zerolog.Logger
	js        jetstream.JetStream
	inputChan <-chan core.Output
}

func NewPublisher(js jetstream.JetStream, inputChan <-chan core.Output, log zerolog.Logger) *Publisher {
	return &Publisher{
		log:       log,
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the publisher loop. Blocks until ctx is cancelled or the
// input channel closes.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-p.inputChan:
			if !ok {
				return nil
			}

			if err := p.publish(ctx, out); err != nil {
				p.log.Warn().
					Err(err).
					Int64("sequence", out.Envelope.Sequence).
					Msg("outbound publish failed")
			}
		}
	}
}

// publish sends the envelope to venue.events.<category>.<type>, e.g.
// venue.events.pool.pool_trade.
func (p *Publisher) publish(ctx context.Context, out core.Output) error {
	env := out.Envelope

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := fmt.Sprintf("venue.events.%s.%s", env.Type.Subject(), env.Type.String())
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureEventsStream creates the outbound events stream.
func EnsureEventsStream(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "VENUE_EVENTS",
		Subjects:  []string{"venue.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create events stream: %w", err)
	}
	log.Info().Msg("ensured stream VENUE_EVENTS")
	return nil
}
