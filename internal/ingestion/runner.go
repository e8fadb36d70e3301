package ingestion

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"perpvenue/internal/core"
)

// Processor is the engine's operation entry point.
type Processor interface {
	Process(op core.Operation) error
}

// Runner is the pump between the subscriber and the engine: it parses
// raw operations and applies them one at a time, preserving stream
// order. Unparseable messages and deterministic rejections are ACKed
// since redelivery cannot change the outcome; sequence gaps are NAKed
// so the missing predecessor can arrive first.
type Runner struct {
	log    zerolog.Logger
	opChan <-chan RawOp
	proc   Processor
}

func NewRunner(opChan <-chan RawOp, proc Processor, log zerolog.Logger) *Runner {
	return &Runner{
		log:    log,
		opChan: opChan,
		proc:   proc,
	}
}

// Run blocks until ctx is cancelled or the channel closes.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-r.opChan:
			if !ok {
				return nil
			}
			r.handle(raw)
		}
	}
}

func (r *Runner) handle(raw RawOp) {
	op, err := ParseOperation(raw.Kind, raw.Data)
	if err != nil {
		r.log.Warn().Err(err).Str("kind", raw.Kind).Msg("dropping unparseable operation")
		raw.AckFunc()
		return
	}

	if err := r.proc.Process(op); err != nil {
		if errors.Is(err, core.ErrSequenceGap) {
			r.log.Warn().
				Err(err).
				Str("kind", raw.Kind).
				Str("key", op.Key()).
				Msg("sequence gap, requeueing")
			raw.NakFunc()
			return
		}
		r.log.Debug().
			Err(err).
			Str("kind", raw.Kind).
			Str("key", op.Key()).
			Msg("operation rejected")
	}

	raw.AckFunc()
}
