// Package projection maintains queryable read models derived from the
// engine's event stream. The projection channel is non-blocking with
// drop; anything missed is rebuilt from the event log.
package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"perpvenue/internal/core"
	"perpvenue/internal/event"
)

// Worker updates projection tables from processed events. Updates are
// best effort and eventually consistent.
type Worker struct {
	log       zerolog.Logger
	db        *sql.DB
	inputChan <-chan core.Output
	lastSeq   int64
}

func NewWorker(db *sql.DB, inputChan <-chan core.Output, log zerolog.Logger) *Worker {
	return &Worker{
		log:       log,
		db:        db,
		inputChan: inputChan,
	}
}

// Run starts the projection loop. Blocks until ctx is cancelled or the
// input channel closes.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				return nil
			}

			if err := w.apply(ctx, out); err != nil {
				w.log.Warn().
					Err(err).
					Int64("sequence", out.Envelope.Sequence).
					Msg("projection update failed")
				continue
			}

			w.lastSeq = out.Envelope.Sequence
		}
	}
}

func (w *Worker) apply(ctx context.Context, out core.Output) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	env := out.Envelope

	if out.Account != nil {
		if err := w.upsertAccount(ctx, tx, env, out.Account); err != nil {
			return fmt.Errorf("account projection: %w", err)
		}
	}

	switch env.Type {
	case event.EventTypeFundingAccrual:
		if err := w.insertFundingAccrual(ctx, tx, env); err != nil {
			return fmt.Errorf("funding projection: %w", err)
		}
	case event.EventTypePoolTrade:
		if err := w.insertPoolTrade(ctx, tx, env); err != nil {
			return fmt.Errorf("trade projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO venue.projection_watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, env.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (w *Worker) upsertAccount(ctx context.Context, tx *sql.Tx, env *event.Envelope, a *core.AccountState) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO venue.account_state
			(account, side, size, entry_value, cash_balance, margin_balance, available_margin, last_sequence, last_tick, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (account) DO UPDATE SET
			side = $2, size = $3, entry_value = $4, cash_balance = $5,
			margin_balance = $6, available_margin = $7,
			last_sequence = $8, last_tick = $9, updated_at = NOW()
		WHERE venue.account_state.last_sequence < $8
	`, a.Account, a.Side, a.Size, a.EntryValue, a.CashBalance,
		a.MarginBalance, a.AvailableMargin, env.Sequence, env.Tick)
	return err
}

func (w *Worker) insertFundingAccrual(ctx context.Context, tx *sql.Tx, env *event.Envelope) error {
	var p event.FundingAccrual
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("decode funding payload: %w", err)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO venue.funding_history
			(sequence, tick, funding_rate, premium, index_price, mark_price, acc_funding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (sequence) DO NOTHING
	`, env.Sequence, env.Tick, p.Rate, p.Premium, p.IndexPrice, p.MarkPrice, p.Accumulated)
	return err
}

func (w *Worker) insertPoolTrade(ctx context.Context, tx *sql.Tx, env *event.Envelope) error {
	var p event.PoolTrade
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("decode trade payload: %w", err)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO venue.pool_trades
			(sequence, tick, trader, side, amount, price)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sequence) DO NOTHING
	`, env.Sequence, env.Tick, p.Trader, p.Side, p.Amount, p.Price)
	return err
}

// Rebuild repopulates the history tables from the event log. Account
// state rows are refreshed as new events arrive, so only the watermark
// and histories are reconstructed here.
func Rebuild(ctx context.Context, db *sql.DB, log zerolog.Logger) error {
	statements := []string{
		`TRUNCATE venue.funding_history`,
		`TRUNCATE venue.pool_trades`,
		`DELETE FROM venue.projection_watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO venue.funding_history
			(sequence, tick, funding_rate, premium, index_price, mark_price, acc_funding)
		SELECT
			sequence, tick,
			(payload->>'rate')::NUMERIC,
			(payload->>'premium')::NUMERIC,
			(payload->>'index_price')::NUMERIC,
			(payload->>'mark_price')::NUMERIC,
			(payload->>'accumulated')::NUMERIC
		FROM venue.events
		WHERE event_type = 'FundingAccrual'
		ON CONFLICT (sequence) DO NOTHING
	`); err != nil {
		return fmt.Errorf("rebuild funding history: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO venue.pool_trades
			(sequence, tick, trader, side, amount, price)
		SELECT
			sequence, tick,
			payload->>'trader',
			payload->>'side',
			(payload->>'amount')::NUMERIC,
			(payload->>'price')::NUMERIC
		FROM venue.events
		WHERE event_type = 'PoolTrade'
		ON CONFLICT (sequence) DO NOTHING
	`); err != nil {
		return fmt.Errorf("rebuild pool trades: %w", err)
	}

	log.Info().Msg("projection rebuild complete")
	return nil
}
