// Package query serves read-only lookups against the projection tables
// and the event log. Every response carries as_of_sequence so callers
// can reason about freshness.
package query

import (
	"context"
	"database/sql"
	"fmt"
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// GetAccount returns one account's projected margin state.
func (s *Service) GetAccount(ctx context.Context, account string) (*AccountResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var r AccountResponse
	r.AsOfSequence = asOfSeq
	err = s.db.QueryRowContext(ctx, `
		SELECT account, side, size, entry_value, cash_balance,
		       margin_balance, available_margin, last_tick
		FROM venue.account_state
		WHERE account = $1
	`, account).Scan(
		&r.Account, &r.Side, &r.Size, &r.EntryValue, &r.CashBalance,
		&r.MarginBalance, &r.AvailableMargin, &r.LastTick,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListFundingHistory returns funding accruals, newest first, with
// cursor-based pagination on sequence.
func (s *Service) ListFundingHistory(ctx context.Context, limit int, beforeSequence *int64) ([]FundingHistoryResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT sequence, tick, funding_rate, premium, index_price, mark_price, acc_funding
		FROM venue.funding_history
	`
	args := []interface{}{}
	argIdx := 1

	if beforeSequence != nil {
		query += fmt.Sprintf(" WHERE sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []FundingHistoryResponse
	for rows.Next() {
		var h FundingHistoryResponse
		h.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&h.Sequence, &h.Tick, &h.FundingRate, &h.Premium,
			&h.IndexPrice, &h.MarkPrice, &h.AccFunding,
		); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// ListTrades returns pool fills for one trader, newest first.
func (s *Service) ListTrades(ctx context.Context, trader string, limit int, beforeSequence *int64) ([]TradeResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT sequence, tick, trader, side, amount, price
		FROM venue.pool_trades
		WHERE trader = $1
	`
	args := []interface{}{trader}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeResponse
	for rows.Next() {
		var t TradeResponse
		t.AsOfSequence = asOfSeq
		if err := rows.Scan(&t.Sequence, &t.Tick, &t.Trader, &t.Side, &t.Amount, &t.Price); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListEvents returns raw event log rows for one account, newest first.
func (s *Service) ListEvents(ctx context.Context, account string, limit int, beforeSequence *int64) ([]EventResponse, error) {
	query := `
		SELECT sequence, event_id, event_type, idempotency_key, account, tick, payload
		FROM venue.events
		WHERE account = $1
	`
	args := []interface{}{account}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventResponse
	for rows.Next() {
		var e EventResponse
		if err := rows.Scan(
			&e.Sequence, &e.EventID, &e.EventType, &e.IdempotencyKey,
			&e.Account, &e.Tick, &e.Payload,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// VerifyIntegrity sweeps the event log for hash chain breaks: every
// event's prev_hash must equal its predecessor's state_hash.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM venue.events e1
		JOIN venue.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var maxSeq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM venue.events`).Scan(&maxSeq); err != nil {
		return nil, err
	}
	report.CheckedThrough = maxSeq.Int64
	report.IsHealthy = len(report.HashChainBreaks) == 0
	return report, nil
}

func (s *Service) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM venue.projection_watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
