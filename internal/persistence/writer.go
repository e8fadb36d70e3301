// Package persistence is the durable tail of the engine: the hash-chained
// event log, warm-restart snapshots, and the cold-path idempotency lookup
// all live in Postgres.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"perpvenue/internal/event"
)

// EventLogWriter writes events to Postgres using batch inserts.
// Multi-row INSERT keeps the writer portable; switch to pgx CopyFrom if
// throughput ever demands it.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in venue.events.
type EventRow struct {
	Sequence       int64
	EventID        string
	EventType      string
	IdempotencyKey string
	Account        string
	Tick           int64
	Payload        []byte
	StateHash      []byte
	PrevHash       []byte
}

// RowFromEnvelope flattens an envelope into its storage row.
func RowFromEnvelope(env *event.Envelope) EventRow {
	return EventRow{
		Sequence:       env.Sequence,
		EventID:        env.ID.String(),
		EventType:      env.Type.String(),
		IdempotencyKey: env.IdempotencyKey,
		Account:        env.Account,
		Tick:           env.Tick,
		Payload:        env.Payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
	}
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch writes a batch of events inside tx. Conflicting
// sequences are skipped, which makes redelivered batches harmless.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO venue.events
		(sequence, event_id, event_type, idempotency_key, account, tick, payload, state_hash, prev_hash)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*9)

	for i, e := range events {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			e.Sequence, e.EventID, e.EventType, e.IdempotencyKey, e.Account,
			e.Tick, e.Payload, e.StateHash, e.PrevHash,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LatestSequence returns the highest sequence in the event log.
func (w *EventLogWriter) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM venue.events`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
