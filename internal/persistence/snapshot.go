package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"perpvenue/internal/core"
)

// SnapshotStore persists engine snapshots for warm restarts. A snapshot
// carries the full ledger, funding state, pool shares, sequence
// counters, and recent idempotency keys; on restart the engine restores
// from the latest snapshot and relies on stream redelivery plus
// deduplication to catch up, so no event replay is needed.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save persists a snapshot. Saving the same sequence twice overwrites
// the previous row, which makes periodic snapshotting idempotent.
func (ss *SnapshotStore) Save(ctx context.Context, snap *core.SnapshotState) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = ss.db.ExecContext(ctx, `
		INSERT INTO venue.snapshots
			(snapshot_id, sequence, tick, data, state_hash, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (sequence) DO UPDATE SET
			data = EXCLUDED.data,
			state_hash = EXCLUDED.state_hash,
			size_bytes = EXCLUDED.size_bytes
	`, uuid.New(), snap.Sequence, snap.Tick, data, snap.StateHash[:], len(data), time.Now().UTC())

	return err
}

// LoadLatest returns the most recent snapshot, or nil on a cold start.
func (ss *SnapshotStore) LoadLatest(ctx context.Context) (*core.SnapshotState, error) {
	row := ss.db.QueryRowContext(ctx, `
		SELECT data FROM venue.snapshots
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap core.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// Prune deletes all but the newest keep snapshots.
func (ss *SnapshotStore) Prune(ctx context.Context, keep int) error {
	_, err := ss.db.ExecContext(ctx, `
		DELETE FROM venue.snapshots
		WHERE sequence NOT IN (
			SELECT sequence FROM venue.snapshots
			ORDER BY sequence DESC
			LIMIT $1
		)
	`, keep)
	return err
}
