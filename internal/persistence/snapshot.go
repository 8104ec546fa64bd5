package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager persists and loads full-ledger snapshots for warm
// restart. On startup the latest snapshot is loaded into the ledger before
// the engine starts serving operations.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData contains every nonzero balance at a point in time.
type SnapshotData struct {
	Entries   []BalanceEntry `json:"entries"`
	CreatedAt time.Time      `json:"created_at"`
}

// BalanceEntry is one serialized ledger row. Debt entries carry an empty
// asset and Debt=true. Amounts are decimal strings.
type BalanceEntry struct {
	User   uuid.UUID `json:"user"`
	Asset  string    `json:"asset,omitempty"`
	Amount string    `json:"amount"`
	Debt   bool      `json:"debt,omitempty"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// Save persists a snapshot to Postgres.
func (sm *SnapshotManager) Save(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO vault.snapshots (snapshot_id, data, size_bytes, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.New(), data, len(data), snap.CreatedAt)
	return err
}

// LoadLatest loads the most recent snapshot, or nil on a cold start.
func (sm *SnapshotManager) LoadLatest(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM vault.snapshots
		ORDER BY created_at DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Prune removes snapshots older than the retention window, keeping at
// least one.
func (sm *SnapshotManager) Prune(ctx context.Context, retain time.Duration) error {
	_, err := sm.db.ExecContext(ctx, `
		DELETE FROM vault.snapshots
		WHERE created_at < $1
		  AND snapshot_id <> (SELECT snapshot_id FROM vault.snapshots ORDER BY created_at DESC LIMIT 1)
	`, time.Now().Add(-retain))
	return err
}
