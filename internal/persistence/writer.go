package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OperationRow mirrors engine.OperationRecord to keep the persistence layer
// decoupled from the engine. The orchestrator (cmd/main.go) bridges between
// the two.
type OperationRow struct {
	ID           uuid.UUID
	Kind         string
	User         uuid.UUID
	Counterparty uuid.UUID
	Asset        string
	Amount       string
	HealthFactor string
	AppliedAt    time.Time
}

// OperationLogWriter writes applied operations to Postgres using multi-row
// INSERT. Amounts travel as decimal strings so arbitrary-precision values
// survive the round trip.
type OperationLogWriter struct {
	db *sql.DB
}

func NewOperationLogWriter(db *sql.DB) *OperationLogWriter {
	return &OperationLogWriter{db: db}
}

// WriteBatch writes a batch of operation rows inside the given transaction.
func (w *OperationLogWriter) WriteBatch(ctx context.Context, tx *sql.Tx, rows []OperationRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO vault.operations
		(id, kind, user_id, counterparty, asset, amount, health_factor, applied_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*8)

	for i, r := range rows {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		var counterparty interface{}
		if r.Counterparty != uuid.Nil {
			counterparty = r.Counterparty
		}
		var asset interface{}
		if r.Asset != "" {
			asset = r.Asset
		}
		args = append(args,
			r.ID, r.Kind, r.User, counterparty,
			asset, r.Amount, r.HealthFactor, r.AppliedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LoadRecent returns the most recent operations touching a user, newest
// first.
func (w *OperationLogWriter) LoadRecent(ctx context.Context, user uuid.UUID, limit int) ([]OperationRow, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT id, kind, user_id, COALESCE(counterparty, $2), COALESCE(asset, ''), amount, health_factor, applied_at
		FROM vault.operations
		WHERE user_id = $1 OR counterparty = $1
		ORDER BY applied_at DESC
		LIMIT $3
	`, user, uuid.Nil, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OperationRow
	for rows.Next() {
		var r OperationRow
		if err := rows.Scan(
			&r.ID, &r.Kind, &r.User, &r.Counterparty,
			&r.Asset, &r.Amount, &r.HealthFactor, &r.AppliedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
