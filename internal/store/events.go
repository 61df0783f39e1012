package store

import (
	"context"
	"database/sql"
	"fmt"
)

// AppendCliEvent implements the Store's event-append contract (spec §4.1):
// seq is assigned as max(seq)+1 for the turn inside the same transaction
// that inserts the row, guaranteeing the "seq contiguous prefix from 1"
// invariant holds even if RunWorker crashes and another worker later reads
// the partial sequence — there are never gaps, only a prefix.
func (s *Store) AppendCliEvent(ctx context.Context, turnID, eventType, body string) (seq int64, err error) {
	err = retryOnBusy(ctx, 5, func() error {
		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return txErr
		}
		defer tx.Rollback()

		var maxSeq sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT MAX(seq) FROM cli_events WHERE turn_id = ?`, turnID).Scan(&maxSeq); err != nil {
			return fmt.Errorf("max seq: %w", err)
		}
		seq = maxSeq.Int64 + 1

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cli_events (turn_id, seq, event_type, body) VALUES (?, ?, ?, ?);
		`, turnID, seq, eventType, body); err != nil {
			return fmt.Errorf("insert cli_event: %w", err)
		}
		return tx.Commit()
	})
	return seq, err
}

// ListCliEvents returns every event for a turn in seq order.
func (s *Store) ListCliEvents(ctx context.Context, turnID string) ([]CliEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT turn_id, seq, event_type, body, created_at FROM cli_events WHERE turn_id = ? ORDER BY seq ASC;
	`, turnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CliEvent
	for rows.Next() {
		var e CliEvent
		if err := rows.Scan(&e.TurnID, &e.Seq, &e.EventType, &e.Body, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
