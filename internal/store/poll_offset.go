package store

import (
	"context"
	"database/sql"
)

// GetPollOffset returns the last persisted getUpdates offset for botID, or 0
// if the poller has never run for this bot.
func (s *Store) GetPollOffset(ctx context.Context, botID string) (int, error) {
	var offset int
	err := s.db.QueryRowContext(ctx, `SELECT offset FROM poll_offsets WHERE bot_id = ?`, botID).Scan(&offset)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return offset, err
}

// SetPollOffset persists the Poller's next getUpdates offset for botID.
func (s *Store) SetPollOffset(ctx context.Context, botID string, offset int) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO poll_offsets (bot_id, offset, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(bot_id) DO UPDATE SET offset = excluded.offset, updated_at = CURRENT_TIMESTAMP;
		`, botID, offset)
		return err
	})
}

// ResetPollOffset drops botID's persisted offset, used on startup when the
// platform base URL points at a local/mock server that may have restarted
// with no memory of updates already delivered.
func (s *Store) ResetPollOffset(ctx context.Context, botID string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM poll_offsets WHERE bot_id = ?`, botID)
		return err
	})
}
