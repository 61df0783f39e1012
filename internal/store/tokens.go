package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionTokenTTL is the 24h lifetime named by spec §3 ActionToken.
const ActionTokenTTL = 24 * time.Hour

// CreateActionToken mints an opaque button-callback binding.
func (s *Store) CreateActionToken(ctx context.Context, botID string, chatID int64, action, payload string) (string, error) {
	token := uuid.NewString()
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO action_tokens (token, bot_id, chat_id, action, payload, expires_at)
			VALUES (?, ?, ?, ?, ?, ?);
		`, token, botID, chatID, action, payload, time.Now().Add(ActionTokenTTL))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("create action token: %w", err)
	}
	return token, nil
}

// ConsumeActionToken atomically checks validity (not expired, not already
// consumed) and marks it consumed, returning the bound action/payload.
// Malformed or expired tokens return ErrActionTokenInvalid; the caller
// (CommandHandler) must still acknowledge the callback exactly once even
// in that case, per spec's callback-ack law.
func (s *Store) ConsumeActionToken(ctx context.Context, token string) (*ActionToken, error) {
	var out ActionToken
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var consumedAt sql.NullTime
		if err := tx.QueryRowContext(ctx, `
			SELECT token, bot_id, chat_id, action, payload, expires_at, consumed_at, created_at
			FROM action_tokens WHERE token = ?;
		`, token).Scan(&out.Token, &out.BotID, &out.ChatID, &out.Action, &out.Payload, &out.ExpiresAt, &consumedAt, &out.CreatedAt); err != nil {
			if err == sql.ErrNoRows {
				return ErrActionTokenInvalid
			}
			return err
		}
		if consumedAt.Valid || time.Now().After(out.ExpiresAt) {
			return ErrActionTokenInvalid
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE action_tokens SET consumed_at = CURRENT_TIMESTAMP WHERE token = ? AND consumed_at IS NULL;
		`, token)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return ErrActionTokenInvalid
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ErrActionTokenInvalid covers both "expired" and "already consumed" /
// "never existed" cases — spec treats a malformed or expired callback as
// one error class that must still be acknowledged, not surfaced to the user
// as a distinct reason.
var ErrActionTokenInvalid = fmt.Errorf("action token expired or already consumed")

// ExpireActionTokens is the janitor's periodic sweep: it does not delete
// rows (they remain for audit), it is a no-op unless the implementation
// wants to vacuum old rows. Kept as a count-only health signal.
func (s *Store) CountExpiredActionTokens(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM action_tokens WHERE expires_at < CURRENT_TIMESTAMP AND consumed_at IS NULL;
	`).Scan(&n)
	return n, err
}

// PruneExpiredActionTokens deletes action tokens (and their deferred button
// actions) past their TTL, run periodically by the janitor.
func (s *Store) PruneExpiredActionTokens(ctx context.Context, olderThan time.Duration) (int64, error) {
	var n int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM action_tokens WHERE expires_at < datetime('now', ?);
		`, fmt.Sprintf("-%d seconds", int64(olderThan.Seconds())))
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// CreateDeferredButtonAction records a pending button action tied to a
// token, for callbacks that require follow-up work after acknowledgement.
func (s *Store) CreateDeferredButtonAction(ctx context.Context, token, callbackID string) (string, error) {
	id := uuid.NewString()
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO deferred_button_actions (id, token, callback_id, status) VALUES (?, ?, ?, 'pending');
		`, id, token, callbackID)
		return err
	})
	return id, err
}

func (s *Store) MarkDeferredButtonAction(ctx context.Context, id, status string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE deferred_button_actions SET status = ? WHERE id = ?`, status, id)
		return err
	})
}
