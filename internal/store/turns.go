package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

func scanTurn(scan func(dest ...any) error) (*Turn, error) {
	var t Turn
	var assistant sql.NullString
	if err := scan(&t.ID, &t.SessionID, &t.BotID, &t.ChatID, &t.Status, &t.InputText, &assistant, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.AssistantText = assistant.String
	return &t, nil
}

const turnColumns = `id, session_id, bot_id, chat_id, status, input_text, assistant_text, created_at, updated_at`

// CreateTurn inserts a new Turn in state 'queued'.
func (s *Store) CreateTurn(ctx context.Context, sessionID, botID string, chatID int64, inputText string) (string, error) {
	id := uuid.NewString()
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO turns (id, session_id, bot_id, chat_id, status, input_text)
			VALUES (?, ?, ?, ?, 'queued', ?);
		`, id, sessionID, botID, chatID, inputText)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("create turn: %w", err)
	}
	return id, nil
}

func (s *Store) GetTurn(ctx context.Context, id string) (*Turn, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+turnColumns+` FROM turns WHERE id = ?`, id)
	return scanTurn(row.Scan)
}

// CountTurns returns how many turns a session has accumulated, used by
// SessionService.AppendSummary to stamp each SessionSummary snapshot with
// its position in the conversation.
func (s *Store) CountTurns(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM turns WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// SetTurnStatus transitions a turn's status, optionally recording the final
// assistant_text (spec invariant: completed Turn's assistant_text equals the
// concatenation of assistant_message bodies in seq order — RunWorker builds
// that string and passes it here).
func (s *Store) SetTurnStatus(ctx context.Context, id, status, assistantText string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE turns SET status = ?, assistant_text = COALESCE(NULLIF(?, ''), assistant_text), updated_at = CURRENT_TIMESTAMP
			WHERE id = ?;
		`, status, assistantText, id)
		return err
	})
}
