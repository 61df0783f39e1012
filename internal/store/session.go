package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

func scanSession(scan func(dest ...any) error) (*Session, error) {
	var sess Session
	var threadID sql.NullString
	var preamble int
	if err := scan(&sess.ID, &sess.BotID, &sess.ChatID, &sess.Status, &sess.CurrentAgent,
		&threadID, &sess.RollingSummary, &preamble, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	sess.AgentThreadID = threadID.String
	sess.PreambleConsumed = preamble != 0
	return &sess, nil
}

const sessionColumns = `id, bot_id, chat_id, status, current_agent, agent_thread_id, rolling_summary, preamble_consumed, created_at, updated_at`

// GetActiveSession returns the active session for (botID, chatID), if any.
func (s *Store) GetActiveSession(ctx context.Context, botID string, chatID int64) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE bot_id = ? AND chat_id = ? AND status = 'active';
	`, botID, chatID)
	sess, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sess, err
}

// GetOrCreateActiveSession implements spec §4.5 get_or_create_active: return
// the existing active session, or insert a fresh one. The partial unique
// index on (bot_id, chat_id) WHERE status='active' is the race guard — if
// two UpdateWorker goroutines race to create one, the loser's INSERT
// conflicts and it re-reads the winner's row.
func (s *Store) GetOrCreateActiveSession(ctx context.Context, botID string, chatID int64, defaultAgent string) (*Session, error) {
	if sess, err := s.GetActiveSession(ctx, botID, chatID); err != nil {
		return nil, err
	} else if sess != nil {
		return sess, nil
	}

	id := uuid.NewString()
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (id, bot_id, chat_id, status, current_agent)
			VALUES (?, ?, ?, 'active', ?);
		`, id, botID, chatID, defaultAgent)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return s.GetActiveSession(ctx, botID, chatID)
		}
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s.GetActiveSession(ctx, botID, chatID)
}

// ResetSession implements spec §4.5 reset: the current active session is
// marked reset (freeing the partial-unique slot) and a fresh active session
// is created with a cleared agent_thread_id and rolling_summary carried
// forward as the seed for the next preamble injection.
func (s *Store) ResetSession(ctx context.Context, sessionID string) (*Session, error) {
	var newID string
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var botID, agent, summary string
		var chatID int64
		if err := tx.QueryRowContext(ctx, `
			SELECT bot_id, chat_id, current_agent, rolling_summary FROM sessions WHERE id = ? AND status = 'active';
		`, sessionID).Scan(&botID, &chatID, &agent, &summary); err != nil {
			return fmt.Errorf("load session to reset: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET status = 'reset', updated_at = CURRENT_TIMESTAMP WHERE id = ?`, sessionID); err != nil {
			return fmt.Errorf("retire session: %w", err)
		}

		newID = uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, bot_id, chat_id, status, current_agent, rolling_summary, preamble_consumed)
			VALUES (?, ?, ?, 'active', ?, ?, 0);
		`, newID, botID, chatID, agent, summary); err != nil {
			return fmt.Errorf("create reset session: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return s.GetSessionByID(ctx, newID)
}

// SwitchAgent implements spec §4.5 switch_agent. The caller (SessionService)
// must first verify no active-state RunJob exists for this chat — switching
// during an active run is forbidden by spec and is NOT re-checked here
// (store operations trust their caller's invariant checks, same as the
// teacher's transitionTaskTx does for its callers).
func (s *Store) SwitchAgent(ctx context.Context, sessionID, newAgent string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE sessions
			SET current_agent = ?, agent_thread_id = NULL, preamble_consumed = 0, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND status = 'active';
		`, newAgent, sessionID)
		return err
	})
}

func (s *Store) GetSessionByID(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row.Scan)
}

// SetAgentThreadID persists the adapter-assigned thread id after a
// successful first turn, per spec §4.6.
func (s *Store) SetAgentThreadID(ctx context.Context, sessionID, threadID string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE sessions SET agent_thread_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, threadID, sessionID)
		return err
	})
}

// MarkPreambleConsumed flips preamble_consumed so later turns in the same
// thread no longer re-inject the rolling-summary preamble (see DESIGN.md's
// Open Question decision).
func (s *Store) MarkPreambleConsumed(ctx context.Context, sessionID string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE sessions SET preamble_consumed = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, sessionID)
		return err
	})
}

// AppendSummary is SessionService's append_summary store half: insert an
// append-only snapshot and update the session's current rolling_summary
// pointer to it in one transaction.
func (s *Store) AppendSummary(ctx context.Context, sessionID, summary string, turnCount int) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_summaries (session_id, summary, turn_count) VALUES (?, ?, ?);
		`, sessionID, summary, turnCount); err != nil {
			return fmt.Errorf("insert session_summary: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions SET rolling_summary = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;
		`, summary, sessionID); err != nil {
			return fmt.Errorf("update rolling_summary: %w", err)
		}
		return tx.Commit()
	})
}
