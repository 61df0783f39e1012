package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migrate runs the versioned schema ledger. Each version is idempotent and
// gated by a checksum row so a mismatched binary/database pairing fails
// loudly at startup instead of silently drifting, following the teacher's
// schema_version/checksum ledger pattern.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version  INTEGER NOT NULL,
			checksum TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP)
		);
	`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	var checksum string
	err := s.db.QueryRowContext(ctx, `SELECT version, checksum FROM schema_version ORDER BY version DESC LIMIT 1`).Scan(&current, &checksum)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read schema_version: %w", err)
	}
	if err == nil && current == schemaVersionLatest && checksum != schemaChecksumLatest {
		return fmt.Errorf("schema checksum mismatch at version %d: have %q want %q", current, checksum, schemaChecksumLatest)
	}
	if current >= schemaVersionLatest {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("apply schema ddl: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version, checksum) VALUES (?, ?)`, schemaVersionLatest, schemaChecksumLatest); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// schemaDDL creates every table named by the data model in one shot. All
// statements use IF NOT EXISTS so repeated Open() calls against an
// already-migrated database are no-ops.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS bots (
	id               TEXT PRIMARY KEY,
	display_name     TEXT NOT NULL,
	owner_user_id    INTEGER NOT NULL,
	default_adapter  TEXT NOT NULL,
	webhook_path_secret TEXT,
	webhook_public_url  TEXT,
	created_at       TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP)
);

CREATE TABLE IF NOT EXISTS telegram_updates (
	bot_id     TEXT NOT NULL,
	update_id  INTEGER NOT NULL,
	received_at TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP),
	PRIMARY KEY (bot_id, update_id)
);

CREATE TABLE IF NOT EXISTS update_jobs (
	id              TEXT PRIMARY KEY,
	bot_id          TEXT NOT NULL,
	update_id       INTEGER NOT NULL,
	chat_id         INTEGER NOT NULL,
	from_user_id    INTEGER NOT NULL,
	kind            TEXT NOT NULL,
	payload         TEXT NOT NULL,
	status          TEXT NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	max_attempts    INTEGER NOT NULL DEFAULT 5,
	last_error      TEXT,
	lease_owner     TEXT,
	lease_expires_at TEXT,
	available_at    TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP),
	created_at      TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP),
	updated_at      TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP)
);
CREATE INDEX IF NOT EXISTS idx_update_jobs_poll ON update_jobs (bot_id, status, available_at);

CREATE TABLE IF NOT EXISTS sessions (
	id                TEXT PRIMARY KEY,
	bot_id            TEXT NOT NULL,
	chat_id           INTEGER NOT NULL,
	status            TEXT NOT NULL, -- active|reset
	current_agent     TEXT NOT NULL,
	agent_thread_id   TEXT,
	rolling_summary   TEXT NOT NULL DEFAULT '',
	preamble_consumed INTEGER NOT NULL DEFAULT 0,
	created_at        TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP),
	updated_at        TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP)
);
-- Active-uniqueness-as-lock: at most one row per (bot_id, chat_id) may be
-- 'active'; the insert-conflict IS the concurrency guard.
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_active_unique
	ON sessions (bot_id, chat_id) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS session_summaries (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	summary     TEXT NOT NULL,
	turn_count  INTEGER NOT NULL,
	created_at  TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP)
);
CREATE INDEX IF NOT EXISTS idx_session_summaries_session ON session_summaries (session_id, id);

CREATE TABLE IF NOT EXISTS turns (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	bot_id      TEXT NOT NULL,
	chat_id     INTEGER NOT NULL,
	status      TEXT NOT NULL, -- queued|in_flight|completed|failed|cancelled
	input_text  TEXT NOT NULL,
	assistant_text TEXT,
	created_at  TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP),
	updated_at  TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP)
);
CREATE INDEX IF NOT EXISTS idx_turns_session ON turns (session_id, created_at);

CREATE TABLE IF NOT EXISTS run_jobs (
	id              TEXT PRIMARY KEY,
	turn_id         TEXT NOT NULL,
	bot_id          TEXT NOT NULL,
	chat_id         INTEGER NOT NULL,
	agent           TEXT NOT NULL,
	status          TEXT NOT NULL, -- queued|leased|in_flight|completed|failed|cancelled
	attempts        INTEGER NOT NULL DEFAULT 0,
	max_attempts    INTEGER NOT NULL DEFAULT 5,
	last_error      TEXT,
	lease_owner     TEXT,
	lease_expires_at TEXT,
	available_at    TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP),
	cancel_requested INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP),
	updated_at      TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP)
);
CREATE INDEX IF NOT EXISTS idx_run_jobs_poll ON run_jobs (bot_id, status, available_at);
-- At most one active-state (queued|leased|in_flight) run per (bot_id,chat_id).
CREATE UNIQUE INDEX IF NOT EXISTS idx_run_jobs_active_unique
	ON run_jobs (bot_id, chat_id) WHERE status IN ('queued', 'leased', 'in_flight');

CREATE TABLE IF NOT EXISTS cli_events (
	turn_id    TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	event_type TEXT NOT NULL,
	body       TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP),
	PRIMARY KEY (turn_id, seq)
);

CREATE TABLE IF NOT EXISTS action_tokens (
	token       TEXT PRIMARY KEY,
	bot_id      TEXT NOT NULL,
	chat_id     INTEGER NOT NULL,
	action      TEXT NOT NULL,
	payload     TEXT NOT NULL,
	expires_at  TEXT NOT NULL,
	consumed_at TEXT,
	created_at  TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP)
);
CREATE INDEX IF NOT EXISTS idx_action_tokens_expiry ON action_tokens (expires_at);

CREATE TABLE IF NOT EXISTS deferred_button_actions (
	id          TEXT PRIMARY KEY,
	token       TEXT NOT NULL,
	callback_id TEXT NOT NULL,
	status      TEXT NOT NULL, -- pending|applied|expired
	created_at  TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP)
);

CREATE TABLE IF NOT EXISTS metric_counters (
	bot_id TEXT NOT NULL,
	key    TEXT NOT NULL,
	value  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (bot_id, key)
);

-- Poller's moving getUpdates offset, persisted per bot (spec §4.2) so a
-- process restart resumes where it left off instead of re-delivering the
-- platform's entire backlog.
CREATE TABLE IF NOT EXISTS poll_offsets (
	bot_id     TEXT PRIMARY KEY,
	offset     INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP)
);
`
