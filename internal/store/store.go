// Package store is telecore's single persistence layer: one SQLite database
// per process, a single writer connection, and every cross-worker
// coordination decision expressed as a conditional SQL statement rather than
// an in-process lock.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	schemaVersionLatest  = 2
	schemaChecksumLatest = "telecore-v2-bridge-schema-poll-offset"

	// DefaultLeaseDuration is how long a worker holds a queued/claimed row
	// before another worker is allowed to reclaim it.
	DefaultLeaseDuration = 30 * time.Second

	// DefaultMaxAttempts bounds how many times a job is retried before it
	// is left in its terminal failed state.
	DefaultMaxAttempts = 5

	retryBaseDelay = 1 * time.Second
	retryMaxDelay  = 30 * time.Second
)

// Store wraps the single *sql.DB connection used by every component.
type Store struct {
	db *sql.DB
}

// DefaultDBPath mirrors the teacher's home-directory convention: data lives
// under $TELECORE_HOME (default ~/.telecore) unless overridden.
func DefaultDBPath() string {
	home := os.Getenv("TELECORE_HOME")
	if home == "" {
		if h, err := os.UserHomeDir(); err == nil {
			home = filepath.Join(h, ".telecore")
		} else {
			home = ".telecore"
		}
	}
	return filepath.Join(home, "telecore.db")
}

// Open creates (if needed) and migrates the SQLite database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer: SQLite serializes writes at the file level regardless,
	// but a single Go connection avoids SQLITE_BUSY storms under our own
	// worker loops and keeps WAL checkpointing predictable.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	ctx := context.Background()
	if err := s.configurePragmas(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the raw connection for components (e.g. healthz) that only
// need to prove reachability.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) configurePragmas(ctx context.Context) error {
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

// retryOnBusy wraps a write operation with exponential backoff and jitter
// against SQLITE_BUSY/SQLITE_LOCKED, which can surface even with a single
// writer connection when WAL checkpoints contend with readers.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	var lastErr error
	delay := retryBaseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = f()
		if lastErr == nil || !isSQLiteBusy(lastErr) {
			return lastErr
		}
		jitter := time.Duration(rand.Int64N(int64(delay) / 2))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
	return lastErr
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
