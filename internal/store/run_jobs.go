package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

func scanRunJob(scan func(dest ...any) error) (*RunJob, error) {
	var j RunJob
	var status string
	var leaseOwner, lastError sql.NullString
	var leaseExpiresAt sql.NullTime
	var cancelRequested int
	if err := scan(&j.ID, &j.TurnID, &j.BotID, &j.ChatID, &j.Agent, &status, &j.Attempts, &j.MaxAttempts,
		&lastError, &leaseOwner, &leaseExpiresAt, &j.AvailableAt, &cancelRequested, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Status = JobStatus(status)
	j.LastError = lastError.String
	j.LeaseOwner = leaseOwner.String
	j.CancelRequested = cancelRequested != 0
	if leaseExpiresAt.Valid {
		t := leaseExpiresAt.Time
		j.LeaseExpiresAt = &t
	}
	return &j, nil
}

const runJobColumns = `id, turn_id, bot_id, chat_id, agent, status, attempts, max_attempts,
	last_error, lease_owner, lease_expires_at, available_at, cancel_requested, created_at, updated_at`

// CreateRunJob enforces spec's at-most-one-active-run-per-(bot,chat)
// invariant via the partial unique index; a UNIQUE-constraint violation
// here means an active run conflict (spec §7) and is returned as such.
func (s *Store) CreateRunJob(ctx context.Context, id, turnID, botID string, chatID int64, agent string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO run_jobs (id, turn_id, bot_id, chat_id, agent, status, max_attempts, available_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
		`, id, turnID, botID, chatID, agent, string(StatusQueued), DefaultMaxAttempts)
		if err != nil && isUniqueViolation(err) {
			return ErrActiveRunConflict
		}
		return err
	})
}

// ErrActiveRunConflict is returned when a chat already has an active-state
// RunJob, per spec §7's active-run-conflict error case.
var ErrActiveRunConflict = fmt.Errorf("active run already exists for this chat")

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(err.Error(), "UNIQUE constraint failed", "constraint failed: UNIQUE")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

// ClaimNextRunJob leases the oldest available queued run for botID.
func (s *Store) ClaimNextRunJob(ctx context.Context, botID, leaseOwner string, leaseTTL time.Duration) (*RunJob, error) {
	var job *RunJob
	err := retryOnBusy(ctx, 5, func() error {
		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return txErr
		}
		defer tx.Rollback()

		row := tx.QueryRowContext(ctx, `
			SELECT `+runJobColumns+`
			FROM run_jobs
			WHERE bot_id = ? AND status = ? AND available_at <= CURRENT_TIMESTAMP
			ORDER BY available_at ASC, created_at ASC
			LIMIT 1;
		`, botID, string(StatusQueued))
		j, scanErr := scanRunJob(row.Scan)
		if scanErr == sql.ErrNoRows {
			job = nil
			return nil
		}
		if scanErr != nil {
			return fmt.Errorf("scan run_job: %w", scanErr)
		}

		expires := time.Now().Add(leaseTTL)
		res, execErr := tx.ExecContext(ctx, `
			UPDATE run_jobs
			SET status = ?, lease_owner = ?, lease_expires_at = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND status = ?;
		`, string(StatusLeased), leaseOwner, expires, j.ID, string(StatusQueued))
		if execErr != nil {
			return fmt.Errorf("lease run_job: %w", execErr)
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			job = nil
			return nil
		}
		j.Status = StatusLeased
		j.LeaseOwner = leaseOwner
		j.LeaseExpiresAt = &expires
		if commitErr := tx.Commit(); commitErr != nil {
			return commitErr
		}
		job = j
		return nil
	})
	return job, err
}

// StartRunJob transitions leased -> in_flight, verifying the caller still
// owns the lease.
func (s *Store) StartRunJob(ctx context.Context, id, leaseOwner string) error {
	return s.transitionRunJob(ctx, id, leaseOwner, StatusInFlight, "", false)
}

// HeartbeatRunJob extends the lease for an in-flight run. Returns false
// (without error) if the caller no longer owns the lease, per spec's
// worker-abandons-job-if-extend-fails rule.
func (s *Store) HeartbeatRunJob(ctx context.Context, id, leaseOwner string, leaseTTL time.Duration) (bool, error) {
	var ok bool
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE run_jobs
			SET lease_expires_at = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND lease_owner = ? AND status IN (?, ?);
		`, time.Now().Add(leaseTTL), id, leaseOwner, string(StatusLeased), string(StatusInFlight))
		if err != nil {
			return err
		}
		rows, _ := res.RowsAffected()
		ok = rows > 0
		return nil
	})
	return ok, err
}

// CompleteRunJob transitions in_flight -> completed.
func (s *Store) CompleteRunJob(ctx context.Context, id, leaseOwner string) error {
	return s.transitionRunJob(ctx, id, leaseOwner, StatusCompleted, "", false)
}

// FailRunJob transitions in_flight -> failed, or back to queued for retry.
func (s *Store) FailRunJob(ctx context.Context, id, leaseOwner, errMsg string, retry bool) error {
	target := StatusFailed
	if retry {
		target = StatusQueued
	}
	return s.transitionRunJob(ctx, id, leaseOwner, target, errMsg, retry)
}

// CancelRunJob marks a run as cancelled (used by the soft-signal
// cancellation path, which always terminates in a synthetic
// turn_completed(cancelled) event regardless of which state the run was in).
func (s *Store) CancelRunJob(ctx context.Context, id, leaseOwner string) error {
	return s.transitionRunJob(ctx, id, leaseOwner, StatusCancelled, "", false)
}

// RequestCancel flags a run job for cooperative cancellation; RunWorker
// checks this at every CliEvent boundary (spec §5).
func (s *Store) RequestCancel(ctx context.Context, runJobID string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE run_jobs SET cancel_requested = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, runJobID)
		return err
	})
}

func (s *Store) IsCancelRequested(ctx context.Context, runJobID string) (bool, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT cancel_requested FROM run_jobs WHERE id = ?`, runJobID).Scan(&v)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (s *Store) transitionRunJob(ctx context.Context, id, leaseOwner string, to JobStatus, errMsg string, retry bool) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var from string
		var attempts int
		if err := tx.QueryRowContext(ctx, `SELECT status, attempts FROM run_jobs WHERE id = ? AND lease_owner = ?`, id, leaseOwner).Scan(&from, &attempts); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("run_job %s not owned by lease %s", id, leaseOwner)
			}
			return err
		}
		if !canTransition(runJobTransitions, JobStatus(from), to) {
			return fmt.Errorf("illegal run_job transition %s -> %s", from, to)
		}

		clearLease := to == StatusCompleted || to == StatusFailed || to == StatusCancelled
		var nextAvailable any = nil
		attemptsDelta := 0
		if retry {
			attemptsDelta = 1
			nextAvailable = time.Now().Add(retryBackoff(attempts + 1))
			clearLease = true
		}

		var res sql.Result
		if clearLease {
			res, err = tx.ExecContext(ctx, `
				UPDATE run_jobs
				SET status = ?, attempts = attempts + ?, last_error = ?,
					lease_owner = NULL, lease_expires_at = NULL,
					available_at = COALESCE(?, available_at),
					updated_at = CURRENT_TIMESTAMP
				WHERE id = ? AND lease_owner = ?;
			`, string(to), attemptsDelta, nullIfEmpty(errMsg), nextAvailable, id, leaseOwner)
		} else {
			res, err = tx.ExecContext(ctx, `
				UPDATE run_jobs SET status = ?, updated_at = CURRENT_TIMESTAMP
				WHERE id = ? AND lease_owner = ?;
			`, string(to), id, leaseOwner)
		}
		if err != nil {
			return fmt.Errorf("transition run_job: %w", err)
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			return fmt.Errorf("run_job %s lease no longer held by %s", id, leaseOwner)
		}
		return tx.Commit()
	})
}

// ReclaimExpiredRunJobs requeues leased/in_flight runs whose lease expired.
func (s *Store) ReclaimExpiredRunJobs(ctx context.Context) (int64, error) {
	var n int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE run_jobs
			SET status = ?, lease_owner = NULL, lease_expires_at = NULL, updated_at = CURRENT_TIMESTAMP
			WHERE status IN (?, ?) AND lease_expires_at IS NOT NULL AND lease_expires_at < CURRENT_TIMESTAMP;
		`, string(StatusQueued), string(StatusLeased), string(StatusInFlight))
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// GetRunJob fetches a single run job by id.
func (s *Store) GetRunJob(ctx context.Context, id string) (*RunJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runJobColumns+` FROM run_jobs WHERE id = ?`, id)
	return scanRunJob(row.Scan)
}

// ActiveRunJobForChat returns the run job currently occupying this chat's
// active-run-uniqueness slot (status queued, leased, or in_flight), or nil
// if the chat has none. Used by SessionService.SwitchAgent to check the
// forbidden-during-active-run rule scoped to one chat rather than a whole bot.
func (s *Store) ActiveRunJobForChat(ctx context.Context, botID string, chatID int64) (*RunJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runJobColumns+` FROM run_jobs
		WHERE bot_id = ? AND chat_id = ? AND status IN (?, ?, ?);
	`, botID, chatID, string(StatusQueued), string(StatusLeased), string(StatusInFlight))
	j, err := scanRunJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

// InFlightRunCount supports the Metrics readout (spec §4.8).
func (s *Store) InFlightRunCount(ctx context.Context, botID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM run_jobs WHERE bot_id = ? AND status = ?`, botID, string(StatusInFlight)).Scan(&n)
	return n, err
}

// JobsByStatus aggregates both queue tables for the /metrics readout.
func (s *Store) JobsByStatus(ctx context.Context, botID string) (map[string]int, error) {
	out := map[string]int{}
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(1) FROM update_jobs WHERE bot_id = ? GROUP BY status
		UNION ALL
		SELECT status, COUNT(1) FROM run_jobs WHERE bot_id = ? GROUP BY status;
	`, botID, botID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] += n
	}
	return out, rows.Err()
}
