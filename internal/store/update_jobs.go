package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AcceptUpdate is the Ingress "accept" transaction (spec §4.2): insert the
// dedup row, and only on success enqueue an UpdateJob. Returns accepted=false
// when the update was already seen, in which case the caller must stop
// (count the duplicate and do nothing else) rather than enqueue again.
func (s *Store) AcceptUpdate(ctx context.Context, botID string, updateID, chatID, fromUserID int64, kind UpdateJobKind, payload string) (accepted bool, jobID string, err error) {
	err = retryOnBusy(ctx, 5, func() error {
		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("begin accept tx: %w", txErr)
		}
		defer tx.Rollback()

		res, execErr := tx.ExecContext(ctx, `
			INSERT INTO telegram_updates (bot_id, update_id) VALUES (?, ?)
			ON CONFLICT (bot_id, update_id) DO NOTHING;
		`, botID, updateID)
		if execErr != nil {
			return fmt.Errorf("insert telegram_update: %w", execErr)
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			accepted = false
			return tx.Commit()
		}

		jobID = uuid.NewString()
		_, execErr = tx.ExecContext(ctx, `
			INSERT INTO update_jobs
				(id, bot_id, update_id, chat_id, from_user_id, kind, payload, status, max_attempts, available_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
		`, jobID, botID, updateID, chatID, fromUserID, string(kind), payload, string(StatusQueued), DefaultMaxAttempts)
		if execErr != nil {
			return fmt.Errorf("insert update_job: %w", execErr)
		}
		accepted = true
		return tx.Commit()
	})
	return accepted, jobID, err
}

func scanUpdateJob(scan func(dest ...any) error) (*UpdateJob, error) {
	var j UpdateJob
	var status, kind string
	var leaseOwner, lastError sql.NullString
	var leaseExpiresAt sql.NullTime
	if err := scan(&j.ID, &j.BotID, &j.UpdateID, &j.ChatID, &j.FromUserID, &kind, &j.Payload,
		&status, &j.Attempts, &j.MaxAttempts, &lastError, &leaseOwner, &leaseExpiresAt,
		&j.AvailableAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Kind = UpdateJobKind(kind)
	j.Status = JobStatus(status)
	j.LastError = lastError.String
	j.LeaseOwner = leaseOwner.String
	if leaseExpiresAt.Valid {
		t := leaseExpiresAt.Time
		j.LeaseExpiresAt = &t
	}
	return &j, nil
}

const updateJobColumns = `id, bot_id, update_id, chat_id, from_user_id, kind, payload,
	status, attempts, max_attempts, last_error, lease_owner, lease_expires_at,
	available_at, created_at, updated_at`

// ClaimNextUpdateJob leases the oldest available queued job for botID,
// mirroring the teacher's claimNextPendingTask pattern: select, then a
// conditional UPDATE re-checked by rows-affected, inside one transaction.
func (s *Store) ClaimNextUpdateJob(ctx context.Context, botID, leaseOwner string, leaseTTL time.Duration) (*UpdateJob, error) {
	var job *UpdateJob
	err := retryOnBusy(ctx, 5, func() error {
		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return txErr
		}
		defer tx.Rollback()

		row := tx.QueryRowContext(ctx, `
			SELECT `+updateJobColumns+`
			FROM update_jobs
			WHERE bot_id = ? AND status = ? AND available_at <= CURRENT_TIMESTAMP
			ORDER BY available_at ASC, created_at ASC
			LIMIT 1;
		`, botID, string(StatusQueued))
		j, scanErr := scanUpdateJob(row.Scan)
		if scanErr == sql.ErrNoRows {
			job = nil
			return nil
		}
		if scanErr != nil {
			return fmt.Errorf("scan update_job: %w", scanErr)
		}

		expires := time.Now().Add(leaseTTL)
		res, execErr := tx.ExecContext(ctx, `
			UPDATE update_jobs
			SET status = ?, lease_owner = ?, lease_expires_at = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND status = ?;
		`, string(StatusLeased), leaseOwner, expires, j.ID, string(StatusQueued))
		if execErr != nil {
			return fmt.Errorf("lease update_job: %w", execErr)
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			// Someone else claimed it between the SELECT and the UPDATE.
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

// CompleteUpdateJob transitions a leased job to completed, verifying lease
// ownership so a worker that lost its lease can never finalize a job it no
// longer owns.
func (s *Store) CompleteUpdateJob(ctx context.Context, id, leaseOwner string) error {
	return s.transitionUpdateJob(ctx, id, leaseOwner, StatusCompleted, "")
}

// FailUpdateJob transitions a leased job to failed (or back to queued for
// retry, chosen by the caller) and records the error.
func (s *Store) FailUpdateJob(ctx context.Context, id, leaseOwner, errMsg string, retry bool) error {
	target := StatusFailed
	if retry {
		target = StatusQueued
	}
	return s.transitionUpdateJob(ctx, id, leaseOwner, target, errMsg)
}

func (s *Store) transitionUpdateJob(ctx context.Context, id, leaseOwner string, to JobStatus, errMsg string) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var from string
		var attempts int
		if err := tx.QueryRowContext(ctx, `SELECT status, attempts FROM update_jobs WHERE id = ? AND lease_owner = ?`, id, leaseOwner).Scan(&from, &attempts); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("update_job %s not owned by lease %s", id, leaseOwner)
			}
			return err
		}
		if !canTransition(updateJobTransitions, JobStatus(from), to) {
			return fmt.Errorf("illegal update_job transition %s -> %s", from, to)
		}

		attemptsDelta := 0
		var nextAvailable any = nil
		clearLease := to == StatusCompleted || to == StatusFailed || to == StatusCancelled
		if to == StatusQueued {
			attemptsDelta = 1
			nextAvailable = time.Now().Add(retryBackoff(attempts + 1))
			clearLease = true
		}

		var res sql.Result
		if clearLease {
			res, err = tx.ExecContext(ctx, `
				UPDATE update_jobs
				SET status = ?, attempts = attempts + ?, last_error = ?,
					lease_owner = NULL, lease_expires_at = NULL,
					available_at = COALESCE(?, available_at),
					updated_at = CURRENT_TIMESTAMP
				WHERE id = ? AND lease_owner = ?;
			`, string(to), attemptsDelta, nullIfEmpty(errMsg), nextAvailable, id, leaseOwner)
		} else {
			res, err = tx.ExecContext(ctx, `
				UPDATE update_jobs SET status = ?, updated_at = CURRENT_TIMESTAMP
				WHERE id = ? AND lease_owner = ?;
			`, string(to), id, leaseOwner)
		}
		if err != nil {
			return fmt.Errorf("transition update_job: %w", err)
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			return fmt.Errorf("update_job %s lease no longer held by %s", id, leaseOwner)
		}
		return tx.Commit()
	})
}

// ReclaimExpiredUpdateJobs requeues any leased job whose lease has expired,
// regardless of which worker originally held it. Any worker may run this;
// it is the teacher's RequeueExpiredLeases pattern.
func (s *Store) ReclaimExpiredUpdateJobs(ctx context.Context) (int64, error) {
	var n int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE update_jobs
			SET status = ?, lease_owner = NULL, lease_expires_at = NULL, updated_at = CURRENT_TIMESTAMP
			WHERE status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < CURRENT_TIMESTAMP;
		`, string(StatusQueued), string(StatusLeased))
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

func retryBackoff(attempt int) time.Duration {
	d := retryBaseDelay * time.Duration(1<<uint(attempt))
	if d > retryMaxDelay {
		d = retryMaxDelay
	}
	return d
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
