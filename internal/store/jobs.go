// internal/store/jobs.go
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"streak-service/internal/model"
)

const (
	// MaxJobAttempts is the retry ceiling; at this attempt count a failure
	// becomes terminal.
	MaxJobAttempts = 6

	backoffBase = 5 * time.Second
	backoffCap  = 5 * time.Minute
)

// NextRunAfter is the retry schedule: now + min(cap, 5s * 2^attempt).
// Pure so the backoff curve is testable without a store.
func NextRunAfter(now time.Time, attempt int) time.Time {
	delay := backoffBase << uint(attempt)
	if delay > backoffCap || delay <= 0 {
		delay = backoffCap
	}
	return now.Add(delay)
}

// IsTerminal reports whether a failure at this attempt count exhausts the
// retry budget.
func IsTerminal(attempt int) bool {
	return attempt >= MaxJobAttempts
}

const jobColumns = `id, user_id, installation_id, repo, reason, lookback_days,
	status, attempts, run_after, dedupe_key, last_error, created_at`

func scanJob(row interface{ Scan(dest ...any) error }) (model.SyncJob, error) {
	var j model.SyncJob
	err := row.Scan(&j.ID, &j.UserID, &j.InstallationID, &j.Repo, &j.Reason,
		&j.LookbackDays, &j.Status, &j.Attempts, &j.RunAfter, &j.DedupeKey,
		&j.LastError, &j.CreatedAt)
	return j, err
}

// EnqueueJob inserts a pending job unless an equivalent one is already
// unresolved. Jobs carrying a delivery-id dedupe key are deduped on that
// key, so a retried webhook never double-enqueues; initial-backfill jobs
// are additionally deduped by (installation, reason, lookback) so an
// expanding-backfill chain never forks.
func (s *Store) EnqueueJob(ctx context.Context, job model.SyncJob) (enqueued bool, err error) {
	if !job.Reason.Valid() {
		return false, fmt.Errorf("enqueueing job: unknown reason %q", job.Reason)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.RunAfter.IsZero() {
		job.RunAfter = time.Now().UTC()
	}

	if job.DedupeKey != "" {
		var exists bool
		row := s.conn.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM sync_jobs
			  WHERE dedupe_key = $1 AND status IN ('pending', 'processing'));`,
			job.DedupeKey,
		)
		if err := row.Scan(&exists); err != nil {
			return false, fmt.Errorf("checking delivery dedupe: %w", err)
		}
		if exists {
			return false, nil
		}
	}

	if job.Reason == model.ReasonInitialBackfill {
		var exists bool
		row := s.conn.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM sync_jobs
			  WHERE installation_id = $1 AND reason = $2 AND lookback_days = $3
			    AND status IN ('pending', 'processing'));`,
			job.InstallationID, job.Reason, job.LookbackDays,
		)
		if err := row.Scan(&exists); err != nil {
			return false, fmt.Errorf("checking backfill dedupe: %w", err)
		}
		if exists {
			return false, nil
		}
	}

	_, err = s.conn.Exec(ctx,
		`INSERT INTO sync_jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);`,
		job.ID, job.UserID, job.InstallationID, job.Repo, job.Reason, job.LookbackDays,
		model.JobPending, job.Attempts, job.RunAfter, job.DedupeKey, "", time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("enqueueing job: %w", err)
	}
	return true, nil
}

const claimJobsSQL = `
	UPDATE sync_jobs SET status = 'processing'
	WHERE id IN (
		SELECT id FROM sync_jobs
		WHERE status = 'pending' AND run_after <= $1
		ORDER BY run_after ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	)
	RETURNING ` + jobColumns + `;`

// ClaimJobs atomically flips up to limit due pending jobs to processing and
// returns them. SKIP LOCKED keeps concurrent claimers from ever returning
// the same job twice.
func (s *Store) ClaimJobs(ctx context.Context, limit int, now time.Time) ([]model.SyncJob, error) {
	rows, err := s.conn.Query(ctx, claimJobsSQL, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claiming jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.SyncJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning claimed job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading claimed jobs: %w", err)
	}
	return jobs, nil
}

// CompleteJob marks a job done and clears its error record.
func (s *Store) CompleteJob(ctx context.Context, jobID string) error {
	_, err := s.conn.Exec(ctx,
		`UPDATE sync_jobs SET status = $2, last_error = '' WHERE id = $1;`,
		jobID, model.JobCompleted,
	)
	if err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	return nil
}

// FailJob routes a failed job through the backoff policy: requeue with an
// exponentially later runAfter, or mark terminally failed once the attempt
// ceiling is hit.
func (s *Store) FailJob(ctx context.Context, jobID string, attempt int, errorMessage string, now time.Time) error {
	if IsTerminal(attempt) {
		_, err := s.conn.Exec(ctx,
			`UPDATE sync_jobs SET status = $2, attempts = $3, last_error = $4 WHERE id = $1;`,
			jobID, model.JobFailed, attempt, errorMessage,
		)
		if err != nil {
			return fmt.Errorf("failing job terminally: %w", err)
		}
		return nil
	}

	_, err := s.conn.Exec(ctx,
		`UPDATE sync_jobs SET status = $2, attempts = $3, run_after = $4, last_error = $5 WHERE id = $1;`,
		jobID, model.JobPending, attempt, NextRunAfter(now, attempt), errorMessage,
	)
	if err != nil {
		return fmt.Errorf("requeueing failed job: %w", err)
	}
	return nil
}

// PendingJobCount reports how many jobs are still unresolved for a user.
// Surfaced on the status endpoint as the sync-in-progress flag.
func (s *Store) PendingJobCount(ctx context.Context, userID string) (int, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM sync_jobs WHERE user_id = $1 AND status IN ('pending', 'processing');`,
		userID,
	)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("counting pending jobs: %w", err)
	}
	return n, nil
}
