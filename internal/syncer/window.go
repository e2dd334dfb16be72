// internal/syncer/window.go
package syncer

import (
	"time"

	"streak-service/internal/dates"
	"streak-service/internal/model"
	"streak-service/internal/streak"
)

const (
	// InitialLookbackDays is the first backfill window.
	InitialLookbackDays = 90
	// LookbackStepDays is the fixed expansion step when a streak touches
	// the fetch boundary.
	LookbackStepDays = 90
	// MaxLookbackDays caps history at five years.
	MaxLookbackDays = 1825

	// safetyWindow is subtracted from the last-synced point on incremental
	// syncs to absorb clock skew and late-arriving events.
	safetyWindow = 6 * time.Hour
)

// clampLookback resolves a job-supplied lookback to [Initial, Max] days.
func clampLookback(days int) int {
	if days <= 0 {
		return InitialLookbackDays
	}
	if days > MaxLookbackDays {
		return MaxLookbackDays
	}
	return days
}

// syncWindow selects the fetch window for a job. Backfills reach back the
// requested lookback; every other reason continues from the last synced
// point minus the safety window, falling back to a fresh backfill window
// when the connection has never synced.
func syncWindow(job model.SyncJob, conn *model.Connection, now time.Time) (since, until time.Time, lookbackDays int) {
	lookbackDays = clampLookback(job.LookbackDays)
	backfillSince := now.AddDate(0, 0, -lookbackDays)

	switch job.Reason {
	case model.ReasonInitialBackfill:
		return backfillSince, now, lookbackDays
	case model.ReasonIncrementalPush, model.ReasonRepoSetChanged, model.ReasonReconcile:
		if conn.LastSyncedAt == nil {
			return backfillSince, now, lookbackDays
		}
		return conn.LastSyncedAt.Add(-safetyWindow), now, lookbackDays
	default:
		// Unknown reasons behave like a reconcile so a bad row cannot
		// wedge the queue.
		if conn.LastSyncedAt == nil {
			return backfillSince, now, lookbackDays
		}
		return conn.LastSyncedAt.Add(-safetyWindow), now, lookbackDays
	}
}

// NextBackfill is the post-completion hook for adaptive expansion: given
// the streak recomputed after an initial backfill and the lookback that
// job actually used, it returns the follow-up job spec when the streak
// still touches the fetch boundary, or nil when backfill is done.
func NextBackfill(res streak.Result, usedLookbackDays int, job model.SyncJob, now time.Time, timeZone string) *model.SyncJob {
	if usedLookbackDays >= MaxLookbackDays {
		return nil
	}
	lookbackStartKey := dates.TimeToDateKey(now.AddDate(0, 0, -usedLookbackDays), timeZone)
	if !streak.TouchesLookbackBoundary(res, lookbackStartKey) {
		return nil
	}

	next := usedLookbackDays + LookbackStepDays
	if next > MaxLookbackDays {
		next = MaxLookbackDays
	}
	return &model.SyncJob{
		UserID:         job.UserID,
		InstallationID: job.InstallationID,
		Repo:           job.Repo,
		Reason:         model.ReasonInitialBackfill,
		LookbackDays:   next,
	}
}
