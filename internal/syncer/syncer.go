// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"streak-service/internal/dates"
	apperrors "streak-service/internal/errors"
	"streak-service/internal/github"
	"streak-service/internal/model"
	"streak-service/internal/store"
	"streak-service/internal/streak"
)

const (
	// claimBatchSize bounds one claim round.
	claimBatchSize = 10
	// jobConcurrency bounds in-flight jobs per round.
	jobConcurrency = 3
	// maxDrainRounds caps rounds per trigger so one invocation drains a
	// backlog (a burst of adaptive-backfill follow-ups) without running
	// unbounded.
	maxDrainRounds = 8
)

// Provider is the slice of the commit-history API the worker consumes.
type Provider interface {
	InstallationToken(ctx context.Context, installationID int64) (string, error)
	ListInstallationRepos(ctx context.Context, token string) ([]github.RepoRef, error)
	GetRepo(ctx context.Context, token, owner, name string) (github.RepoRef, error)
	ListCommits(ctx context.Context, token, owner, repo, branch, author string, since, until time.Time) ([]github.CommitRef, error)
	CommitDetail(ctx context.Context, token, owner, repo, sha string) (model.CommitEvent, error)
}

// Store is the persistence surface the worker writes through.
type Store interface {
	Connection(ctx context.Context, userID string) (*model.Connection, error)
	Goals(ctx context.Context, userID string) (model.Goals, error)
	InsertCommitIfAbsent(ctx context.Context, event model.CommitEvent, timeZone string) (bool, error)
	CommitDayKeys(ctx context.Context, userID, timeZone string) (map[string]struct{}, error)
	SetCachedStreak(ctx context.Context, userID string, streak int, at time.Time) error
	SetSyncStatus(ctx context.Context, userID string, status model.SyncStatus, code, message string) error
	UpdateSyncBookkeeping(ctx context.Context, userID string, b store.SyncBookkeeping) error
	EnqueueJob(ctx context.Context, job model.SyncJob) (bool, error)
	ClaimJobs(ctx context.Context, limit int, now time.Time) ([]model.SyncJob, error)
	CompleteJob(ctx context.Context, jobID string) error
	FailJob(ctx context.Context, jobID string, attempt int, errorMessage string, now time.Time) error
}

// Syncer claims queued jobs and executes them against the provider API.
type Syncer struct {
	store    Store
	provider Provider
	logger   *slog.Logger
	interval time.Duration
	kick     chan struct{}
}

// New creates a Syncer draining the queue every interval.
func New(st Store, provider Provider, logger *slog.Logger, interval time.Duration) *Syncer {
	return &Syncer{
		store:    st,
		provider: provider,
		logger:   logger,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests an immediate drain (webhook deliveries and manual sync
// triggers use this instead of waiting for the next tick).
func (s *Syncer) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Start runs the periodic drain loop until ctx is cancelled.
func (s *Syncer) Start(ctx context.Context) {
	s.logger.Info("Starting sync worker", "interval", s.interval.String(), "concurrency", jobConcurrency)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Drain(ctx)

	for {
		select {
		case <-ticker.C:
			s.Drain(ctx)
		case <-s.kick:
			s.Drain(ctx)
		case <-ctx.Done():
			s.logger.Info("Sync worker shutting down", "reason", ctx.Err())
			return
		}
	}
}

// Drain claims and processes pending jobs in rounds until no claimable
// jobs remain or the round cap is hit. Errors inside one job never abort
// the batch.
func (s *Syncer) Drain(ctx context.Context) {
	for round := 0; round < maxDrainRounds; round++ {
		jobs, err := s.store.ClaimJobs(ctx, claimBatchSize, time.Now().UTC())
		if err != nil {
			s.logger.Error("Failed to claim jobs", "error", err)
			return
		}
		if len(jobs) == 0 {
			return
		}
		s.logger.Info("Claimed sync jobs", "count", len(jobs), "round", round)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(jobConcurrency)
		for _, job := range jobs {
			job := job
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				s.runJob(gctx, job)
				return nil
			})
		}
		_ = g.Wait()

		if ctx.Err() != nil {
			return
		}
	}
	s.logger.Warn("Drain hit round cap with jobs still pending")
}

// runJob executes one claimed job and converts any failure into queue and
// connection state transitions.
func (s *Syncer) runJob(ctx context.Context, job model.SyncJob) {
	logger := s.logger.With("job_id", job.ID, "user_id", job.UserID, "reason", job.Reason)

	err := s.ProcessJob(ctx, job)
	if err == nil {
		if err := s.store.CompleteJob(ctx, job.ID); err != nil {
			logger.Error("Failed to mark job completed", "error", err)
		}
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}

	se := apperrors.AsSyncError(err)
	logger.Error("Job processing failed", "code", se.Code, "error", err)

	if err := s.store.SetSyncStatus(ctx, job.UserID, model.SyncError, string(se.Code), se.Message); err != nil {
		logger.Error("Failed to record connection error state", "error", err)
	}
	if err := s.store.FailJob(ctx, job.ID, job.Attempts+1, se.Error(), time.Now().UTC()); err != nil {
		logger.Error("Failed to route job through retry", "error", err)
	}
}

// ProcessJob runs the fetch-ingest-recompute pipeline for one job.
func (s *Syncer) ProcessJob(ctx context.Context, job model.SyncJob) error {
	logger := s.logger.With("job_id", job.ID, "user_id", job.UserID, "reason", job.Reason)

	conn, err := s.store.Connection(ctx, job.UserID)
	if err != nil {
		return err
	}
	if conn == nil {
		// Disconnected while the job was queued: complete without effect.
		logger.Info("Connection gone, skipping job")
		return nil
	}

	if err := s.store.SetSyncStatus(ctx, job.UserID, model.SyncSyncing, "", ""); err != nil {
		return err
	}

	goals, err := s.store.Goals(ctx, job.UserID)
	if err != nil {
		return err
	}

	token, err := s.provider.InstallationToken(ctx, conn.InstallationID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	since, until, lookbackDays := syncWindow(job, conn, now)
	logger.Info("Syncing window", "since", since.Format(time.RFC3339), "until", until.Format(time.RFC3339))

	repos, err := s.resolveRepos(ctx, token, job)
	if err != nil {
		return err
	}

	var earliest, latest *time.Time
	for _, repo := range repos {
		e, l, err := s.syncRepo(ctx, token, conn, goals.TimeZone, repo, since, until)
		if err != nil {
			return err
		}
		earliest = minTime(earliest, e)
		latest = maxTime(latest, l)
	}

	res, err := s.recomputeStreak(ctx, job.UserID, goals.TimeZone, now)
	if err != nil {
		return err
	}

	book := store.SyncBookkeeping{
		LastSyncedAt:     now,
		EarliestCommitAt: earliest,
		LatestCommitAt:   latest,
		Status:           model.SyncIdle,
	}

	if job.Reason == model.ReasonInitialBackfill {
		if next := NextBackfill(res, lookbackDays, job, now, goals.TimeZone); next != nil {
			// Streak still touches the fetch boundary: chain a wider
			// backfill and stay in the syncing state.
			enqueued, err := s.store.EnqueueJob(ctx, *next)
			if err != nil {
				return err
			}
			logger.Info("Streak touches lookback boundary, expanding backfill",
				"next_lookback_days", next.LookbackDays, "enqueued", enqueued)
			book.Status = model.SyncSyncing
			return s.store.UpdateSyncBookkeeping(ctx, job.UserID, book)
		}
		historyDone := now
		book.HistorySyncedAt = &historyDone
	}

	return s.store.UpdateSyncBookkeeping(ctx, job.UserID, book)
}

// resolveRepos narrows to the job's target repository when set, otherwise
// enumerates everything visible to the installation.
func (s *Syncer) resolveRepos(ctx context.Context, token string, job model.SyncJob) ([]github.RepoRef, error) {
	if job.Repo == "" {
		return s.provider.ListInstallationRepos(ctx, token)
	}
	owner, name, ok := splitRepo(job.Repo)
	if !ok {
		return nil, &apperrors.ErrInvalidRepoFormat{Repo: job.Repo}
	}
	repo, err := s.provider.GetRepo(ctx, token, owner, name)
	if err != nil {
		if apperrors.IsNotFound(err) {
			// Repo removed from the installation since the job was queued.
			return nil, nil
		}
		return nil, err
	}
	return []github.RepoRef{repo}, nil
}

// syncRepo ingests one repository's commits in provider-listing order and
// returns the earliest/latest authored timestamps observed.
func (s *Syncer) syncRepo(ctx context.Context, token string, conn *model.Connection, timeZone string, repo github.RepoRef, since, until time.Time) (earliest, latest *time.Time, err error) {
	refs, err := s.provider.ListCommits(ctx, token, repo.Owner, repo.Name, repo.DefaultBranch, conn.AccountLogin, since, until)
	if err != nil {
		return nil, nil, err
	}
	if len(refs) == 0 {
		return nil, nil, nil
	}
	s.logger.Info("Found commits", "repo", repo.FullName, "count", len(refs))

	for _, ref := range refs {
		event, err := s.provider.CommitDetail(ctx, token, repo.Owner, repo.Name, ref.SHA)
		if err != nil {
			if apperrors.IsNotFound(err) {
				continue
			}
			return nil, nil, err
		}
		event.UserID = conn.UserID
		event.RepoID = repo.ID

		if _, err := s.store.InsertCommitIfAbsent(ctx, event, timeZone); err != nil {
			return nil, nil, err
		}

		t := event.AuthoredAt
		earliest = minTime(earliest, &t)
		latest = maxTime(latest, &t)
	}
	return earliest, latest, nil
}

// recomputeStreak refreshes the cached streak from the full stored event
// set.
func (s *Syncer) recomputeStreak(ctx context.Context, userID, timeZone string, now time.Time) (streak.Result, error) {
	keys, err := s.store.CommitDayKeys(ctx, userID, timeZone)
	if err != nil {
		return streak.Result{}, err
	}
	res := streak.ComputeFromKeys(keys, dates.TimeToDateKey(now, timeZone))
	if err := s.store.SetCachedStreak(ctx, userID, res.Length, now); err != nil {
		return streak.Result{}, err
	}
	return res, nil
}

func splitRepo(full string) (owner, name string, ok bool) {
	parts := strings.Split(full, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func minTime(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil || a.Before(*b) {
		return a
	}
	return b
}

func maxTime(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil || a.After(*b) {
		return a
	}
	return b
}
