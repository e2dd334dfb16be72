// internal/store/commits.go
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"streak-service/internal/dates"
	"streak-service/internal/model"
)

const (
	// CommitPageSize bounds one page of the newest-first commit scan.
	CommitPageSize = 500
	// MaxCommitPages caps pages read per scan so a streak recompute over a
	// very large history has bounded latency.
	MaxCommitPages = 240
)

const insertCommitSQL = `
	INSERT INTO commit_events
		(user_id, repo_full_name, repo_id, sha, message, url, additions, deletions, files_changed, authored_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (user_id, sha) DO NOTHING;`

const upsertDailyStatSQL = `
	INSERT INTO daily_stats (user_id, date_key, commit_count, loc_changed, avg_commit_size, repos, updated_at)
	VALUES ($1, $2, 1, $3, $3, ARRAY[$4::text], $5)
	ON CONFLICT (user_id, date_key) DO UPDATE SET
		commit_count    = daily_stats.commit_count + 1,
		loc_changed     = daily_stats.loc_changed + EXCLUDED.loc_changed,
		avg_commit_size = ROUND((daily_stats.loc_changed + EXCLUDED.loc_changed)::numeric
		                        / (daily_stats.commit_count + 1))::int,
		repos           = CASE WHEN $4::text = ANY (daily_stats.repos)
		                       THEN daily_stats.repos
		                       ELSE array_append(daily_stats.repos, $4::text) END,
		updated_at      = EXCLUDED.updated_at;`

// InsertCommitIfAbsent atomically inserts a commit keyed on (userID, sha)
// and, only when the insert actually happened, folds it into that day's
// aggregate. Invoking it twice with the same sha is a no-op the second
// time: inserted is false and no count moves.
func (s *Store) InsertCommitIfAbsent(ctx context.Context, event model.CommitEvent, timeZone string) (inserted bool, err error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning commit insert tx: %w", err)
	}
	defer tx.Rollback(ctx) // no-op once committed

	ct, err := tx.Exec(ctx, insertCommitSQL,
		event.UserID, event.RepoFullName, event.RepoID, event.SHA,
		event.Message, event.URL, event.Additions, event.Deletions,
		event.FilesChanged, event.AuthoredAt,
	)
	if err != nil {
		return false, fmt.Errorf("inserting commit %s: %w", event.SHA, err)
	}
	if ct.RowsAffected() == 0 {
		// Duplicate sha: nothing to aggregate.
		return false, tx.Commit(ctx)
	}

	dateKey := dates.TimeToDateKey(event.AuthoredAt, timeZone)
	_, err = tx.Exec(ctx, upsertDailyStatSQL,
		event.UserID, dateKey, event.Size(), event.RepoFullName, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("updating daily stat for %s: %w", dateKey, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing insert tx: %w", err)
	}
	return true, nil
}

// CommitCursor is a keyset-pagination position in the newest-first commit
// scan.
type CommitCursor struct {
	AuthoredAt time.Time
	SHA        string
}

const commitPageSQL = `
	SELECT user_id, repo_full_name, repo_id, sha, message, url, additions, deletions, files_changed, authored_at
	FROM commit_events
	WHERE user_id = $1
	ORDER BY authored_at DESC, sha DESC
	LIMIT $2;`

const commitPageAfterSQL = `
	SELECT user_id, repo_full_name, repo_id, sha, message, url, additions, deletions, files_changed, authored_at
	FROM commit_events
	WHERE user_id = $1 AND (authored_at, sha) < ($2, $3)
	ORDER BY authored_at DESC, sha DESC
	LIMIT $4;`

// CommitPage reads one newest-first page of a user's commits. A nil cursor
// starts from the top; the returned cursor is nil once the scan is done.
func (s *Store) CommitPage(ctx context.Context, userID string, cursor *CommitCursor, limit int) ([]model.CommitEvent, *CommitCursor, error) {
	if limit <= 0 || limit > CommitPageSize {
		limit = CommitPageSize
	}

	var rows pgx.Rows
	var err error
	if cursor == nil {
		rows, err = s.conn.Query(ctx, commitPageSQL, userID, limit)
	} else {
		rows, err = s.conn.Query(ctx, commitPageAfterSQL, userID, cursor.AuthoredAt, cursor.SHA, limit)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("querying commit page: %w", err)
	}
	defer rows.Close()

	commits := make([]model.CommitEvent, 0, limit)
	for rows.Next() {
		var c model.CommitEvent
		err := rows.Scan(&c.UserID, &c.RepoFullName, &c.RepoID, &c.SHA, &c.Message,
			&c.URL, &c.Additions, &c.Deletions, &c.FilesChanged, &c.AuthoredAt)
		if err != nil {
			return nil, nil, fmt.Errorf("scanning commit row: %w", err)
		}
		commits = append(commits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("reading commit rows: %w", err)
	}

	if len(commits) < limit {
		return commits, nil, nil
	}
	last := commits[len(commits)-1]
	return commits, &CommitCursor{AuthoredAt: last.AuthoredAt, SHA: last.SHA}, nil
}

// CommitDayKeys scans the user's whole history newest-first and returns the
// deduplicated set of calendar-local day keys, bounded by MaxCommitPages.
func (s *Store) CommitDayKeys(ctx context.Context, userID, timeZone string) (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	var cursor *CommitCursor
	for page := 0; page < MaxCommitPages; page++ {
		commits, next, err := s.CommitPage(ctx, userID, cursor, CommitPageSize)
		if err != nil {
			return nil, err
		}
		for _, c := range commits {
			keys[dates.TimeToDateKey(c.AuthoredAt, timeZone)] = struct{}{}
		}
		if next == nil {
			return keys, nil
		}
		cursor = next
	}
	s.logger.Warn("Commit scan hit page cap; day-key set may be truncated",
		"user_id", userID, "pages", MaxCommitPages)
	return keys, nil
}

// LatestCommitTime returns the authored time of the user's newest commit,
// or nil when none exist.
func (s *Store) LatestCommitTime(ctx context.Context, userID string) (*time.Time, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT authored_at FROM commit_events WHERE user_id = $1 ORDER BY authored_at DESC LIMIT 1;`,
		userID,
	)
	var t time.Time
	if err := row.Scan(&t); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying latest commit time: %w", err)
	}
	return &t, nil
}

// DeleteUserData removes all commit events and daily stats for a user, in
// one transaction. Used by the disconnect and full-resync flows.
func (s *Store) DeleteUserData(ctx context.Context, userID string) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning wipe tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM commit_events WHERE user_id = $1;`, userID); err != nil {
		return fmt.Errorf("deleting commit events: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM daily_stats WHERE user_id = $1;`, userID); err != nil {
		return fmt.Errorf("deleting daily stats: %w", err)
	}
	return tx.Commit(ctx)
}
