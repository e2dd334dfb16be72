// internal/store/stats.go
package store

import (
	"context"
	"fmt"

	"streak-service/internal/model"
)

const dailyStatColumns = `user_id, date_key, commit_count, loc_changed, avg_commit_size, repos, updated_at`

// DailyStat returns the aggregate for one user-day, or nil when the day
// has no commits yet.
func (s *Store) DailyStat(ctx context.Context, userID, dateKey string) (*model.DailyStat, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT `+dailyStatColumns+` FROM daily_stats WHERE user_id = $1 AND date_key = $2;`,
		userID, dateKey,
	)
	var st model.DailyStat
	err := row.Scan(&st.UserID, &st.DateKey, &st.CommitCount, &st.LocChanged,
		&st.AvgCommitSize, &st.Repos, &st.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying daily stat %s: %w", dateKey, err)
	}
	return &st, nil
}

// DailyStatRange lists aggregates between two date keys inclusive, newest
// first.
func (s *Store) DailyStatRange(ctx context.Context, userID, fromKey, toKey string) ([]model.DailyStat, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT `+dailyStatColumns+` FROM daily_stats
		 WHERE user_id = $1 AND date_key >= $2 AND date_key <= $3
		 ORDER BY date_key DESC;`,
		userID, fromKey, toKey,
	)
	if err != nil {
		return nil, fmt.Errorf("querying daily stat range: %w", err)
	}
	defer rows.Close()

	var stats []model.DailyStat
	for rows.Next() {
		var st model.DailyStat
		err := rows.Scan(&st.UserID, &st.DateKey, &st.CommitCount, &st.LocChanged,
			&st.AvgCommitSize, &st.Repos, &st.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning daily stat row: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading daily stat rows: %w", err)
	}
	return stats, nil
}
