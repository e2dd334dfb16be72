// internal/store/settings.go
package store

import (
	"context"
	"fmt"
	"time"

	"streak-service/internal/model"
)

// Goals returns the user's daily targets, falling back to defaults when
// none were configured yet.
func (s *Store) Goals(ctx context.Context, userID string) (model.Goals, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT user_id, commits_per_day, lines_per_day, push_by_hour, time_zone
		 FROM goals WHERE user_id = $1;`, userID)
	var g model.Goals
	err := row.Scan(&g.UserID, &g.CommitsPerDay, &g.LinesPerDay, &g.PushByHour, &g.TimeZone)
	if err != nil {
		if isNoRows(err) {
			return model.Goals{UserID: userID, PushByHour: 18, TimeZone: "UTC"}, nil
		}
		return model.Goals{}, fmt.Errorf("querying goals: %w", err)
	}
	return g, nil
}

// UpsertGoals stores the user's targets.
func (s *Store) UpsertGoals(ctx context.Context, g model.Goals) error {
	_, err := s.conn.Exec(ctx,
		`INSERT INTO goals (user_id, commits_per_day, lines_per_day, push_by_hour, time_zone)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE SET
			commits_per_day = EXCLUDED.commits_per_day,
			lines_per_day   = EXCLUDED.lines_per_day,
			push_by_hour    = EXCLUDED.push_by_hour,
			time_zone       = EXCLUDED.time_zone;`,
		g.UserID, g.CommitsPerDay, g.LinesPerDay, g.PushByHour, g.TimeZone,
	)
	if err != nil {
		return fmt.Errorf("upserting goals: %w", err)
	}
	return nil
}

const notificationColumns = `user_id, enabled, chat_id, quiet_hours_start, quiet_hours_end, time_zone, last_notified_at`

// NotificationConnection returns the user's messaging destination, or nil
// when none is configured.
func (s *Store) NotificationConnection(ctx context.Context, userID string) (*model.NotificationConnection, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notification_connections WHERE user_id = $1;`, userID)
	var n model.NotificationConnection
	err := row.Scan(&n.UserID, &n.Enabled, &n.ChatID, &n.QuietHoursStart,
		&n.QuietHoursEnd, &n.TimeZone, &n.LastNotifiedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying notification connection: %w", err)
	}
	return &n, nil
}

// UpsertNotificationConnection stores messaging settings. The last-notified
// stamp is deliberately not touched here; only the reminder engine moves it.
func (s *Store) UpsertNotificationConnection(ctx context.Context, n model.NotificationConnection) error {
	_, err := s.conn.Exec(ctx,
		`INSERT INTO notification_connections
			(user_id, enabled, chat_id, quiet_hours_start, quiet_hours_end, time_zone)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id) DO UPDATE SET
			enabled           = EXCLUDED.enabled,
			chat_id           = EXCLUDED.chat_id,
			quiet_hours_start = EXCLUDED.quiet_hours_start,
			quiet_hours_end   = EXCLUDED.quiet_hours_end,
			time_zone         = EXCLUDED.time_zone;`,
		n.UserID, n.Enabled, n.ChatID, n.QuietHoursStart, n.QuietHoursEnd, n.TimeZone,
	)
	if err != nil {
		return fmt.Errorf("upserting notification connection: %w", err)
	}
	return nil
}

// EnabledNotificationConnections lists every destination the reminder tick
// must evaluate.
func (s *Store) EnabledNotificationConnections(ctx context.Context) ([]model.NotificationConnection, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT `+notificationColumns+` FROM notification_connections WHERE enabled = TRUE;`)
	if err != nil {
		return nil, fmt.Errorf("querying enabled notification connections: %w", err)
	}
	defer rows.Close()

	var conns []model.NotificationConnection
	for rows.Next() {
		var n model.NotificationConnection
		err := rows.Scan(&n.UserID, &n.Enabled, &n.ChatID, &n.QuietHoursStart,
			&n.QuietHoursEnd, &n.TimeZone, &n.LastNotifiedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning notification connection: %w", err)
		}
		conns = append(conns, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading notification connections: %w", err)
	}
	return conns, nil
}

// SetLastNotified stamps a successful send.
func (s *Store) SetLastNotified(ctx context.Context, userID string, at time.Time) error {
	_, err := s.conn.Exec(ctx,
		`UPDATE notification_connections SET last_notified_at = $2 WHERE user_id = $1;`,
		userID, at,
	)
	if err != nil {
		return fmt.Errorf("stamping last notified: %w", err)
	}
	return nil
}
