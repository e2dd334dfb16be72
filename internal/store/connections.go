// internal/store/connections.go
package store

import (
	"context"
	"fmt"
	"time"

	"streak-service/internal/model"
)

const connectionColumns = `user_id, installation_id, account_login, auth_mode,
	last_synced_at, history_synced_at, earliest_commit_at, latest_commit_at,
	sync_status, last_error_code, last_error_message,
	cached_streak, streak_computed_at, last_webhook_at, created_at`

func scanConnection(row interface{ Scan(dest ...any) error }) (*model.Connection, error) {
	var c model.Connection
	err := row.Scan(&c.UserID, &c.InstallationID, &c.AccountLogin, &c.AuthMode,
		&c.LastSyncedAt, &c.HistorySyncedAt, &c.EarliestCommitAt, &c.LatestCommitAt,
		&c.SyncStatus, &c.LastErrorCode, &c.LastErrorMessage,
		&c.CachedStreak, &c.StreakComputedAt, &c.LastWebhookAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Connection returns the user's provider connection, or nil when the user
// has disconnected.
func (s *Store) Connection(ctx context.Context, userID string) (*model.Connection, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE user_id = $1;`, userID)
	c, err := scanConnection(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying connection: %w", err)
	}
	return c, nil
}

// ConnectionByInstallation resolves an installation id (as carried by
// webhook deliveries) back to its connection.
func (s *Store) ConnectionByInstallation(ctx context.Context, installationID int64) (*model.Connection, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE installation_id = $1;`, installationID)
	c, err := scanConnection(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying connection by installation: %w", err)
	}
	return c, nil
}

// UpsertConnection creates or refreshes the connection row on successful
// authorization.
func (s *Store) UpsertConnection(ctx context.Context, c model.Connection) error {
	_, err := s.conn.Exec(ctx,
		`INSERT INTO connections (user_id, installation_id, account_login, auth_mode, sync_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id) DO UPDATE SET
			installation_id = EXCLUDED.installation_id,
			account_login   = EXCLUDED.account_login,
			auth_mode       = EXCLUDED.auth_mode;`,
		c.UserID, c.InstallationID, c.AccountLogin, c.AuthMode, model.SyncIdle, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting connection: %w", err)
	}
	return nil
}

// SyncBookkeeping is the connection update written after a completed sync.
type SyncBookkeeping struct {
	LastSyncedAt     time.Time
	HistorySyncedAt  *time.Time // set only once adaptive backfill finished
	EarliestCommitAt *time.Time
	LatestCommitAt   *time.Time
	Status           model.SyncStatus
}

// UpdateSyncBookkeeping records the outcome of a completed sync job.
// Earliest/latest observed commit times only widen the stored window.
func (s *Store) UpdateSyncBookkeeping(ctx context.Context, userID string, b SyncBookkeeping) error {
	_, err := s.conn.Exec(ctx,
		`UPDATE connections SET
			last_synced_at     = $2,
			history_synced_at  = COALESCE($3, history_synced_at),
			earliest_commit_at = LEAST(COALESCE(earliest_commit_at, $4), COALESCE($4, earliest_commit_at)),
			latest_commit_at   = GREATEST(COALESCE(latest_commit_at, $5), COALESCE($5, latest_commit_at)),
			sync_status        = $6,
			last_error_code    = '',
			last_error_message = ''
		 WHERE user_id = $1;`,
		userID, b.LastSyncedAt, b.HistorySyncedAt, b.EarliestCommitAt, b.LatestCommitAt, b.Status,
	)
	if err != nil {
		return fmt.Errorf("updating sync bookkeeping: %w", err)
	}
	return nil
}

// SetSyncStatus flips the connection's sync state, recording an error code
// and message when status is error.
func (s *Store) SetSyncStatus(ctx context.Context, userID string, status model.SyncStatus, code, message string) error {
	_, err := s.conn.Exec(ctx,
		`UPDATE connections SET sync_status = $2, last_error_code = $3, last_error_message = $4
		 WHERE user_id = $1;`,
		userID, status, code, message,
	)
	if err != nil {
		return fmt.Errorf("setting sync status: %w", err)
	}
	return nil
}

// SetCachedStreak refreshes the cached streak value and its computed-at
// stamp.
func (s *Store) SetCachedStreak(ctx context.Context, userID string, streak int, at time.Time) error {
	_, err := s.conn.Exec(ctx,
		`UPDATE connections SET cached_streak = $2, streak_computed_at = $3 WHERE user_id = $1;`,
		userID, streak, at,
	)
	if err != nil {
		return fmt.Errorf("setting cached streak: %w", err)
	}
	return nil
}

// TouchWebhook stamps the last inbound delivery time.
func (s *Store) TouchWebhook(ctx context.Context, userID string, at time.Time) error {
	_, err := s.conn.Exec(ctx,
		`UPDATE connections SET last_webhook_at = $2 WHERE user_id = $1;`, userID, at)
	if err != nil {
		return fmt.Errorf("stamping webhook time: %w", err)
	}
	return nil
}

// DeleteConnection removes the connection and cascades to commit events,
// daily stats and unresolved jobs. Used on disconnect and on a revocation
// notice from the provider.
func (s *Store) DeleteConnection(ctx context.Context, userID string) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning disconnect tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM commit_events WHERE user_id = $1;`, userID); err != nil {
		return fmt.Errorf("deleting commit events: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM daily_stats WHERE user_id = $1;`, userID); err != nil {
		return fmt.Errorf("deleting daily stats: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM sync_jobs WHERE user_id = $1 AND status IN ('pending', 'processing');`, userID); err != nil {
		return fmt.Errorf("deleting pending jobs: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM connections WHERE user_id = $1;`, userID); err != nil {
		return fmt.Errorf("deleting connection: %w", err)
	}
	return tx.Commit(ctx)
}
