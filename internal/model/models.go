// internal/model/models.go
package model

import (
	"time"
)

// SyncReason identifies why a sync job was enqueued. It is a closed set;
// window selection and dedupe logic switch exhaustively over it.
type SyncReason string

const (
	ReasonInitialBackfill SyncReason = "initial_backfill"
	ReasonIncrementalPush SyncReason = "incremental_push"
	ReasonRepoSetChanged  SyncReason = "repo_set_changed"
	ReasonReconcile       SyncReason = "reconcile"
)

// Valid reports whether r is one of the known reasons.
func (r SyncReason) Valid() bool {
	switch r {
	case ReasonInitialBackfill, ReasonIncrementalPush, ReasonRepoSetChanged, ReasonReconcile:
		return true
	}
	return false
}

// JobStatus is the job queue state machine:
// pending -> processing -> {completed | pending(retry) | failed}.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// SyncStatus is the connection-level sync state shown to the UI.
type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncSyncing SyncStatus = "syncing"
	SyncError   SyncStatus = "error"
)

// CommitEvent is one ingested commit. Immutable once stored; (UserID, SHA)
// is unique and re-ingestion is a no-op.
type CommitEvent struct {
	UserID       string    `json:"user_id"`
	RepoFullName string    `json:"repo"`
	RepoID       int64     `json:"repo_id,omitempty"`
	SHA          string    `json:"sha"`
	Message      string    `json:"message"`
	URL          string    `json:"url"`
	Additions    int       `json:"additions"`
	Deletions    int       `json:"deletions"`
	FilesChanged int       `json:"files_changed"`
	AuthoredAt   time.Time `json:"authored_at"`
}

// Size is the commit's total line churn.
func (c CommitEvent) Size() int { return c.Additions + c.Deletions }

// DailyStat aggregates a user's commits for one calendar-local day.
// AvgCommitSize = round(LocChanged / CommitCount) whenever CommitCount > 0.
type DailyStat struct {
	UserID        string    `json:"user_id"`
	DateKey       string    `json:"date"`
	CommitCount   int       `json:"commit_count"`
	LocChanged    int       `json:"loc_changed"`
	AvgCommitSize int       `json:"avg_commit_size"`
	Repos         []string  `json:"repos"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Connection is an authorized link to a provider installation. One row per
// user; deleted (with cascading commit/stat/job cleanup) on disconnect.
type Connection struct {
	UserID           string     `json:"user_id"`
	InstallationID   int64      `json:"installation_id"`
	AccountLogin     string     `json:"account_login"`
	AuthMode         string     `json:"auth_mode"`
	LastSyncedAt     *time.Time `json:"last_synced_at,omitempty"`
	HistorySyncedAt  *time.Time `json:"history_synced_at,omitempty"`
	EarliestCommitAt *time.Time `json:"earliest_commit_at,omitempty"`
	LatestCommitAt   *time.Time `json:"latest_commit_at,omitempty"`
	SyncStatus       SyncStatus `json:"sync_status"`
	LastErrorCode    string     `json:"last_error_code,omitempty"`
	LastErrorMessage string     `json:"last_error_message,omitempty"`
	CachedStreak     int        `json:"cached_streak"`
	StreakComputedAt *time.Time `json:"streak_computed_at,omitempty"`
	LastWebhookAt    *time.Time `json:"last_webhook_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// SyncJob is one unit of work in the durable queue.
type SyncJob struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	InstallationID int64      `json:"installation_id"`
	Repo           string     `json:"repo,omitempty"`
	Reason         SyncReason `json:"reason"`
	LookbackDays   int        `json:"lookback_days,omitempty"`
	Status         JobStatus  `json:"status"`
	Attempts       int        `json:"attempts"`
	RunAfter       time.Time  `json:"run_after"`
	DedupeKey      string     `json:"dedupe_key,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Goals are a user's daily targets. TimeZone drives day-key resolution
// everywhere a calendar day matters.
type Goals struct {
	UserID        string `json:"user_id"`
	CommitsPerDay int    `json:"commits_per_day"`
	LinesPerDay   int    `json:"lines_per_day"`
	PushByHour    int    `json:"push_by_hour"`
	TimeZone      string `json:"time_zone"`
}

// NotificationConnection is a user's outbound messaging destination.
// Quiet hours may wrap past midnight (start > end).
type NotificationConnection struct {
	UserID          string     `json:"user_id"`
	Enabled         bool       `json:"enabled"`
	ChatID          string     `json:"chat_id"`
	QuietHoursStart int        `json:"quiet_hours_start"`
	QuietHoursEnd   int        `json:"quiet_hours_end"`
	TimeZone        string     `json:"time_zone,omitempty"`
	LastNotifiedAt  *time.Time `json:"last_notified_at,omitempty"`
}
