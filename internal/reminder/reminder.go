// internal/reminder/reminder.go

// Package reminder decides, once per scheduling tick, whether each user
// should get a behavioral nudge, and sends at most one per condition per
// local day.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"streak-service/internal/dates"
	"streak-service/internal/model"
)

const (
	// commitGrace suppresses nudges while the user is actively pushing.
	commitGrace = 90 * time.Minute
)

// Escalation hours for days with zero commits. The critical tier carries
// more urgent copy.
var (
	zeroPushHours     = map[int]bool{19: true, 20: true}
	criticalPushHours = map[int]bool{22: true, 23: true}
)

// Trigger is which send-condition fired. The conditions are mutually
// exclusive per tick; the first match wins.
type Trigger int

const (
	TriggerNone Trigger = iota
	TriggerGoal
	TriggerZeroPush
	TriggerCriticalZeroPush
)

// Input is everything the decision procedure needs for one user.
type Input struct {
	Now            time.Time
	TimeZone       string
	QuietStart     int
	QuietEnd       int
	LastNotifiedAt *time.Time
	LastCommitAt   *time.Time
	CommitsToday   int
	LocToday       int
	Goals          model.Goals
}

// InQuietHours reports whether hour falls inside [start, end), supporting
// wraparound windows where start > end (e.g. 22 -> 7).
func InQuietHours(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// Decide runs the ordered decision procedure for one user at one tick.
func Decide(in Input) Trigger {
	hour := dates.HourIn(in.Now, in.TimeZone)

	if InQuietHours(hour, in.QuietStart, in.QuietEnd) {
		return TriggerNone
	}
	if in.LastCommitAt != nil && in.Now.Sub(*in.LastCommitAt) >= 0 && in.Now.Sub(*in.LastCommitAt) < commitGrace {
		return TriggerNone
	}

	missedGoals := (in.Goals.CommitsPerDay > 0 && in.CommitsToday < in.Goals.CommitsPerDay) ||
		(in.Goals.LinesPerDay > 0 && in.LocToday < in.Goals.LinesPerDay)

	var trigger Trigger
	switch {
	case hour == in.Goals.PushByHour && missedGoals:
		trigger = TriggerGoal
	case in.CommitsToday == 0 && zeroPushHours[hour]:
		trigger = TriggerZeroPush
	case in.CommitsToday == 0 && criticalPushHours[hour]:
		trigger = TriggerCriticalZeroPush
	default:
		return TriggerNone
	}

	// At most one send per local day per hour, even if the tick fires
	// more than once inside the hour.
	if in.LastNotifiedAt != nil {
		sameDay := dates.TimeToDateKey(*in.LastNotifiedAt, in.TimeZone) == dates.TimeToDateKey(in.Now, in.TimeZone)
		sameHour := dates.HourIn(*in.LastNotifiedAt, in.TimeZone) == hour
		if sameDay && sameHour {
			return TriggerNone
		}
	}
	return trigger
}

// ComposeMessage renders the nudge copy for the fired condition.
func ComposeMessage(trigger Trigger, in Input) string {
	switch trigger {
	case TriggerGoal:
		remainingCommits := in.Goals.CommitsPerDay - in.CommitsToday
		if remainingCommits < 0 {
			remainingCommits = 0
		}
		remainingLoc := in.Goals.LinesPerDay - in.LocToday
		if remainingLoc < 0 {
			remainingLoc = 0
		}
		return fmt.Sprintf(
			"Daily goal check-in: %d commit(s) and %d line(s) to go today. A small push keeps the streak alive.",
			remainingCommits, remainingLoc)
	case TriggerZeroPush:
		return "No commits yet today. Even a tiny commit keeps your streak going, and there's still time."
	case TriggerCriticalZeroPush:
		return "Your streak is about to break: no commits today and the day is almost over. Push something now!"
	}
	return ""
}

// Messenger delivers a plain-text message to a destination.
type Messenger interface {
	Send(ctx context.Context, chatID, text string) error
}

// Store is the read/write surface the engine needs.
type Store interface {
	EnabledNotificationConnections(ctx context.Context) ([]model.NotificationConnection, error)
	Goals(ctx context.Context, userID string) (model.Goals, error)
	DailyStat(ctx context.Context, userID, dateKey string) (*model.DailyStat, error)
	LatestCommitTime(ctx context.Context, userID string) (*time.Time, error)
	SetLastNotified(ctx context.Context, userID string, at time.Time) error
}

// Engine evaluates every enabled notification connection on a fixed
// interval.
type Engine struct {
	store     Store
	messenger Messenger
	logger    *slog.Logger
	interval  time.Duration
}

// New creates an Engine ticking every interval.
func New(st Store, messenger Messenger, logger *slog.Logger, interval time.Duration) *Engine {
	return &Engine{store: st, messenger: messenger, logger: logger, interval: interval}
}

// Start runs the tick loop until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("Starting reminder engine", "interval", e.interval.String())
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.Tick(ctx, time.Now().UTC())
		case <-ctx.Done():
			e.logger.Info("Reminder engine shutting down", "reason", ctx.Err())
			return
		}
	}
}

// Tick evaluates all users once. A failure for one user never stops
// evaluation of the rest.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	conns, err := e.store.EnabledNotificationConnections(ctx)
	if err != nil {
		e.logger.Error("Failed to list notification connections", "error", err)
		return
	}

	for _, conn := range conns {
		if ctx.Err() != nil {
			return
		}
		if err := e.evaluateUser(ctx, conn, now); err != nil {
			e.logger.Error("Reminder evaluation failed", "user_id", conn.UserID, "error", err)
		}
	}
}

// evaluateUser gathers one user's inputs, runs the decision, and sends.
func (e *Engine) evaluateUser(ctx context.Context, conn model.NotificationConnection, now time.Time) error {
	goals, err := e.store.Goals(ctx, conn.UserID)
	if err != nil {
		return err
	}

	timeZone := conn.TimeZone
	if timeZone == "" {
		timeZone = goals.TimeZone
	}

	todayKey := dates.TimeToDateKey(now, timeZone)
	stat, err := e.store.DailyStat(ctx, conn.UserID, todayKey)
	if err != nil {
		return err
	}
	lastCommit, err := e.store.LatestCommitTime(ctx, conn.UserID)
	if err != nil {
		return err
	}

	in := Input{
		Now:            now,
		TimeZone:       timeZone,
		QuietStart:     conn.QuietHoursStart,
		QuietEnd:       conn.QuietHoursEnd,
		LastNotifiedAt: conn.LastNotifiedAt,
		LastCommitAt:   lastCommit,
		Goals:          goals,
	}
	if stat != nil {
		in.CommitsToday = stat.CommitCount
		in.LocToday = stat.LocChanged
	}

	trigger := Decide(in)
	if trigger == TriggerNone {
		return nil
	}

	if err := e.messenger.Send(ctx, conn.ChatID, ComposeMessage(trigger, in)); err != nil {
		return fmt.Errorf("sending nudge: %w", err)
	}
	e.logger.Info("Nudge sent", "user_id", conn.UserID, "trigger", trigger)
	return e.store.SetLastNotified(ctx, conn.UserID, now)
}
