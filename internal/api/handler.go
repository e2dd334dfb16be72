// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"streak-service/internal/dates"
	apperrors "streak-service/internal/errors"
	"streak-service/internal/model"
)

// Store is the persistence surface the handlers read and write. It must
// never trigger provider calls; side effects happen through job enqueue
// plus a worker kick.
type Store interface {
	Connection(ctx context.Context, userID string) (*model.Connection, error)
	ConnectionByInstallation(ctx context.Context, installationID int64) (*model.Connection, error)
	DeleteConnection(ctx context.Context, userID string) error
	DeleteUserData(ctx context.Context, userID string) error
	PendingJobCount(ctx context.Context, userID string) (int, error)
	Goals(ctx context.Context, userID string) (model.Goals, error)
	UpsertGoals(ctx context.Context, g model.Goals) error
	NotificationConnection(ctx context.Context, userID string) (*model.NotificationConnection, error)
	UpsertNotificationConnection(ctx context.Context, n model.NotificationConnection) error
	EnqueueJob(ctx context.Context, job model.SyncJob) (bool, error)
	TouchWebhook(ctx context.Context, userID string, at time.Time) error
	DailyStat(ctx context.Context, userID, dateKey string) (*model.DailyStat, error)
	DailyStatRange(ctx context.Context, userID, fromKey, toKey string) ([]model.DailyStat, error)
}

// Worker is the sync worker's trigger surface.
type Worker interface {
	Kick()
}

// Handler is the container for API dependencies.
type Handler struct {
	db            Store
	worker        Worker
	logger        *slog.Logger
	validate      *validator.Validate
	webhookSecret []byte
}

// NewRouter creates and configures a chi router with all API routes.
func NewRouter(db Store, worker Worker, webhookSecret string, logger *slog.Logger) http.Handler {
	h := &Handler{
		db:            db,
		worker:        worker,
		logger:        logger,
		validate:      validator.New(),
		webhookSecret: []byte(webhookSecret),
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.healthCheck)
	r.Post("/webhook/github", h.githubWebhook)
	r.Route("/v1/users/{userID}", func(r chi.Router) {
		r.Get("/status", h.getStatus)
		r.Get("/stats", h.getStats)
		r.Post("/sync", h.triggerSync)
		r.Post("/resync", h.triggerResync)
		r.Delete("/connection", h.disconnect)
		r.Put("/settings/goals", h.updateGoals)
		r.Put("/settings/notifications", h.updateNotificationSettings)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusResponse is the read-only view the UI polls. Assembling it has no
// side effects.
type statusResponse struct {
	Connection     *model.Connection `json:"connection"`
	SyncInProgress bool              `json:"sync_in_progress"`
	Streak         int               `json:"streak"`
	Today          *model.DailyStat  `json:"today,omitempty"`
}

// getStatus handles GET /v1/users/{userID}/status.
func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	conn, err := h.db.Connection(r.Context(), userID)
	if err != nil {
		h.internalError(w, "Failed to load connection", err)
		return
	}
	if conn == nil {
		respondWithError(w, http.StatusNotFound, "No provider connection")
		return
	}

	pending, err := h.db.PendingJobCount(r.Context(), userID)
	if err != nil {
		h.internalError(w, "Failed to count pending jobs", err)
		return
	}

	goals, err := h.db.Goals(r.Context(), userID)
	if err != nil {
		h.internalError(w, "Failed to load goals", err)
		return
	}
	today, err := h.db.DailyStat(r.Context(), userID, dates.TimeToDateKey(time.Now(), goals.TimeZone))
	if err != nil {
		h.internalError(w, "Failed to load today's stats", err)
		return
	}

	respondWithJSON(w, http.StatusOK, statusResponse{
		Connection:     conn,
		SyncInProgress: pending > 0 || conn.SyncStatus == model.SyncSyncing,
		Streak:         conn.CachedStreak,
		Today:          today,
	})
}

const defaultStatsDays = 30

// getStats handles GET /v1/users/{userID}/stats?from=YYYY-MM-DD&to=YYYY-MM-DD.
// Both bounds are optional; the default window is the last 30 days in the
// user's configured time zone.
func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	goals, err := h.db.Goals(r.Context(), userID)
	if err != nil {
		h.internalError(w, "Failed to load goals", err)
		return
	}

	toKey := r.URL.Query().Get("to")
	if toKey == "" {
		toKey = dates.TimeToDateKey(time.Now(), goals.TimeZone)
	}
	fromKey := r.URL.Query().Get("from")
	if fromKey == "" {
		fromKey, _ = dates.AddDays(toKey, -(defaultStatsDays - 1))
	}
	// Normalize both bounds to ISO keys so the range compare is sound even
	// when the caller used the slash format.
	fromStamp, ok := dates.DateKeyToDayStamp(fromKey)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid from date")
		return
	}
	toStamp, ok := dates.DateKeyToDayStamp(toKey)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "Invalid to date")
		return
	}
	fromKey, toKey = dates.DayStampToKey(fromStamp), dates.DayStampToKey(toStamp)

	stats, err := h.db.DailyStatRange(r.Context(), userID, fromKey, toKey)
	if err != nil {
		h.internalError(w, "Failed to load stats", err)
		return
	}
	if stats == nil {
		stats = []model.DailyStat{}
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"from": fromKey,
		"to":   toKey,
		"days": stats,
	})
}

// triggerSync handles POST /v1/users/{userID}/sync: enqueue a reconcile
// job and kick the worker.
func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	conn, err := h.db.Connection(r.Context(), userID)
	if err != nil {
		h.internalError(w, "Failed to load connection", err)
		return
	}
	if conn == nil {
		respondWithError(w, http.StatusConflict, apperrors.ErrNoConnection.Error())
		return
	}

	enqueued, err := h.db.EnqueueJob(r.Context(), model.SyncJob{
		UserID:         userID,
		InstallationID: conn.InstallationID,
		Reason:         model.ReasonReconcile,
	})
	if err != nil {
		h.internalError(w, "Failed to enqueue sync", err)
		return
	}
	h.worker.Kick()
	respondWithJSON(w, http.StatusAccepted, map[string]bool{"enqueued": enqueued})
}

// triggerResync handles POST /v1/users/{userID}/resync: wipe all derived
// data and start the backfill chain from scratch.
func (h *Handler) triggerResync(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	conn, err := h.db.Connection(r.Context(), userID)
	if err != nil {
		h.internalError(w, "Failed to load connection", err)
		return
	}
	if conn == nil {
		respondWithError(w, http.StatusConflict, apperrors.ErrNoConnection.Error())
		return
	}

	if err := h.db.DeleteUserData(r.Context(), userID); err != nil {
		h.internalError(w, "Failed to wipe user data", err)
		return
	}
	enqueued, err := h.db.EnqueueJob(r.Context(), model.SyncJob{
		UserID:         userID,
		InstallationID: conn.InstallationID,
		Reason:         model.ReasonInitialBackfill,
	})
	if err != nil {
		h.internalError(w, "Failed to enqueue backfill", err)
		return
	}
	h.worker.Kick()
	respondWithJSON(w, http.StatusAccepted, map[string]bool{"enqueued": enqueued})
}

// disconnect handles DELETE /v1/users/{userID}/connection.
func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := h.db.DeleteConnection(r.Context(), userID); err != nil {
		h.internalError(w, "Failed to disconnect", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type goalsRequest struct {
	CommitsPerDay int    `json:"commits_per_day" validate:"min=0,max=1000"`
	LinesPerDay   int    `json:"lines_per_day" validate:"min=0,max=1000000"`
	PushByHour    int    `json:"push_by_hour"`
	TimeZone      string `json:"time_zone" validate:"required"`
}

// updateGoals handles PUT /v1/users/{userID}/settings/goals. Hours are
// clamped to [0,23]; everything else is validated, not coerced.
func (h *Handler) updateGoals(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req goalsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, apperrors.ErrInvalidGoals.Error())
		return
	}
	if !dates.ValidTimeZone(req.TimeZone) {
		respondWithError(w, http.StatusBadRequest, apperrors.ErrInvalidTimeZone.Error())
		return
	}

	g := model.Goals{
		UserID:        userID,
		CommitsPerDay: req.CommitsPerDay,
		LinesPerDay:   req.LinesPerDay,
		PushByHour:    clampHour(req.PushByHour),
		TimeZone:      req.TimeZone,
	}
	if err := h.db.UpsertGoals(r.Context(), g); err != nil {
		h.internalError(w, "Failed to save goals", err)
		return
	}
	respondWithJSON(w, http.StatusOK, g)
}

type notificationRequest struct {
	Enabled         bool   `json:"enabled"`
	ChatID          string `json:"chat_id" validate:"required_if=Enabled true"`
	QuietHoursStart int    `json:"quiet_hours_start"`
	QuietHoursEnd   int    `json:"quiet_hours_end"`
	TimeZone        string `json:"time_zone"`
}

// updateNotificationSettings handles PUT
// /v1/users/{userID}/settings/notifications.
func (h *Handler) updateNotificationSettings(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req notificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithError(w, http.StatusBadRequest, apperrors.ErrInvalidQuietHours.Error())
		return
	}
	if req.TimeZone != "" && !dates.ValidTimeZone(req.TimeZone) {
		respondWithError(w, http.StatusBadRequest, apperrors.ErrInvalidTimeZone.Error())
		return
	}

	n := model.NotificationConnection{
		UserID:          userID,
		Enabled:         req.Enabled,
		ChatID:          req.ChatID,
		QuietHoursStart: clampHour(req.QuietHoursStart),
		QuietHoursEnd:   clampHour(req.QuietHoursEnd),
		TimeZone:        req.TimeZone,
	}
	if err := h.db.UpsertNotificationConnection(r.Context(), n); err != nil {
		h.internalError(w, "Failed to save notification settings", err)
		return
	}
	respondWithJSON(w, http.StatusOK, n)
}

func clampHour(h int) int {
	if h < 0 {
		return 0
	}
	if h > 23 {
		return 23
	}
	return h
}

func (h *Handler) internalError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	h.logger.Error(msg, "error", err)
	respondWithError(w, http.StatusInternalServerError, "Internal server error")
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
