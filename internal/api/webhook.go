// internal/api/webhook.go
package api

import (
	"net/http"
	"time"

	"github.com/google/go-github/v62/github"

	"streak-service/internal/model"
)

// githubWebhook handles POST /webhook/github. The delivery id doubles as
// the job dedupe key, so a redelivered webhook never enqueues twice. The
// provider retries on non-2xx, which is why storage failures return 500
// while unknown events are acknowledged.
func (h *Handler) githubWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := github.ValidatePayload(r, h.webhookSecret)
	if err != nil {
		h.logger.Warn("Webhook signature validation failed", "error", err)
		respondWithError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	deliveryID := github.DeliveryID(r)
	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Unparseable payload")
		return
	}

	switch ev := event.(type) {
	case *github.PushEvent:
		h.handlePush(w, r, deliveryID, ev)
	case *github.InstallationEvent:
		h.handleInstallation(w, r, deliveryID, ev)
	case *github.InstallationRepositoriesEvent:
		h.handleInstallationRepos(w, r, deliveryID, ev)
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}

func (h *Handler) handlePush(w http.ResponseWriter, r *http.Request, deliveryID string, ev *github.PushEvent) {
	installationID := ev.GetInstallation().GetID()
	conn, err := h.db.ConnectionByInstallation(r.Context(), installationID)
	if err != nil {
		h.internalError(w, "Failed to resolve installation", err)
		return
	}
	if conn == nil {
		// Push for an installation we no longer track; acknowledge so the
		// provider stops retrying.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if err := h.db.TouchWebhook(r.Context(), conn.UserID, time.Now().UTC()); err != nil {
		h.logger.Error("Failed to stamp webhook time", "error", err)
	}

	enqueued, err := h.db.EnqueueJob(r.Context(), model.SyncJob{
		UserID:         conn.UserID,
		InstallationID: installationID,
		Repo:           ev.GetRepo().GetFullName(),
		Reason:         model.ReasonIncrementalPush,
		DedupeKey:      deliveryID,
	})
	if err != nil {
		h.internalError(w, "Failed to enqueue push sync", err)
		return
	}
	h.worker.Kick()
	respondWithJSON(w, http.StatusAccepted, map[string]bool{"enqueued": enqueued})
}

func (h *Handler) handleInstallation(w http.ResponseWriter, r *http.Request, deliveryID string, ev *github.InstallationEvent) {
	installationID := ev.GetInstallation().GetID()

	if ev.GetAction() == "deleted" {
		conn, err := h.db.ConnectionByInstallation(r.Context(), installationID)
		if err != nil {
			h.internalError(w, "Failed to resolve installation", err)
			return
		}
		if conn != nil {
			if err := h.db.DeleteConnection(r.Context(), conn.UserID); err != nil {
				h.internalError(w, "Failed to tear down revoked connection", err)
				return
			}
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	conn, err := h.db.ConnectionByInstallation(r.Context(), installationID)
	if err != nil {
		h.internalError(w, "Failed to resolve installation", err)
		return
	}
	if conn == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	enqueued, err := h.db.EnqueueJob(r.Context(), model.SyncJob{
		UserID:         conn.UserID,
		InstallationID: installationID,
		Reason:         model.ReasonInitialBackfill,
		DedupeKey:      deliveryID,
	})
	if err != nil {
		h.internalError(w, "Failed to enqueue backfill", err)
		return
	}
	h.worker.Kick()
	respondWithJSON(w, http.StatusAccepted, map[string]bool{"enqueued": enqueued})
}

func (h *Handler) handleInstallationRepos(w http.ResponseWriter, r *http.Request, deliveryID string, ev *github.InstallationRepositoriesEvent) {
	installationID := ev.GetInstallation().GetID()
	conn, err := h.db.ConnectionByInstallation(r.Context(), installationID)
	if err != nil {
		h.internalError(w, "Failed to resolve installation", err)
		return
	}
	if conn == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	enqueued, err := h.db.EnqueueJob(r.Context(), model.SyncJob{
		UserID:         conn.UserID,
		InstallationID: installationID,
		Reason:         model.ReasonRepoSetChanged,
		DedupeKey:      deliveryID,
	})
	if err != nil {
		h.internalError(w, "Failed to enqueue repo-set sync", err)
		return
	}
	h.worker.Kick()
	respondWithJSON(w, http.StatusAccepted, map[string]bool{"enqueued": enqueued})
}
