// internal/api/handler_test.go
package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"streak-service/internal/model"
)

const testWebhookSecret = "test-secret"

// MockStore mocks the handler's persistence surface.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Connection(ctx context.Context, userID string) (*model.Connection, error) {
	args := m.Called(ctx, userID)
	conn, _ := args.Get(0).(*model.Connection)
	return conn, args.Error(1)
}
func (m *MockStore) ConnectionByInstallation(ctx context.Context, installationID int64) (*model.Connection, error) {
	args := m.Called(ctx, installationID)
	conn, _ := args.Get(0).(*model.Connection)
	return conn, args.Error(1)
}
func (m *MockStore) DeleteConnection(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}
func (m *MockStore) DeleteUserData(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}
func (m *MockStore) PendingJobCount(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}
func (m *MockStore) Goals(ctx context.Context, userID string) (model.Goals, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(model.Goals), args.Error(1)
}
func (m *MockStore) UpsertGoals(ctx context.Context, g model.Goals) error {
	args := m.Called(ctx, g)
	return args.Error(0)
}
func (m *MockStore) NotificationConnection(ctx context.Context, userID string) (*model.NotificationConnection, error) {
	args := m.Called(ctx, userID)
	n, _ := args.Get(0).(*model.NotificationConnection)
	return n, args.Error(1)
}
func (m *MockStore) UpsertNotificationConnection(ctx context.Context, n model.NotificationConnection) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}
func (m *MockStore) EnqueueJob(ctx context.Context, job model.SyncJob) (bool, error) {
	args := m.Called(ctx, job)
	return args.Bool(0), args.Error(1)
}
func (m *MockStore) TouchWebhook(ctx context.Context, userID string, at time.Time) error {
	args := m.Called(ctx, userID, at)
	return args.Error(0)
}
func (m *MockStore) DailyStat(ctx context.Context, userID, dateKey string) (*model.DailyStat, error) {
	args := m.Called(ctx, userID, dateKey)
	stat, _ := args.Get(0).(*model.DailyStat)
	return stat, args.Error(1)
}
func (m *MockStore) DailyStatRange(ctx context.Context, userID, fromKey, toKey string) ([]model.DailyStat, error) {
	args := m.Called(ctx, userID, fromKey, toKey)
	stats, _ := args.Get(0).([]model.DailyStat)
	return stats, args.Error(1)
}

// MockWorker records kick requests.
type MockWorker struct {
	kicks int
}

func (m *MockWorker) Kick() { m.kicks++ }

func newTestRouter(db Store, worker Worker) http.Handler {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewRouter(db, worker, testWebhookSecret, logger)
}

func testConnection() *model.Connection {
	return &model.Connection{
		UserID:         "user-1",
		InstallationID: 7,
		AccountLogin:   "octocat",
		SyncStatus:     model.SyncIdle,
		CachedStreak:   12,
	}
}

func TestGetStatus(t *testing.T) {
	t.Run("returns connection, streak and sync flag", func(t *testing.T) {
		db := new(MockStore)
		router := newTestRouter(db, &MockWorker{})

		db.On("Connection", mock.Anything, "user-1").Return(testConnection(), nil).Once()
		db.On("PendingJobCount", mock.Anything, "user-1").Return(2, nil).Once()
		db.On("Goals", mock.Anything, "user-1").Return(model.Goals{UserID: "user-1", TimeZone: "UTC"}, nil).Once()
		db.On("DailyStat", mock.Anything, "user-1", mock.Anything).
			Return(&model.DailyStat{DateKey: "2024-06-15", CommitCount: 3}, nil).Once()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users/user-1/status", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp statusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 12, resp.Streak)
		assert.True(t, resp.SyncInProgress)
		require.NotNil(t, resp.Today)
		assert.Equal(t, 3, resp.Today.CommitCount)
		db.AssertExpectations(t)
	})

	t.Run("404 when not connected", func(t *testing.T) {
		db := new(MockStore)
		router := newTestRouter(db, &MockWorker{})

		db.On("Connection", mock.Anything, "user-1").Return((*model.Connection)(nil), nil).Once()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users/user-1/status", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetStats(t *testing.T) {
	t.Run("explicit range", func(t *testing.T) {
		db := new(MockStore)
		router := newTestRouter(db, &MockWorker{})

		db.On("Goals", mock.Anything, "user-1").Return(model.Goals{UserID: "user-1", TimeZone: "UTC"}, nil).Once()
		db.On("DailyStatRange", mock.Anything, "user-1", "2024-06-01", "2024-06-15").
			Return([]model.DailyStat{{DateKey: "2024-06-15", CommitCount: 3}}, nil).Once()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
			"/v1/users/user-1/stats?from=2024-06-01&to=2024-06-15", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			From string            `json:"from"`
			To   string            `json:"to"`
			Days []model.DailyStat `json:"days"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "2024-06-01", resp.From)
		require.Len(t, resp.Days, 1)
		assert.Equal(t, 3, resp.Days[0].CommitCount)
		db.AssertExpectations(t)
	})

	t.Run("defaults to a 30-day window ending today", func(t *testing.T) {
		db := new(MockStore)
		router := newTestRouter(db, &MockWorker{})

		db.On("Goals", mock.Anything, "user-1").Return(model.Goals{UserID: "user-1", TimeZone: "UTC"}, nil).Once()
		db.On("DailyStatRange", mock.Anything, "user-1", mock.Anything, mock.Anything).
			Return([]model.DailyStat(nil), nil).Once()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users/user-1/stats", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"days":[]`)
	})

	t.Run("rejects garbage bounds", func(t *testing.T) {
		db := new(MockStore)
		router := newTestRouter(db, &MockWorker{})

		db.On("Goals", mock.Anything, "user-1").Return(model.Goals{UserID: "user-1", TimeZone: "UTC"}, nil).Once()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users/user-1/stats?from=June", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		db.AssertNotCalled(t, "DailyStatRange")
	})
}

func TestTriggerSync(t *testing.T) {
	t.Run("enqueues reconcile job and kicks the worker", func(t *testing.T) {
		db := new(MockStore)
		worker := &MockWorker{}
		router := newTestRouter(db, worker)

		db.On("Connection", mock.Anything, "user-1").Return(testConnection(), nil).Once()
		db.On("EnqueueJob", mock.Anything, mock.MatchedBy(func(j model.SyncJob) bool {
			return j.UserID == "user-1" && j.Reason == model.ReasonReconcile && j.InstallationID == 7
		})).Return(true, nil).Once()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/users/user-1/sync", nil))

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, 1, worker.kicks)
		db.AssertExpectations(t)
	})

	t.Run("409 when not connected", func(t *testing.T) {
		db := new(MockStore)
		worker := &MockWorker{}
		router := newTestRouter(db, worker)

		db.On("Connection", mock.Anything, "user-1").Return((*model.Connection)(nil), nil).Once()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/users/user-1/sync", nil))

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Zero(t, worker.kicks)
		db.AssertNotCalled(t, "EnqueueJob")
	})
}

func TestTriggerResync_WipesAndStartsBackfill(t *testing.T) {
	db := new(MockStore)
	worker := &MockWorker{}
	router := newTestRouter(db, worker)

	db.On("Connection", mock.Anything, "user-1").Return(testConnection(), nil).Once()
	db.On("DeleteUserData", mock.Anything, "user-1").Return(nil).Once()
	db.On("EnqueueJob", mock.Anything, mock.MatchedBy(func(j model.SyncJob) bool {
		return j.Reason == model.ReasonInitialBackfill
	})).Return(true, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/users/user-1/resync", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, worker.kicks)
	db.AssertExpectations(t)
}

func TestDisconnect(t *testing.T) {
	db := new(MockStore)
	router := newTestRouter(db, &MockWorker{})

	db.On("DeleteConnection", mock.Anything, "user-1").Return(nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/users/user-1/connection", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	db.AssertExpectations(t)
}

func TestUpdateGoals(t *testing.T) {
	t.Run("saves goals and clamps the push-by hour", func(t *testing.T) {
		db := new(MockStore)
		router := newTestRouter(db, &MockWorker{})

		db.On("UpsertGoals", mock.Anything, model.Goals{
			UserID:        "user-1",
			CommitsPerDay: 3,
			LinesPerDay:   200,
			PushByHour:    23,
			TimeZone:      "Europe/Berlin",
		}).Return(nil).Once()

		body := `{"commits_per_day": 3, "lines_per_day": 200, "push_by_hour": 30, "time_zone": "Europe/Berlin"}`
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, putJSON("/v1/users/user-1/settings/goals", body))

		assert.Equal(t, http.StatusOK, rec.Code)
		db.AssertExpectations(t)
	})

	t.Run("rejects unknown time zone", func(t *testing.T) {
		db := new(MockStore)
		router := newTestRouter(db, &MockWorker{})

		body := `{"commits_per_day": 1, "time_zone": "Mars/Olympus_Mons"}`
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, putJSON("/v1/users/user-1/settings/goals", body))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		db.AssertNotCalled(t, "UpsertGoals")
	})

	t.Run("rejects negative goal values", func(t *testing.T) {
		db := new(MockStore)
		router := newTestRouter(db, &MockWorker{})

		body := `{"commits_per_day": -1, "time_zone": "UTC"}`
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, putJSON("/v1/users/user-1/settings/goals", body))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		db := new(MockStore)
		router := newTestRouter(db, &MockWorker{})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, putJSON("/v1/users/user-1/settings/goals", `{"commits`))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUpdateNotificationSettings(t *testing.T) {
	t.Run("saves wraparound quiet hours", func(t *testing.T) {
		db := new(MockStore)
		router := newTestRouter(db, &MockWorker{})

		db.On("UpsertNotificationConnection", mock.Anything, model.NotificationConnection{
			UserID:          "user-1",
			Enabled:         true,
			ChatID:          "chat-1",
			QuietHoursStart: 22,
			QuietHoursEnd:   7,
		}).Return(nil).Once()

		body := `{"enabled": true, "chat_id": "chat-1", "quiet_hours_start": 22, "quiet_hours_end": 7}`
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, putJSON("/v1/users/user-1/settings/notifications", body))

		assert.Equal(t, http.StatusOK, rec.Code)
		db.AssertExpectations(t)
	})

	t.Run("rejects enabling without a chat id", func(t *testing.T) {
		db := new(MockStore)
		router := newTestRouter(db, &MockWorker{})

		body := `{"enabled": true, "chat_id": ""}`
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, putJSON("/v1/users/user-1/settings/notifications", body))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		db.AssertNotCalled(t, "UpsertNotificationConnection")
	})
}

func putJSON(target, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPut, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// signedWebhookRequest builds a webhook delivery with a valid HMAC signature.
func signedWebhookRequest(event, deliveryID string, payload []byte) *http.Request {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(payload)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-GitHub-Delivery", deliveryID)
	req.Header.Set("X-Hub-Signature-256", sig)
	return req
}

func TestGithubWebhook(t *testing.T) {
	t.Run("push enqueues an incremental job keyed by delivery id", func(t *testing.T) {
		db := new(MockStore)
		worker := &MockWorker{}
		router := newTestRouter(db, worker)

		db.On("ConnectionByInstallation", mock.Anything, int64(7)).Return(testConnection(), nil).Once()
		db.On("TouchWebhook", mock.Anything, "user-1", mock.Anything).Return(nil).Once()
		db.On("EnqueueJob", mock.Anything, mock.MatchedBy(func(j model.SyncJob) bool {
			return j.Reason == model.ReasonIncrementalPush &&
				j.Repo == "octocat/hello" &&
				j.DedupeKey == "delivery-1"
		})).Return(true, nil).Once()

		payload := []byte(`{"installation": {"id": 7}, "repository": {"full_name": "octocat/hello"}}`)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, signedWebhookRequest("push", "delivery-1", payload))

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, 1, worker.kicks)
		db.AssertExpectations(t)
	})

	t.Run("push for untracked installation is acknowledged", func(t *testing.T) {
		db := new(MockStore)
		worker := &MockWorker{}
		router := newTestRouter(db, worker)

		db.On("ConnectionByInstallation", mock.Anything, int64(9)).Return((*model.Connection)(nil), nil).Once()

		payload := []byte(`{"installation": {"id": 9}, "repository": {"full_name": "octocat/hello"}}`)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, signedWebhookRequest("push", "delivery-2", payload))

		assert.Equal(t, http.StatusAccepted, rec.Code)
		db.AssertNotCalled(t, "EnqueueJob")
		assert.Zero(t, worker.kicks)
	})

	t.Run("bad signature is rejected", func(t *testing.T) {
		db := new(MockStore)
		router := newTestRouter(db, &MockWorker{})

		req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-GitHub-Event", "push")
		req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("installation deleted tears the connection down", func(t *testing.T) {
		db := new(MockStore)
		router := newTestRouter(db, &MockWorker{})

		db.On("ConnectionByInstallation", mock.Anything, int64(7)).Return(testConnection(), nil).Once()
		db.On("DeleteConnection", mock.Anything, "user-1").Return(nil).Once()

		payload := []byte(`{"action": "deleted", "installation": {"id": 7}}`)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, signedWebhookRequest("installation", "delivery-3", payload))

		assert.Equal(t, http.StatusAccepted, rec.Code)
		db.AssertExpectations(t)
	})

	t.Run("repo set change enqueues a reconcile of the installation", func(t *testing.T) {
		db := new(MockStore)
		worker := &MockWorker{}
		router := newTestRouter(db, worker)

		db.On("ConnectionByInstallation", mock.Anything, int64(7)).Return(testConnection(), nil).Once()
		db.On("EnqueueJob", mock.Anything, mock.MatchedBy(func(j model.SyncJob) bool {
			return j.Reason == model.ReasonRepoSetChanged && j.DedupeKey == "delivery-4"
		})).Return(true, nil).Once()

		payload := []byte(`{"action": "added", "installation": {"id": 7}}`)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, signedWebhookRequest("installation_repositories", "delivery-4", payload))

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, 1, worker.kicks)
		db.AssertExpectations(t)
	})

	t.Run("unknown events are acknowledged", func(t *testing.T) {
		db := new(MockStore)
		router := newTestRouter(db, &MockWorker{})

		payload := []byte(`{"zen": "Keep it logically awesome."}`)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, signedWebhookRequest("ping", "delivery-5", payload))

		assert.Equal(t, http.StatusAccepted, rec.Code)
	})
}
