// internal/github/client_test.go
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "streak-service/internal/errors"
)

// setupTestClient creates a httptest server and a client whose go-github
// instance points at it. Enterprise URLs put endpoints under /api/v3/.
func setupTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	client := NewTokenClient("test-token", logger)

	testClient, err := github.NewClient(server.Client()).WithEnterpriseURLs(server.URL, server.URL)
	require.NoError(t, err)
	client.newGH = func(string) *github.Client { return testClient }

	return client, server
}

func TestClient_ListCommits(t *testing.T) {
	t.Run("follows pagination", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v3/repos/octocat/hello/commits", r.URL.Path)
			assert.Equal(t, "main", r.URL.Query().Get("sha"))
			assert.Equal(t, "octocat", r.URL.Query().Get("author"))

			count := atomic.AddInt32(&requestCount, 1)
			if count == 1 {
				w.Header().Set("Link", fmt.Sprintf(`<http://%s/api/v3/repos/octocat/hello/commits?page=2>; rel="next"`, r.Host))
				fmt.Fprintln(w, `[{"sha": "aaa", "commit": {"author": {"date": "2024-06-15T10:00:00Z"}}}]`)
				return
			}
			fmt.Fprintln(w, `[{"sha": "bbb", "commit": {"author": {"date": "2024-06-14T09:00:00Z"}}}]`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		refs, err := client.ListCommits(context.Background(), "test-token",
			"octocat", "hello", "main", "octocat",
			time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 6, 16, 0, 0, 0, 0, time.UTC))

		require.NoError(t, err)
		require.Len(t, refs, 2)
		assert.Equal(t, "aaa", refs[0].SHA)
		assert.Equal(t, "bbb", refs[1].SHA)
		assert.Equal(t, time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC), refs[0].AuthoredAt)
		assert.Equal(t, int32(2), atomic.LoadInt32(&requestCount))
	})

	t.Run("empty repository yields no commits and no error", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			fmt.Fprintln(w, `{"message": "Git Repository is empty."}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		refs, err := client.ListCommits(context.Background(), "test-token",
			"octocat", "empty", "main", "octocat", time.Time{}, time.Now())

		require.NoError(t, err)
		assert.Empty(t, refs)
	})

	t.Run("missing branch yields no commits and no error", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintln(w, `{"message": "Not Found"}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		refs, err := client.ListCommits(context.Background(), "test-token",
			"octocat", "hello", "gone", "octocat", time.Time{}, time.Now())

		require.NoError(t, err)
		assert.Empty(t, refs)
	})

	t.Run("bad credentials classify as auth error", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprintln(w, `{"message": "Bad credentials"}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		_, err := client.ListCommits(context.Background(), "test-token",
			"octocat", "hello", "main", "octocat", time.Time{}, time.Now())

		require.Error(t, err)
		assert.True(t, apperrors.IsAuthInvalid(err))
	})

	t.Run("server errors classify as unavailable", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		_, err := client.ListCommits(context.Background(), "test-token",
			"octocat", "hello", "main", "octocat", time.Time{}, time.Now())

		require.Error(t, err)
		se := apperrors.AsSyncError(err)
		assert.Equal(t, apperrors.CodeUnavailable, se.Code)
		assert.True(t, se.Retryable())
	})
}

func TestClient_GetRepo(t *testing.T) {
	t.Run("maps repository fields", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v3/repos/octocat/hello", r.URL.Path)
			fmt.Fprintln(w, `{"id": 42, "name": "hello", "full_name": "octocat/hello", "default_branch": "trunk", "owner": {"login": "octocat"}}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		repo, err := client.GetRepo(context.Background(), "test-token", "octocat", "hello")

		require.NoError(t, err)
		assert.Equal(t, RepoRef{ID: 42, Owner: "octocat", Name: "hello", FullName: "octocat/hello", DefaultBranch: "trunk"}, repo)
	})

	t.Run("missing repository classifies as not found", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintln(w, `{"message": "Not Found"}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		_, err := client.GetRepo(context.Background(), "test-token", "octocat", "gone")

		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestClient_CommitDetail(t *testing.T) {
	t.Run("maps stats and files", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v3/repos/octocat/hello/commits/aaa", r.URL.Path)
			fmt.Fprintln(w, `{
				"sha": "aaa",
				"html_url": "https://github.com/octocat/hello/commit/aaa",
				"commit": {"message": "fix parser", "author": {"date": "2024-06-15T10:00:00Z"}},
				"stats": {"additions": 12, "deletions": 4},
				"files": [{"filename": "a.go"}, {"filename": "b.go"}]
			}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		event, err := client.CommitDetail(context.Background(), "test-token", "octocat", "hello", "aaa")

		require.NoError(t, err)
		assert.Equal(t, "aaa", event.SHA)
		assert.Equal(t, "octocat/hello", event.RepoFullName)
		assert.Equal(t, "fix parser", event.Message)
		assert.Equal(t, 12, event.Additions)
		assert.Equal(t, 4, event.Deletions)
		assert.Equal(t, 2, event.FilesChanged)
		assert.Equal(t, time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC), event.AuthoredAt)
	})

	t.Run("falls back to committer date", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, `{
				"sha": "bbb",
				"commit": {"message": "import history", "committer": {"date": "2024-06-10T08:00:00Z"}}
			}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		event, err := client.CommitDetail(context.Background(), "test-token", "octocat", "hello", "bbb")

		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC), event.AuthoredAt)
	})
}

func TestClient_InstallationToken_StaticToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	client := NewTokenClient("pat-token", logger)

	token, err := client.InstallationToken(context.Background(), 7)

	require.NoError(t, err)
	assert.Equal(t, "pat-token", token)
}

func TestClient_ListInstallationRepos(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/installation/repositories", r.URL.Path)
		fmt.Fprintln(w, `{"total_count": 2, "repositories": [
			{"id": 1, "name": "alpha", "full_name": "octocat/alpha", "default_branch": "main", "owner": {"login": "octocat"}},
			{"id": 2, "name": "beta", "full_name": "octocat/beta", "default_branch": "main", "owner": {"login": "octocat"}}
		]}`)
	})
	client, server := setupTestClient(t, handler)
	defer server.Close()

	repos, err := client.ListInstallationRepos(context.Background(), "test-token")

	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "octocat/alpha", repos[0].FullName)
	assert.Equal(t, int64(2), repos[1].ID)
}
