// internal/github/client.go
package github

import (
	"context"
	"crypto/rsa"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	apperrors "streak-service/internal/errors"
	"streak-service/internal/model"
)

const (
	// requestTimeout bounds every provider call; exceeding it surfaces as
	// a typed timeout error instead of hanging the worker.
	requestTimeout = 12 * time.Second

	// appJWTLifetime is well under GitHub's 10-minute ceiling.
	appJWTLifetime = 9 * time.Minute

	perPage = 100
	// maxCommitPages caps pagination per repo per job.
	maxCommitPages = 120
)

// RepoRef identifies one repository visible to an installation.
type RepoRef struct {
	ID            int64
	Owner         string
	Name          string
	FullName      string
	DefaultBranch string
}

// Client wraps go-github for GitHub App installation access. The zero-value
// token path (a personal access token) skips the exchange entirely.
type Client struct {
	appID       int64
	privateKey  *rsa.PrivateKey
	staticToken string
	logger      *slog.Logger

	// newGH builds a go-github client for a bearer token. Swapped in tests
	// to point at an httptest server.
	newGH func(token string) *github.Client
}

// NewAppClient creates a client authenticating as a GitHub App.
func NewAppClient(appID int64, privateKeyPEM []byte, logger *slog.Logger) (*Client, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, apperrors.NewAuthInvalid(err)
	}
	return &Client{
		appID:      appID,
		privateKey: key,
		logger:     logger,
		newGH:      defaultNewGH,
	}, nil
}

// NewTokenClient creates a client around a long-lived personal access
// token. Used for connections with auth_mode "pat".
func NewTokenClient(token string, logger *slog.Logger) *Client {
	return &Client{
		staticToken: token,
		logger:      logger,
		newGH:       defaultNewGH,
	}
}

func defaultNewGH(token string) *github.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return github.NewClient(oauth2.NewClient(context.Background(), ts))
}

// SetBaseURL points the client at an alternative API endpoint. Integration
// tests use it to target a local stub server.
func (c *Client) SetBaseURL(rawURL string) error {
	gh, err := github.NewClient(nil).WithEnterpriseURLs(rawURL, rawURL)
	if err != nil {
		return err
	}
	c.newGH = func(string) *github.Client { return gh }
	return nil
}

// appJWT mints the short-lived RS256 app token GitHub requires for the
// installation token exchange. Issued 30s in the past to absorb clock skew.
func (c *Client) appJWT(now time.Time) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(c.appID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-30 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTLifetime)),
	})
	return tok.SignedString(c.privateKey)
}

// InstallationToken exchanges the app credential for a short-lived
// installation access token.
func (c *Client) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	if c.staticToken != "" {
		return c.staticToken, nil
	}

	appToken, err := c.appJWT(time.Now())
	if err != nil {
		return "", apperrors.NewAuthInvalid(err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	gh := c.newGH(appToken)
	tok, resp, err := gh.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return "", classify("installation token exchange", resp, err)
	}
	return tok.GetToken(), nil
}

// ListInstallationRepos enumerates every repository the installation can
// see, following pagination.
func (c *Client) ListInstallationRepos(ctx context.Context, token string) ([]RepoRef, error) {
	gh := c.newGH(token)
	opts := &github.ListOptions{PerPage: perPage}

	var all []RepoRef
	for {
		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		repos, resp, err := gh.Apps.ListRepos(reqCtx, opts)
		cancel()
		if err != nil {
			return nil, classify("listing installation repositories", resp, err)
		}
		for _, r := range repos.Repositories {
			all = append(all, toRepoRef(r))
		}
		if resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

// GetRepo fetches a single repository, for jobs narrowed to one repo.
func (c *Client) GetRepo(ctx context.Context, token, owner, name string) (RepoRef, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	gh := c.newGH(token)
	repo, resp, err := gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return RepoRef{}, classify("fetching repository", resp, err)
	}
	return toRepoRef(repo), nil
}

// CommitRef is one entry of a branch's commit listing, in provider order.
type CommitRef struct {
	SHA        string
	AuthoredAt time.Time
}

// ListCommits pages through a branch's commit list inside [since, until],
// optionally filtered by author login. A 404/409/422 means the branch has
// no listable commits (empty repo, renamed default branch) and yields an
// empty slice rather than an error.
func (c *Client) ListCommits(ctx context.Context, token, owner, repo, branch, author string, since, until time.Time) ([]CommitRef, error) {
	gh := c.newGH(token)
	opts := &github.CommitsListOptions{
		SHA:         branch,
		Author:      author,
		Since:       since,
		Until:       until,
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var all []CommitRef
	for page := 0; page < maxCommitPages; page++ {
		c.logger.Debug("Fetching commits page", "repo", owner+"/"+repo, "branch", branch, "page", opts.Page)

		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		commits, resp, err := gh.Repositories.ListCommits(reqCtx, owner, repo, opts)
		cancel()
		if err != nil {
			if branchNotListable(resp) {
				c.logger.Debug("Branch has no listable commits, skipping",
					"repo", owner+"/"+repo, "branch", branch)
				return all, nil
			}
			return nil, classify("listing commits", resp, err)
		}

		for _, commit := range commits {
			all = append(all, CommitRef{
				SHA:        commit.GetSHA(),
				AuthoredAt: commit.GetCommit().GetAuthor().GetDate().Time,
			})
		}
		if resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
	c.logger.Warn("Commit listing hit page cap", "repo", owner+"/"+repo, "branch", branch)
	return all, nil
}

// CommitDetail fetches one commit's stats and files and maps it to the
// internal event shape.
func (c *Client) CommitDetail(ctx context.Context, token, owner, repo, sha string) (model.CommitEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	gh := c.newGH(token)
	detail, resp, err := gh.Repositories.GetCommit(ctx, owner, repo, sha, nil)
	if err != nil {
		return model.CommitEvent{}, classify("fetching commit detail", resp, err)
	}
	return toCommitEvent(owner+"/"+repo, detail), nil
}

func toRepoRef(r *github.Repository) RepoRef {
	return RepoRef{
		ID:            r.GetID(),
		Owner:         r.GetOwner().GetLogin(),
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		DefaultBranch: r.GetDefaultBranch(),
	}
}

// toCommitEvent translates a detailed github commit to the internal event.
// UserID is filled in by the worker.
func toCommitEvent(repoFullName string, c *github.RepositoryCommit) model.CommitEvent {
	authored := c.GetCommit().GetAuthor().GetDate().Time
	if authored.IsZero() {
		authored = c.GetCommit().GetCommitter().GetDate().Time
	}
	return model.CommitEvent{
		RepoFullName: repoFullName,
		SHA:          c.GetSHA(),
		Message:      c.GetCommit().GetMessage(),
		URL:          c.GetHTMLURL(),
		Additions:    c.GetStats().GetAdditions(),
		Deletions:    c.GetStats().GetDeletions(),
		FilesChanged: len(c.Files),
		AuthoredAt:   authored,
	}
}
