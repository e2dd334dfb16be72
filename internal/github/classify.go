// internal/github/classify.go
package github

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/google/go-github/v62/github"

	apperrors "streak-service/internal/errors"
)

// classify maps a go-github failure onto the sync error taxonomy. 401 is
// auth-invalid (reconnect required, never silently retried); rate limits
// and 5xx are retryable; deadline/network failures are timeouts.
func classify(op string, resp *github.Response, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewTimeout(op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.NewTimeout(op, err)
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return apperrors.NewRateLimited(err)
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return apperrors.NewRateLimited(err)
	}

	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return apperrors.NewAuthInvalid(err)
		case resp.StatusCode == http.StatusNotFound:
			return apperrors.NewNotFound(op)
		case resp.StatusCode >= 500:
			return apperrors.NewUnavailable(op, err)
		case resp.StatusCode == http.StatusTooManyRequests:
			return apperrors.NewRateLimited(err)
		}
	}
	return apperrors.NewInternal(op, err)
}

// branchNotListable reports the "no commits on this branch" family of
// responses: empty repo (409), missing ref (404), unprocessable ref (422).
func branchNotListable(resp *github.Response) bool {
	if resp == nil {
		return false
	}
	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	}
	return false
}
