// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// Code classifies a sync failure. It is stored on the connection so the UI
// can tell "reconnect required" apart from "we'll retry".
type Code string

const (
	CodeAuthInvalid Code = "AUTH_INVALID"
	CodeTimeout     Code = "TIMEOUT"
	CodeRateLimited Code = "RATE_LIMITED"
	CodeUnavailable Code = "PROVIDER_UNAVAILABLE"
	CodeNotFound    Code = "NOT_FOUND"
	CodeInternal    Code = "INTERNAL"
)

// SyncError is a classified provider/worker failure.
type SyncError struct {
	Code    Code
	Message string
	Err     error
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure should go back through the queue's
// backoff path. Auth failures are surfaced to the user instead of being
// retried forever.
func (e *SyncError) Retryable() bool {
	switch e.Code {
	case CodeTimeout, CodeRateLimited, CodeUnavailable, CodeInternal:
		return true
	}
	return false
}

func NewAuthInvalid(err error) *SyncError {
	return &SyncError{Code: CodeAuthInvalid, Message: "provider rejected credentials", Err: err}
}

func NewTimeout(op string, err error) *SyncError {
	return &SyncError{Code: CodeTimeout, Message: op + " timed out", Err: err}
}

func NewRateLimited(err error) *SyncError {
	return &SyncError{Code: CodeRateLimited, Message: "provider rate limit exceeded", Err: err}
}

func NewUnavailable(op string, err error) *SyncError {
	return &SyncError{Code: CodeUnavailable, Message: op + " failed", Err: err}
}

func NewNotFound(resource string) *SyncError {
	return &SyncError{Code: CodeNotFound, Message: resource + " not found"}
}

func NewInternal(msg string, err error) *SyncError {
	return &SyncError{Code: CodeInternal, Message: msg, Err: err}
}

// AsSyncError unwraps err to a *SyncError, or wraps it as internal when it
// was never classified.
func AsSyncError(err error) *SyncError {
	var se *SyncError
	if errors.As(err, &se) {
		return se
	}
	return NewInternal("unclassified failure", err)
}

// IsAuthInvalid reports whether err carries CodeAuthInvalid.
func IsAuthInvalid(err error) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Code == CodeAuthInvalid
}

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Code == CodeNotFound
}

// Validation sentinels for the query surface. Distinguishable from
// transient sync failures; numeric clamping is the only silent coercion.
var (
	ErrNoConnection      = errors.New("no provider connection for user")
	ErrInvalidTimeZone   = errors.New("invalid time zone name")
	ErrInvalidGoals      = errors.New("goal values out of range")
	ErrInvalidQuietHours = errors.New("quiet hours out of range")
)

// ErrInvalidRepoFormat is returned when a repository string is not in
// 'owner/name' form.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected 'owner/name'", e.Repo)
}
