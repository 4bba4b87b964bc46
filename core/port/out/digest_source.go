// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"time"

	"digest_server/core/domain"
)

// =============================================================================
// Email Source Port
// =============================================================================

// FetchOptions bounds an unread fetch.
type FetchOptions struct {
	Since      time.Time // only messages received after this instant
	MaxResults int       // hard cap per user per tick
}

// EmailSource fetches unread mail for one user. The credential is a
// capability bound to a single identity; implementations must not cache it
// across users.
// 구현체: Gmail 어댑터
type EmailSource interface {
	FetchUnread(ctx context.Context, cred domain.SourceCredential, opts FetchOptions) ([]domain.RawEmail, error)
}

// =============================================================================
// Source Error
// =============================================================================

// SourceErrorCode classifies source failures for retry decisions.
type SourceErrorCode string

const (
	SourceErrAuth         SourceErrorCode = "auth_error"
	SourceErrTokenExpired SourceErrorCode = "token_expired"
	SourceErrRateLimit    SourceErrorCode = "rate_limit"
	SourceErrNotFound     SourceErrorCode = "not_found"
	SourceErrNetwork      SourceErrorCode = "network_error"
	SourceErrServer       SourceErrorCode = "server_error"
	SourceErrUnavailable  SourceErrorCode = "unavailable" // circuit open
)

// SourceError wraps a provider failure with retryability.
type SourceError struct {
	Provider  string
	Code      SourceErrorCode
	Message   string
	Err       error
	Retryable bool
}

func (e *SourceError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// NewSourceError creates a new source error.
func NewSourceError(provider string, code SourceErrorCode, message string, err error, retryable bool) *SourceError {
	return &SourceError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Err:       err,
		Retryable: retryable,
	}
}
