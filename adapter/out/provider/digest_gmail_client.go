// Package provider implements mail provider adapters.
package provider

import (
	"context"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"digest_server/core/port/out"
	"digest_server/pkg/logger"
)

// =============================================================================
// Gmail API Client
// =============================================================================

// GmailConfig holds the OAuth application credentials. Per-user refresh
// tokens arrive with each call via domain.SourceCredential.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
}

// GmailAPI is the shared plumbing for every Gmail-backed adapter: the OAuth
// config that mints per-user token sources and one circuit breaker covering
// all API traffic.
type GmailAPI struct {
	config *oauth2.Config
	cb     *gobreaker.CircuitBreaker
}

// NewGmailAPI creates the shared Gmail client.
func NewGmailAPI(cfg GmailConfig) *GmailAPI {
	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes: []string{
			gmail.GmailReadonlyScope,
			gmail.GmailSendScope,
		},
		Endpoint: google.Endpoint,
	}

	cbSettings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,                // Half-open 상태에서 허용할 요청 수
		Interval:    60 * time.Second, // Closed 상태에서 카운터 리셋 간격
		Timeout:     30 * time.Second, // Open 상태 유지 시간 (이후 Half-open)
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// 연속 5회 실패 또는 60% 이상 실패율 (최소 10회 요청)
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Default().WithFields(map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("gmail circuit breaker state changed")
		},
	}

	return &GmailAPI{
		config: config,
		cb:     gobreaker.NewCircuitBreaker(cbSettings),
	}
}

// service builds a Gmail service bound to one user's refresh token. A default
// deadline is applied when the caller did not set one.
func (g *GmailAPI) service(ctx context.Context, refreshToken string) (*gmail.Service, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	token := &oauth2.Token{RefreshToken: refreshToken}
	svc, err := gmail.NewService(ctx, option.WithTokenSource(
		g.config.TokenSource(ctx, token),
	))
	if err != nil {
		return nil, g.wrapError(err, "failed to build gmail service")
	}
	return svc, nil
}

// execute wraps an API call with circuit breaker protection. Client errors
// (4xx except 429) bypass the failure counters so one user's bad token cannot
// open the circuit for everyone.
func (g *GmailAPI) execute(operation string, fn func() error) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			if apiErr, ok := err.(*googleapi.Error); ok {
				switch apiErr.Code {
				case 500, 502, 503, 429:
					return nil, err
				case 400, 401, 403, 404:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	if nce, ok := err.(*nonCircuitError); ok {
		return nce.err
	}
	if err != nil {
		logger.Default().WithError(err).WithFields(map[string]interface{}{
			"operation": operation,
			"state":     g.cb.State().String(),
		}).Warn("gmail api call failed")
	}
	return err
}

// nonCircuitError wraps errors that must not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

// State reports the breaker state for the stats endpoint.
func (g *GmailAPI) State() string {
	return g.cb.State().String()
}

// wrapError converts Gmail API failures into SourceError with a retryable
// flag the scheduler understands.
func (g *GmailAPI) wrapError(err error, defaultMsg string) error {
	if err == nil {
		return nil
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return out.NewSourceError("gmail", out.SourceErrUnavailable, "circuit breaker open", err, true)
	}

	if apiErr, ok := err.(*googleapi.Error); ok {
		switch apiErr.Code {
		case 401:
			return out.NewSourceError("gmail", out.SourceErrTokenExpired, "token expired", err, false)
		case 403:
			if strings.Contains(apiErr.Message, "Rate Limit") || strings.Contains(apiErr.Message, "rateLimitExceeded") {
				return out.NewSourceError("gmail", out.SourceErrRateLimit, "rate limit exceeded", err, true)
			}
			return out.NewSourceError("gmail", out.SourceErrAuth, "access denied", err, false)
		case 404:
			return out.NewSourceError("gmail", out.SourceErrNotFound, "resource not found", err, false)
		case 429:
			return out.NewSourceError("gmail", out.SourceErrRateLimit, "rate limit exceeded", err, true)
		case 500, 502, 503:
			return out.NewSourceError("gmail", out.SourceErrServer, "gmail server error", err, true)
		}
	}

	return out.NewSourceError("gmail", out.SourceErrNetwork, defaultMsg, err, true)
}
