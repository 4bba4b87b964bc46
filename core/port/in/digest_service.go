// Package in defines inbound ports (driving ports) for the application.
package in

import (
	"context"
	"time"

	"digest_server/core/domain"

	"github.com/google/uuid"
)

// TickSummary reports what one scheduler pass did.
type TickSummary struct {
	TickTime  time.Time `json:"tick_time"`
	Evaluated int       `json:"evaluated"`
	Eligible  int       `json:"eligible"`
	Delivered int       `json:"delivered"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
}

// DigestService is the core surface driven by the tick scheduler, the worker
// pool, and the ops API.
type DigestService interface {
	// RunOnce evaluates every active user against tickTime and processes the
	// eligible ones sequentially. Per-user failures are isolated: logged,
	// admin-notified, counted, never propagated. The returned error covers
	// only tick-level failures such as the user listing being unavailable.
	RunOnce(ctx context.Context, tickTime time.Time) (*TickSummary, error)

	// EligibleUsers runs the pure eligibility pass without processing, so a
	// worker pool can fan the resulting users out as individual jobs.
	EligibleUsers(ctx context.Context, tickTime time.Time) ([]domain.UserPreference, error)

	// ProcessUser runs one eligible user end to end: fetch, digest, deliver,
	// record. It owns the failure isolation contract for that user.
	ProcessUser(ctx context.Context, pref *domain.UserPreference, tickTime time.Time) error

	// RunForUser is the manual trigger path. It skips the delivery-hour
	// match but honors vacation and the same-day guard unless force is set.
	RunForUser(ctx context.Context, identity uuid.UUID, force bool) (*domain.DigestRun, error)

	// RequestRun publishes a trigger onto the stream for asynchronous
	// execution by whichever worker consumes it.
	RequestRun(ctx context.Context, trigger *domain.RunTrigger) error

	// RunHistory and LatestRun expose the audit trail to the ops API.
	RunHistory(ctx context.Context, identity uuid.UUID, limit, offset int) ([]*domain.DigestRun, error)
	LatestRun(ctx context.Context, identity uuid.UUID) (*domain.DigestRun, error)

	// Stats returns the process-lifetime counters.
	Stats() domain.SchedulerStats
}

// PreferenceService exposes preference reads and writes to the ops API.
type PreferenceService interface {
	GetPreference(ctx context.Context, identity uuid.UUID) (*domain.UserPreference, error)
	SavePreference(ctx context.Context, pref *domain.UserPreference) error
}
