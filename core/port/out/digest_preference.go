package out

import (
	"context"
	"time"

	"digest_server/core/domain"

	"github.com/google/uuid"
)

// =============================================================================
// Preference Store Port
// =============================================================================

// PreferenceStore persists per-user delivery preferences. Refresh tokens are
// encrypted at rest; implementations return them decrypted on read.
type PreferenceStore interface {
	// ListActiveUsers returns every active preference row. The scheduler
	// evaluates eligibility over this set each tick.
	ListActiveUsers(ctx context.Context) ([]domain.UserPreference, error)

	// GetByIdentity returns one user's preference, or nil when absent.
	GetByIdentity(ctx context.Context, identity uuid.UUID) (*domain.UserPreference, error)

	// UpdateLastSent records a successful delivery. Only called after the
	// delivery adapter returned nil; a delivery failure leaves the previous
	// value in place so the next tick retries.
	UpdateLastSent(ctx context.Context, identity uuid.UUID, sentAt time.Time) error

	// Upsert creates or replaces a preference row.
	Upsert(ctx context.Context, pref *domain.UserPreference) error
}
