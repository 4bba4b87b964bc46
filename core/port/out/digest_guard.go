package out

import (
	"context"
	"time"

	"digest_server/core/domain"

	"github.com/google/uuid"
)

// =============================================================================
// Run Guard Port
// =============================================================================

// RunGuard is the distributed complement to the persisted last-sent guard.
// AcquireDay takes a short-lived lock keyed (identity, local day) so two
// processes sharing the preference store cannot double-send; the persisted
// timestamp stays the source of truth. A guard outage degrades to the
// persisted guard alone.
type RunGuard interface {
	// AcquireDay returns true when this process won the (identity, day) slot.
	AcquireDay(ctx context.Context, identity uuid.UUID, localDay string, ttl time.Duration) (bool, error)

	// ReleaseDay frees the slot early, used when the run fails so the next
	// tick may retry within the same day.
	ReleaseDay(ctx context.Context, identity uuid.UUID, localDay string) error

	// CacheRun stores the latest run for cheap ops-API reads.
	CacheRun(ctx context.Context, run *domain.DigestRun, ttl time.Duration) error

	// CachedRun returns the cached run, or nil on miss.
	CachedRun(ctx context.Context, identity uuid.UUID) (*domain.DigestRun, error)
}
