package out

import (
	"context"

	"digest_server/core/domain"

	"github.com/google/uuid"
)

// =============================================================================
// Run History Port
// =============================================================================

// RunHistoryStore keeps an audit copy of completed digest runs. History is
// best-effort: a save failure is logged, never fails the run, and documents
// expire on their own.
type RunHistoryStore interface {
	Save(ctx context.Context, run *domain.DigestRun) error
	ListByUser(ctx context.Context, identity uuid.UUID, limit, offset int) ([]*domain.DigestRun, error)
	LatestByUser(ctx context.Context, identity uuid.UUID) (*domain.DigestRun, error)
}
