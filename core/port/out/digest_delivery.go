package out

import (
	"context"
	"time"

	"digest_server/core/domain"

	"github.com/google/uuid"
)

// =============================================================================
// Delivery Ports
// =============================================================================

// DigestDelivery sends a finished digest to its owner. Implementations render
// the run themselves; the caller has no opinion on formatting.
type DigestDelivery interface {
	Deliver(ctx context.Context, cred domain.SourceCredential, run *domain.DigestRun) error
}

// AdminNotifier alerts the operator when a user's digest fails. Notification
// failures are logged and swallowed; they never escalate a tick.
type AdminNotifier interface {
	NotifyFailure(ctx context.Context, identity uuid.UUID, cause error, tickTime time.Time) error
}
