package out

import (
	"context"

	"digest_server/core/domain"
)

// =============================================================================
// Trigger Producer Port
// =============================================================================

// TriggerProducer publishes manual run requests onto the trigger stream.
// The worker's stream consumer picks them up and feeds the job pool, so an
// API replica without a worker can still request runs.
type TriggerProducer interface {
	PublishRun(ctx context.Context, trigger *domain.RunTrigger) error
}
