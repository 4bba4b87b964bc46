package out

import (
	"context"

	"github.com/google/uuid"
)

// =============================================================================
// Sender Profile Port
// =============================================================================

// SenderProfile is the interaction history between one user and one sender.
type SenderProfile struct {
	Sender          string  `json:"sender"`
	EmailsReceived  int64   `json:"emails_received"`
	RepliesDrafted  int64   `json:"replies_drafted"`
	ImportanceScore float64 `json:"importance_score"` // 0.0 ~ 1.0
	VIP             bool    `json:"vip"`
}

// SenderProfileStore tracks who writes to whom and how often a reply was
// warranted. The priority scorer reads it; the scheduler writes after each
// run. All operations are best-effort.
type SenderProfileStore interface {
	// Profile returns the interaction record, or nil when the sender is new.
	Profile(ctx context.Context, identity uuid.UUID, sender string) (*SenderProfile, error)

	// RecordInteraction bumps counters for one processed email.
	RecordInteraction(ctx context.Context, identity uuid.UUID, sender string, replied bool) error

	// MarkVIP pins a sender as important regardless of counters.
	MarkVIP(ctx context.Context, identity uuid.UUID, sender string, vip bool) error
}
