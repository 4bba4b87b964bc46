package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Priority is a deterministic importance score from 0.0 to 1.0.
//
// Bucket thresholds:
//   - 0.70 ~ 1.00: high   (urgent keywords, VIP senders, deadlines)
//   - 0.40 ~ 0.69: medium
//   - 0.00 ~ 0.39: low    (automated and bulk mail lands here)
type Priority float64

// Priority bucket names used for digest grouping.
const (
	BucketHigh   = "high"
	BucketMedium = "medium"
	BucketLow    = "low"
)

// Bucket returns the band this score falls into.
func (p Priority) Bucket() string {
	switch {
	case p >= 0.70:
		return BucketHigh
	case p >= 0.40:
		return BucketMedium
	default:
		return BucketLow
	}
}

// Clamp bounds the score to [0, 1].
func (p Priority) Clamp() Priority {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// DigestItem is the processed form of one input email. The engine produces
// exactly one item per input, in input order, even when processing fails.
type DigestItem struct {
	Email          RawEmail             `json:"email"`
	Summary        string               `json:"summary"`
	Priority       Priority             `json:"priority"`
	Classification IntentClassification `json:"classification"`
	Context        ExtractedContext     `json:"context"`
	Reply          *ReplyCandidate      `json:"reply,omitempty"`

	// Failed marks the item-level placeholder: summary unavailable,
	// intent unknown, necessity required so the user still sees it.
	Failed bool `json:"failed,omitempty"`
}

// DigestRun is one complete digest for one user at one tick. The in-memory
// value is discarded after delivery; the history store keeps an audit copy.
type DigestRun struct {
	ID       int64     `json:"id"`
	Identity uuid.UUID `json:"identity"`
	Email    string    `json:"email"`
	TickTime time.Time `json:"tick_time"`

	Items []DigestItem `json:"items"`

	// Aggregates, filled by Finalize.
	TotalProcessed int `json:"total_processed"`
	RepliesDrafted int `json:"replies_drafted"`
	ActionOnly     int `json:"action_only"`
	FailedItems    int `json:"failed_items"`

	Succeeded bool   `json:"succeeded"`
	Error     string `json:"error,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Finalize computes the aggregate counters from the item list.
func (r *DigestRun) Finalize() {
	r.TotalProcessed = len(r.Items)
	r.RepliesDrafted = 0
	r.ActionOnly = 0
	r.FailedItems = 0
	for i := range r.Items {
		it := &r.Items[i]
		if it.Failed {
			r.FailedItems++
		}
		if it.Reply != nil && it.Reply.Method != ReplyNotNeeded && it.Reply.Draft != "" {
			r.RepliesDrafted++
		}
		if it.Classification.Necessity == NecessityActionOnly {
			r.ActionOnly++
		}
	}
}

// UrgentItems returns only the items a weekend urgent_only user receives.
func (r *DigestRun) UrgentItems() []DigestItem {
	out := make([]DigestItem, 0, len(r.Items))
	for _, it := range r.Items {
		if it.Classification.Necessity.Urgent() {
			out = append(out, it)
		}
	}
	return out
}

// BucketedItems groups items by priority bucket for rendering. Within a
// bucket, higher priority first, ties broken by reply confidence.
type BucketedItems struct {
	High   []DigestItem `json:"high"`
	Medium []DigestItem `json:"medium"`
	Low    []DigestItem `json:"low"`
}

// Bucketed sorts and splits the given items. It never mutates the run.
func Bucketed(items []DigestItem) BucketedItems {
	sorted := make([]DigestItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return replyConfidence(&sorted[i]) > replyConfidence(&sorted[j])
	})

	var b BucketedItems
	for _, it := range sorted {
		switch it.Priority.Bucket() {
		case BucketHigh:
			b.High = append(b.High, it)
		case BucketMedium:
			b.Medium = append(b.Medium, it)
		default:
			b.Low = append(b.Low, it)
		}
	}
	return b
}

func replyConfidence(it *DigestItem) float64 {
	if it.Reply == nil {
		return 0
	}
	return it.Reply.Confidence
}

// SchedulerStats is a point-in-time snapshot of process-lifetime counters.
type SchedulerStats struct {
	DigestsSent     int64     `json:"digests_sent"`
	EmailsProcessed int64     `json:"emails_processed"`
	DigestsFailed   int64     `json:"digests_failed"`
	UsersSkipped    int64     `json:"users_skipped"`
	StartedAt       time.Time `json:"started_at"`
	LastTickAt      time.Time `json:"last_tick_at,omitempty"`
}

// RunTrigger is the payload published to the trigger stream by the ops API.
// Identity nil means a full eligibility tick; set means one user.
type RunTrigger struct {
	Identity    *uuid.UUID `json:"identity,omitempty"`
	Force       bool       `json:"force,omitempty"` // bypass the same-day guard
	RequestID   string     `json:"request_id"`
	RequestedAt time.Time  `json:"requested_at"`
}
