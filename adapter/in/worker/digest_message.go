package worker

import (
	"time"

	"github.com/google/uuid"
)

// Priority levels for job scheduling.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

// JobType represents the type of a job.
type JobType = string

const (
	// JobDigestUser processes one user end to end: fetch, digest, deliver.
	JobDigestUser JobType = "digest.user"

	// JobDigestTick runs a full eligibility pass. Only manual triggers use
	// this; the hourly scheduler fans users out as digest.user jobs instead.
	JobDigestTick = "digest.tick"
)

type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Priority  Priority       `json:"priority"`
	CreatedAt time.Time      `json:"created_at"`
	Retries   int            `json:"retries"`
}

func NewMessage(jobType string, payload map[string]any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		Priority:  PriorityNormal,
		CreatedAt: time.Now(),
		Retries:   0,
	}
}

// NewPriorityMessage creates a message with specific priority.
func NewPriorityMessage(jobType string, payload map[string]any, priority Priority) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		Priority:  priority,
		CreatedAt: time.Now(),
		Retries:   0,
	}
}

// IsPriority checks if message should go to priority queue.
func (m *Message) IsPriority() bool {
	return m.Priority >= PriorityHigh
}

// DigestUserPayload carries one user job. Scheduled fan-out sets TickTime and
// leaves Manual false; triggers from the ops API set Manual so the processor
// uses the manual-run semantics (no delivery-hour match, optional force).
type DigestUserPayload struct {
	Identity  uuid.UUID `json:"identity"`
	TickTime  time.Time `json:"tick_time"`
	Manual    bool      `json:"manual"`
	Force     bool      `json:"force"`
	RequestID string    `json:"request_id,omitempty"`
}

// DigestTickPayload carries a manual full-pass request.
type DigestTickPayload struct {
	TickTime  time.Time `json:"tick_time"`
	RequestID string    `json:"request_id,omitempty"`
}
