package audit

import (
	"context"
	"time"
)

// Event is emitted from domain logic to capture operator-relevant actions.
// It is transport-agnostic so sinks can fan out to logs, Kafka or memory.
type Event struct {
	Action     string         `json:"action"`
	Subject    string         `json:"subject,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

const (
	// Admission events
	EventAdmissionRateLimited  = "admission_rate_limited"
	EventAdmissionQuotaReached = "admission_quota_exceeded"
	EventAdmissionStoreFailed  = "admission_store_failed"

	// Housekeeping events
	EventCleanupCompleted = "cleanup_completed"
)

// Store persists or forwards events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Lister is implemented by stores that can read events back (memory store).
type Lister interface {
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
}
