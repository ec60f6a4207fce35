// Package bus distributes routing lifecycle events to interested observers:
// the CLI's verbose trace, metrics bridges, and tests. Publishing never
// blocks the routing path; slow subscribers drop events.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies a routing lifecycle event.
type EventType string

const (
	// EventRouteDecided fires after the routing policy picks a brain and
	// method for a query.
	EventRouteDecided EventType = "route_decided"

	// EventProviderAttempted fires once per provider candidate tried by
	// the fallback chain, success or failure.
	EventProviderAttempted EventType = "provider_attempted"

	// EventBrainResponded fires when a brain produces its final text for
	// a query, after any tool cycles.
	EventBrainResponded EventType = "brain_responded"

	// EventToolExecuted fires per tool call run inside the execution loop.
	EventToolExecuted EventType = "tool_executed"

	// EventReviewCompleted fires after the reviewer critiques a response,
	// whether or not a revision followed.
	EventReviewCompleted EventType = "review_completed"

	// EventSafetyBlocked fires when the sentinel gate refuses a query.
	EventSafetyBlocked EventType = "safety_blocked"
)

// Event is one routing lifecycle occurrence. Fields beyond the core
// identification block are populated per type.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	SessionID string `json:"session_id,omitempty"`

	// Routing context
	Brain  string `json:"brain,omitempty"`
	Method string `json:"method,omitempty"`

	// Provider context
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// Tool context
	Tool string `json:"tool,omitempty"`

	Confidence float64 `json:"confidence,omitempty"`
	DurationMs int64   `json:"duration_ms,omitempty"`

	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewEvent stamps an event with an ID and timestamp.
func NewEvent(t EventType) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Type:      t,
	}
}
