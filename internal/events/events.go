package events

import (
	"context"
	"time"
)

// Kind identifies a UI-facing dialer event.
type Kind string

const (
	KindCallStarted      Kind = "call_started"
	KindPrimaryConnected Kind = "primary_connected"
	KindCallOnHold       Kind = "call_on_hold"
	KindQueuePromoted    Kind = "queue_promoted"
	KindCallEnded        Kind = "call_ended"
	KindSessionStarted   Kind = "session_started"
	KindSessionEnded     Kind = "session_ended"
)

// Event is a state-change notification pushed to the UI collaborator.
// Delivery is best-effort; orchestration must never block on it.
type Event struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	UserID      string    `json:"user_id"`
	Kind        Kind      `json:"kind"`
	LineID      string    `json:"line_id,omitempty"`
	CallID      string    `json:"call_id,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Publisher pushes events toward the UI notification channel.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}
