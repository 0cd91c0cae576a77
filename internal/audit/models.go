package audit

import "time"

// Event is an immutable, append-only security and operations record.
//
// Invariants:
// - Events are never updated or deleted.
// - workspace_id is required for tenancy isolation.
// - IP capture is best-effort; do not block critical flows on audit failures.
//
// Storage (Postgres):
// - Table audit_events with an INSERT-only policy.
// - Optional: trigger to prevent UPDATE/DELETE.
// - Optional: partition by time for retention.

type Event struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// UserID is the user whose dialer state the event concerns. For webhook
	// rejections this is the claimed identity, not a verified one.
	UserID string `json:"user_id,omitempty" db:"user_id"`

	// IPAddress should capture the original client IP when available.
	// Prefer X-Forwarded-For processing at the edge; store the resolved
	// client IP here.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// CallID is the provider call id the event refers to, when there is one.
	CallID string `json:"call_id,omitempty" db:"call_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	// EventTypeWebhookRejected records a provider callback that could not be
	// attributed to a user, or that referenced another tenant's call.
	EventTypeWebhookRejected EventType = "webhook_rejected"

	// EventTypeStateSelfHealed records stale dialer state cleared by a
	// recovery path rather than a normal lifecycle transition.
	EventTypeStateSelfHealed EventType = "state_self_healed"

	// EventTypeSessionExpired records a dialing session that outlived its
	// TTL and was torn down lazily.
	EventTypeSessionExpired EventType = "session_expired"

	// EventTypeAdminAction records operator interventions such as a forced
	// primary-marker clear.
	EventTypeAdminAction EventType = "admin_action"
)
