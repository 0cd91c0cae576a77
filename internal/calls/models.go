package calls

import "time"

// Attempt is one outbound call placed on a logical dialing line.
//
// Multi-tenant invariant: WorkspaceID is required on every row.
//
// Attempts are created when dialing starts, mutated by every webhook
// callback referencing the provider call id, and never deleted; terminal
// transitions are the only end state.
type Attempt struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	UserID      string `json:"user_id" db:"user_id"`

	// ProviderCallID is the provider's unique identifier for this call.
	ProviderCallID string `json:"provider_call_id" db:"provider_call_id"`

	LineID    string `json:"line_id" db:"line_id"`
	To        string `json:"to" db:"to_number"`
	From      string `json:"from" db:"from_number"`
	ContactID string `json:"contact_id,omitempty" db:"contact_id"`

	Status Status `json:"status" db:"status"`

	AMDEnabled        bool   `json:"amd_enabled" db:"amd_enabled"`
	AMDTimeoutSeconds int    `json:"amd_timeout_seconds" db:"amd_timeout_seconds"`
	AMDResult         string `json:"amd_result,omitempty" db:"amd_result"`

	Disposition Disposition `json:"disposition,omitempty" db:"disposition"`

	DurationSeconds int `json:"duration" db:"duration"`

	// Metadata is an optional JSON bag for provider payload excerpts.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBusy       Status = "busy"
	StatusFailed     Status = "failed"
	StatusNoAnswer   Status = "no_answer"
	StatusCanceled   Status = "canceled"
)

// IsTerminal reports whether no further lifecycle callbacks are expected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusBusy, StatusFailed, StatusNoAnswer, StatusCanceled:
		return true
	default:
		return false
	}
}

// ParseStatus normalizes a provider dial-status value. Provider statuses use
// hyphens ("no-answer"); unknown values map to the zero Status.
func ParseStatus(v string) Status {
	switch v {
	case "initiated", "queued":
		return StatusInitiated
	case "ringing":
		return StatusRinging
	case "in-progress", "in_progress", "answered":
		return StatusInProgress
	case "completed":
		return StatusCompleted
	case "busy":
		return StatusBusy
	case "failed":
		return StatusFailed
	case "no-answer", "no_answer":
		return StatusNoAnswer
	case "canceled", "cancelled":
		return StatusCanceled
	default:
		return ""
	}
}
