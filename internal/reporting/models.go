package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// OutcomeSummaryRequest requests aggregated call outcomes for one user's
// dialing activity. Workspace isolation: WorkspaceID is required.

type OutcomeSummaryRequest struct {
	WorkspaceID string    `json:"workspace_id"`
	UserID      string    `json:"user_id"`
	Range       TimeRange `json:"range"`
}

type OutcomeSummary struct {
	WorkspaceID string `json:"workspace_id"`
	UserID      string `json:"user_id"`

	TotalCalls int `json:"total_calls"`

	// By inferred disposition.
	Answered     int `json:"answered"`
	Voicemail    int `json:"voicemail"`
	Disconnected int `json:"disconnected"`
	Busy         int `json:"busy"`
	NoAnswer     int `json:"no_answer"`
	Failed       int `json:"failed"`

	// MachineDetected counts calls AMD classified as machine or fax,
	// regardless of final disposition.
	MachineDetected int `json:"machine_detected"`

	TotalTalkSeconds       int `json:"total_talk_seconds"`
	AverageTalkSeconds     int `json:"average_talk_seconds"`
	ConnectRatePercent     int `json:"connect_rate_percent"`
	InFlightAtQueryNonTerm int `json:"in_flight_at_query"`
}
