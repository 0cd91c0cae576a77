package markers

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Per-user dialing markers. These are the only shared mutable state in the
// dialer subsystem; every mutation of the primary marker must go through
// Store.ClaimPrimary / Store.ClearPrimary so the single-primary invariant
// holds under concurrent webhook delivery.

// PrimaryCall marks the one call currently bridged to the agent.
//
// Invariant: at most one PrimaryCall per user at any instant.
type PrimaryCall struct {
	LineID       string    `json:"line_id"`
	CallID       string    `json:"call_id"`
	ClaimedAt    time.Time `json:"claimed_at"`
	InConference bool      `json:"in_conference"`
}

// SecondaryCall marks a human-answered call parked on hold because a
// primary already exists. One per (user, line).
type SecondaryCall struct {
	LineID string    `json:"line_id"`
	CallID string    `json:"call_id"`
	HeldAt time.Time `json:"held_at"`
	OnHold bool      `json:"on_hold"`
	Name   string    `json:"name,omitempty"`
	Phone  string    `json:"phone,omitempty"`
}

// Conference describes the per-user dialing session and its provider-side
// conference. It carries a hard TTL as a liveness safeguard against leaked
// state; a descriptor older than the TTL is treated as expired.
type Conference struct {
	Name        string    `json:"name"`
	ProviderSID string    `json:"provider_sid,omitempty"`
	AgentCallID string    `json:"agent_call_id,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	Status      string    `json:"status"`
	Started     bool      `json:"started"`
}

// ExpiredAt reports whether the descriptor has outlived ttl as of now.
func (c Conference) ExpiredAt(now time.Time, ttl time.Duration) bool {
	if c.StartedAt.IsZero() || ttl <= 0 {
		return false
	}
	return now.Sub(c.StartedAt) > ttl
}

// LineID formats the canonical id for a logical dialing slot.
func LineID(index int) string {
	return fmt.Sprintf("line-%d", index)
}

// LineIndex parses the numeric index out of a line id. Unparseable ids sort
// last so a stray marker never outranks a well-formed one during promotion.
func LineIndex(lineID string) int {
	rest, ok := strings.CutPrefix(lineID, "line-")
	if !ok {
		return int(^uint(0) >> 1)
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return int(^uint(0) >> 1)
	}
	return n
}
