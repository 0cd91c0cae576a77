package amd

import "strings"

// Result is the normalized answering-machine-detection outcome for a call.
//
// Providers report a free-text "answered by" signal on the call-progress
// callback; the rest of the system only acts on this normalized value.
type Result string

const (
	ResultHuman   Result = "human"
	ResultMachine Result = "machine"
	ResultFax     Result = "fax"
	ResultUnknown Result = "unknown"
)

// Classify maps a provider-reported answered-by signal to a Result.
//
// Any value prefixed "machine" (machine_start, machine_end_beep,
// machine_end_silence, machine_end_other) counts as a machine pickup.
// An empty or unrecognized signal means detection has not resolved yet
// and the caller must not act on it.
func Classify(answeredBy string) Result {
	v := strings.ToLower(strings.TrimSpace(answeredBy))
	switch {
	case v == "":
		return ResultUnknown
	case v == "human":
		return ResultHuman
	case v == "fax":
		return ResultFax
	case strings.HasPrefix(v, "machine"):
		return ResultMachine
	default:
		return ResultUnknown
	}
}

// IsNonHuman reports whether the result must trigger an immediate hangup.
func (r Result) IsNonHuman() bool {
	return r == ResultMachine || r == ResultFax
}
