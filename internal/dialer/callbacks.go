package dialer

// Typed payloads for the four provider callback kinds. The webhook layer
// parses provider form bodies into these; the service never sniffs loose
// fields.

// VoiceConnect is the voice callback fetched when a call leg connects.
type VoiceConnect struct {
	ProviderCallID string
	From           string
	To             string
	AnsweredBy     string
}

// AMDResult is the asynchronous answering-machine-detection callback.
type AMDResult struct {
	ProviderCallID    string
	AnsweredBy        string
	DetectionDuration int
}

// DialStatus is a call lifecycle status callback.
type DialStatus struct {
	ProviderCallID  string
	Status          string
	DurationSeconds int
}

// ConferenceStatus is a conference lifecycle callback.
type ConferenceStatus struct {
	ProviderConferenceID string
	ConferenceName       string
	Event                string
	ParticipantLabel     string
	ProviderCallID       string
}
