package telephony

import (
	"context"
	"errors"
)

// Provider defines the provider-agnostic call-control surface used by the
// dialer core.
//
// Rules:
//   - No provider SDK calls outside telephony adapters.
//   - Hangup/EndConference must treat already-terminated resources as a
//     satisfied postcondition, not an error; teardown paths rely on that for
//     idempotency.
type Provider interface {
	Name() string

	PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error)

	// HangupCall force-completes an in-flight call.
	HangupCall(ctx context.Context, providerCallID string) error

	// RedirectCall changes the voice URL of an active call mid-call. Used to
	// move a held call into the conference on promotion.
	RedirectCall(ctx context.Context, providerCallID, voiceURL string) error

	// EndConference terminates a conference by its provider id.
	EndConference(ctx context.Context, providerConferenceID string) error
}

// Call-placement failures surfaced synchronously to the initiating caller.
// Each maps to a distinct API error code; none of these is a generic 500.
var (
	ErrInvalidDestination    = errors.New("telephony: invalid destination number")
	ErrUnverifiedDestination = errors.New("telephony: destination not verified for this account")
	ErrMalformedNumber       = errors.New("telephony: malformed phone number")
	ErrRateLimited           = errors.New("telephony: provider rate limit exceeded")
)

// AMDOptions configures answering-machine detection on an outbound call.
type AMDOptions struct {
	Enabled        bool `json:"enabled"`
	TimeoutSeconds int  `json:"timeout_seconds,omitempty"`
}

type PlaceCallRequest struct {
	To   string `json:"to"`
	From string `json:"from"`

	// VoiceURL is fetched by the provider when the call connects; the
	// response TwiML decides what the callee hears.
	VoiceURL string `json:"voice_url"`

	// StatusCallbackURL receives dial-status lifecycle callbacks.
	StatusCallbackURL string `json:"status_callback_url"`

	// AMDCallbackURL receives the asynchronous AMD result, so the connect
	// callback is not delayed by detection.
	AMDCallbackURL string `json:"amd_callback_url,omitempty"`

	AMD AMDOptions `json:"amd"`

	// RingTimeoutSeconds bounds how long the call may ring unanswered.
	RingTimeoutSeconds int `json:"ring_timeout_seconds,omitempty"`
}

type PlaceCallResult struct {
	ProviderCallID string `json:"provider_call_id"`
}
