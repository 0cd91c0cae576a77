package telephony

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Twilio error codes worth distinguishing at the dial-initiation boundary.
// Ref: https://www.twilio.com/docs/api/errors
const (
	twilioCodeInvalidTo      = 21211
	twilioCodeMalformedPhone = 21614
	twilioCodeUnverifiedTo   = 21608
	twilioCodeTooManyReqs    = 20429
)

// TwilioProvider implements Provider on the Twilio REST API.
type TwilioProvider struct {
	api *twilioapi.ApiService
}

func NewTwilioProvider(accountSID, authToken string) *TwilioProvider {
	c := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioProvider{api: c.Api}
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	if req.To == "" || req.From == "" || req.VoiceURL == "" {
		return PlaceCallResult{}, fmt.Errorf("telephony: to, from and voice_url are required")
	}

	params := &twilioapi.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(req.From)
	params.SetUrl(req.VoiceURL)
	params.SetMethod("POST")
	if req.StatusCallbackURL != "" {
		params.SetStatusCallback(req.StatusCallbackURL)
		params.SetStatusCallbackMethod("POST")
		params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	}
	if req.RingTimeoutSeconds > 0 {
		params.SetTimeout(req.RingTimeoutSeconds)
	}
	if req.AMD.Enabled {
		params.SetMachineDetection("Enable")
		if req.AMD.TimeoutSeconds > 0 {
			params.SetMachineDetectionTimeout(req.AMD.TimeoutSeconds)
		}
		if req.AMDCallbackURL != "" {
			// Async AMD keeps the connect callback fast; the result arrives on
			// its own callback once detection settles.
			params.SetAsyncAmd("true")
			params.SetAsyncAmdStatusCallback(req.AMDCallbackURL)
			params.SetAsyncAmdStatusCallbackMethod("POST")
		}
	}

	call, err := p.api.CreateCall(params)
	if err != nil {
		return PlaceCallResult{}, mapTwilioError(err)
	}
	if call.Sid == nil || *call.Sid == "" {
		return PlaceCallResult{}, fmt.Errorf("telephony: provider returned no call sid")
	}
	return PlaceCallResult{ProviderCallID: *call.Sid}, nil
}

func (p *TwilioProvider) HangupCall(ctx context.Context, providerCallID string) error {
	if providerCallID == "" {
		return fmt.Errorf("telephony: provider call id is required")
	}
	params := &twilioapi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := p.api.UpdateCall(providerCallID, params); err != nil {
		if isAlreadyTerminated(err) {
			return nil
		}
		return mapTwilioError(err)
	}
	return nil
}

func (p *TwilioProvider) RedirectCall(ctx context.Context, providerCallID, voiceURL string) error {
	if providerCallID == "" || voiceURL == "" {
		return fmt.Errorf("telephony: provider call id and voice url are required")
	}
	params := &twilioapi.UpdateCallParams{}
	params.SetUrl(voiceURL)
	params.SetMethod("POST")
	if _, err := p.api.UpdateCall(providerCallID, params); err != nil {
		return mapTwilioError(err)
	}
	return nil
}

func (p *TwilioProvider) EndConference(ctx context.Context, providerConferenceID string) error {
	if providerConferenceID == "" {
		return fmt.Errorf("telephony: provider conference id is required")
	}
	params := &twilioapi.UpdateConferenceParams{}
	params.SetStatus("completed")
	if _, err := p.api.UpdateConference(providerConferenceID, params); err != nil {
		if isAlreadyTerminated(err) {
			return nil
		}
		return mapTwilioError(err)
	}
	return nil
}

func mapTwilioError(err error) error {
	var rest *twilioclient.TwilioRestError
	if !errors.As(err, &rest) {
		return err
	}
	switch rest.Code {
	case twilioCodeInvalidTo:
		return fmt.Errorf("%w: %s", ErrInvalidDestination, rest.Message)
	case twilioCodeMalformedPhone:
		return fmt.Errorf("%w: %s", ErrMalformedNumber, rest.Message)
	case twilioCodeUnverifiedTo:
		return fmt.Errorf("%w: %s", ErrUnverifiedDestination, rest.Message)
	case twilioCodeTooManyReqs:
		return fmt.Errorf("%w: %s", ErrRateLimited, rest.Message)
	default:
		return err
	}
}

// isAlreadyTerminated reports whether the provider rejected an update
// because the call or conference is already in a terminal state. Teardown
// treats this as success.
func isAlreadyTerminated(err error) bool {
	var rest *twilioclient.TwilioRestError
	if !errors.As(err, &rest) {
		return false
	}
	if rest.Status == 404 {
		return true
	}
	return strings.Contains(strings.ToLower(rest.Message), "not in-progress")
}
