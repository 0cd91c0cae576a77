package dialer

import (
	"context"

	"parallel-dialer/internal/calls"
	"parallel-dialer/internal/events"
	"parallel-dialer/internal/markers"
	"parallel-dialer/internal/telephony"

	"github.com/google/uuid"
)

// InitiateRequest starts one outbound call attempt on a logical line.
type InitiateRequest struct {
	To        string `json:"to"`
	LineID    string `json:"line_id"`
	ContactID string `json:"contact_id,omitempty"`

	// AMDEnabled defaults to the service configuration when nil.
	AMDEnabled        *bool `json:"amd_enabled,omitempty"`
	AMDTimeoutSeconds int   `json:"amd_timeout_seconds,omitempty"`
}

// InitiateCall places one outbound call on the given line and records the
// attempt. Placement failures pass the telephony sentinels through so the
// API layer can answer with a distinct code per cause.
func (s *Service) InitiateCall(ctx context.Context, id Identity, req InitiateRequest) (calls.Attempt, error) {
	if !id.valid() || req.To == "" || req.LineID == "" {
		return calls.Attempt{}, ErrInvalidArgument
	}
	if markers.LineIndex(req.LineID) >= s.cfg.MaxLines {
		return calls.Attempt{}, ErrInvalidArgument
	}

	if _, ok, err := s.activeConference(ctx, id); err != nil {
		return calls.Attempt{}, err
	} else if !ok {
		return calls.Attempt{}, ErrNoSession
	}

	// A line holds at most one live call; a second dial on the same line
	// would leave two calls fighting over its single secondary marker.
	active, err := s.calls.ListActiveByUser(ctx, id.WorkspaceID, id.UserID)
	if err != nil {
		return calls.Attempt{}, err
	}
	for _, a := range active {
		if a.LineID == req.LineID {
			return calls.Attempt{}, ErrLineBusy
		}
	}

	acquired, err := s.limiter.Acquire(ctx, id.UserID)
	if err != nil {
		return calls.Attempt{}, err
	}
	if !acquired {
		return calls.Attempt{}, ErrTooManyLines
	}

	amdEnabled := s.cfg.AMDEnabled
	if req.AMDEnabled != nil {
		amdEnabled = *req.AMDEnabled
	}
	amdTimeout := req.AMDTimeoutSeconds
	if amdTimeout <= 0 {
		amdTimeout = s.cfg.AMDTimeoutSeconds
	}

	res, err := s.provider.PlaceCall(ctx, telephony.PlaceCallRequest{
		To:                 req.To,
		From:               s.cfg.CallerID,
		VoiceURL:           s.answerURL(id),
		StatusCallbackURL:  s.statusURL(id),
		AMDCallbackURL:     s.amdURL(id),
		AMD:                telephony.AMDOptions{Enabled: amdEnabled, TimeoutSeconds: amdTimeout},
		RingTimeoutSeconds: s.cfg.RingTimeoutSeconds,
	})
	if err != nil {
		if relErr := s.limiter.Release(ctx, id.UserID); relErr != nil {
			s.log.Warn("line cap release failed after placement error", "err", relErr)
		}
		return calls.Attempt{}, err
	}

	attempt := calls.Attempt{
		ID:                uuid.NewString(),
		WorkspaceID:       id.WorkspaceID,
		UserID:            id.UserID,
		ProviderCallID:    res.ProviderCallID,
		LineID:            req.LineID,
		To:                req.To,
		From:              s.cfg.CallerID,
		ContactID:         req.ContactID,
		Status:            calls.StatusInitiated,
		AMDEnabled:        amdEnabled,
		AMDTimeoutSeconds: amdTimeout,
		CreatedAt:         s.clock().UTC(),
	}
	if err := s.calls.Insert(ctx, attempt); err != nil {
		// The call is already in flight; keep it rather than orphan the
		// customer, but surface the persistence failure.
		s.log.Error("call attempt insert failed", "call_id", res.ProviderCallID, "err", err)
		return attempt, err
	}

	s.publish(ctx, id, events.KindCallStarted, req.LineID, res.ProviderCallID, req.To, "")
	return attempt, nil
}
