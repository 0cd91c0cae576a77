package dialer

import (
	"context"

	"parallel-dialer/internal/amd"
	"parallel-dialer/internal/calls"
	"parallel-dialer/internal/events"
	"parallel-dialer/internal/markers"
)

// HandleVoiceConnect decides what a just-connected call leg should hear.
//
// The same URL serves first connects, hold-loop refreshes and
// post-promotion redirects: the decision is derived entirely from current
// marker state, which makes repeated fetches for the same call idempotent.
func (s *Service) HandleVoiceConnect(ctx context.Context, id Identity, cb VoiceConnect) (Action, error) {
	if !id.valid() {
		return Action{Kind: ActionHangup}, ErrInvalidArgument
	}

	conf, hasSession, err := s.activeConference(ctx, id)
	if err != nil {
		return Action{Kind: ActionHangup}, err
	}
	if !hasSession {
		// Session ended or expired while the call was connecting.
		return Action{Kind: ActionHangup}, nil
	}

	// The agent's own leg starts the conference.
	if cb.ProviderCallID != "" && cb.ProviderCallID == conf.AgentCallID {
		return Action{
			Kind:                ActionJoinConference,
			ConferenceName:      conf.Name,
			StartOnEnter:        true,
			EndOnExit:           true,
			ConferenceStatusURL: s.conferenceStatusURL(id),
		}, nil
	}

	attempt, err := s.attemptFor(ctx, id, cb.ProviderCallID)
	if err != nil {
		return Action{Kind: ActionHangup}, err
	}

	if !attempt.Status.IsTerminal() {
		if err := s.calls.UpdateStatus(ctx, attempt.ProviderCallID, calls.StatusInProgress, 0); err != nil {
			s.log.Warn("status update failed on connect", "call_id", attempt.ProviderCallID, "err", err)
		}
	}

	result := amd.Classify(cb.AnsweredBy)
	if attempt.AMDEnabled {
		if cb.AnsweredBy != "" {
			if err := s.calls.SetAMDResult(ctx, attempt.ProviderCallID, cb.AnsweredBy); err != nil {
				s.log.Warn("amd result persist failed", "call_id", attempt.ProviderCallID, "err", err)
			}
		}
		switch {
		case result.IsNonHuman():
			// Machine or fax pickups are discarded immediately and never
			// create a marker.
			return Action{Kind: ActionHangup}, nil
		case result == amd.ResultUnknown:
			// Detection has not resolved; keep the leg alive and re-check.
			return Action{Kind: ActionWait, WaitSeconds: 3}, nil
		}
	}

	return s.admit(ctx, id, conf, attempt)
}

// admit runs queue admission for a human-answered line. The primary claim
// is a single atomic compare-and-set in the marker store; two lines racing
// here cannot both win it.
func (s *Service) admit(ctx context.Context, id Identity, conf markers.Conference, attempt calls.Attempt) (Action, error) {
	// Re-entrant fetches for the current primary (hold refresh after
	// promotion, duplicate connect callbacks) join the conference again.
	if p, ok, err := s.markers.GetPrimary(ctx, id.UserID); err != nil {
		return Action{Kind: ActionHangup}, err
	} else if ok && p.CallID == attempt.ProviderCallID {
		return Action{
			Kind:                ActionJoinConference,
			ConferenceName:      conf.Name,
			ConferenceStatusURL: s.conferenceStatusURL(id),
		}, nil
	}

	claimed, err := s.markers.ClaimPrimary(ctx, id.UserID, markers.PrimaryCall{
		LineID:    attempt.LineID,
		CallID:    attempt.ProviderCallID,
		ClaimedAt: s.clock().UTC(),
	})
	if err != nil {
		return Action{Kind: ActionHangup}, err
	}

	if claimed {
		// Won admission: this line is the primary and bridges immediately.
		if err := s.markers.DeleteSecondary(ctx, id.UserID, attempt.LineID); err != nil {
			s.log.Warn("stale secondary cleanup failed", "line_id", attempt.LineID, "err", err)
		}
		s.publish(ctx, id, events.KindPrimaryConnected, attempt.LineID, attempt.ProviderCallID, attempt.To, "")
		return Action{
			Kind:                ActionJoinConference,
			ConferenceName:      conf.Name,
			ConferenceStatusURL: s.conferenceStatusURL(id),
		}, nil
	}

	// A primary exists: park this call on hold.
	m := markers.SecondaryCall{
		LineID: attempt.LineID,
		CallID: attempt.ProviderCallID,
		HeldAt: s.clock().UTC(),
		OnHold: true,
		Phone:  attempt.To,
	}
	if err := s.markers.PutSecondary(ctx, id.UserID, m); err != nil {
		return Action{Kind: ActionHangup}, err
	}
	s.publish(ctx, id, events.KindCallOnHold, attempt.LineID, attempt.ProviderCallID, attempt.To, "")
	return Action{Kind: ActionHold}, nil
}

// HandleAMDResult processes the asynchronous AMD callback.
func (s *Service) HandleAMDResult(ctx context.Context, id Identity, cb AMDResult) error {
	if !id.valid() {
		return ErrInvalidArgument
	}
	attempt, err := s.attemptFor(ctx, id, cb.ProviderCallID)
	if err != nil {
		return err
	}

	if cb.AnsweredBy != "" {
		if err := s.calls.SetAMDResult(ctx, attempt.ProviderCallID, cb.AnsweredBy); err != nil {
			s.log.Warn("amd result persist failed", "call_id", attempt.ProviderCallID, "err", err)
		}
	}

	switch result := amd.Classify(cb.AnsweredBy); {
	case result.IsNonHuman():
		// Hang the leg up; the terminal dial-status callback performs any
		// marker cleanup and promotion.
		return s.provider.HangupCall(ctx, attempt.ProviderCallID)
	case result == amd.ResultHuman:
		// The connect handler parked this leg in a wait loop. Redirect it
		// back through the answer URL so admission runs now instead of at
		// the end of the pause.
		if err := s.provider.RedirectCall(ctx, attempt.ProviderCallID, s.answerURL(id)); err != nil {
			s.log.Warn("post-amd redirect failed", "call_id", attempt.ProviderCallID, "err", err)
		}
		return nil
	default:
		// Unresolved: do not act.
		return nil
	}
}
