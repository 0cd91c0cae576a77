package dialer

import (
	"context"
	"errors"
	"fmt"

	"parallel-dialer/internal/audit"
	"parallel-dialer/internal/calls"
	"parallel-dialer/internal/events"
	"parallel-dialer/internal/markers"
	"parallel-dialer/internal/telephony"

	"github.com/google/uuid"
)

// StartSession opens a dialing session: it creates the per-user conference
// descriptor and places the agent's own call leg, which joins the
// conference as the first participant. The conference connects audio only
// once the agent leg enters (startConferenceOnEnter on that leg).
func (s *Service) StartSession(ctx context.Context, id Identity, agentNumber string) (markers.Conference, error) {
	if !id.valid() || agentNumber == "" {
		return markers.Conference{}, ErrInvalidArgument
	}

	if _, ok, err := s.activeConference(ctx, id); err != nil {
		return markers.Conference{}, err
	} else if ok {
		return markers.Conference{}, ErrSessionActive
	}

	conf := markers.Conference{
		Name:      "dial-" + id.UserID + "-" + uuid.NewString(),
		StartedAt: s.clock().UTC(),
		Status:    "created",
	}

	res, err := s.provider.PlaceCall(ctx, telephony.PlaceCallRequest{
		To:                 agentNumber,
		From:               s.cfg.CallerID,
		VoiceURL:           s.answerURL(id),
		StatusCallbackURL:  s.statusURL(id),
		RingTimeoutSeconds: s.cfg.RingTimeoutSeconds,
	})
	if err != nil {
		return markers.Conference{}, fmt.Errorf("dialer: agent leg: %w", err)
	}
	conf.AgentCallID = res.ProviderCallID

	if err := s.markers.PutConference(ctx, id.UserID, conf, s.cfg.SessionTTL); err != nil {
		// Roll the agent leg back; an orphaned descriptor is worse than a
		// dropped call.
		_ = s.provider.HangupCall(ctx, res.ProviderCallID)
		return markers.Conference{}, err
	}

	s.publish(ctx, id, events.KindSessionStarted, "", conf.AgentCallID, agentNumber, conf.Name)
	return conf, nil
}

// EndSession tears a session down: ends the conference, hangs up the agent
// leg and every still-active line, and clears all markers. It is the one
// required cleanup path and is safe to invoke repeatedly; every step
// treats already-gone resources as a satisfied postcondition.
func (s *Service) EndSession(ctx context.Context, id Identity) error {
	if !id.valid() {
		return ErrInvalidArgument
	}

	conf, hasConf, err := s.markers.GetConference(ctx, id.UserID)
	if err != nil {
		return err
	}

	// Cancel every non-terminal line, agent leg included.
	attempts, err := s.calls.ListActiveByUser(ctx, id.WorkspaceID, id.UserID)
	if err != nil {
		s.log.Warn("active call listing failed during session end", "err", err, "user_id", id.UserID)
	}
	for _, a := range attempts {
		if err := s.provider.HangupCall(ctx, a.ProviderCallID); err != nil {
			s.log.Warn("line hangup failed during session end", "call_id", a.ProviderCallID, "err", err)
		}
	}

	if hasConf {
		if conf.AgentCallID != "" {
			if err := s.provider.HangupCall(ctx, conf.AgentCallID); err != nil {
				s.log.Warn("agent leg hangup failed", "call_id", conf.AgentCallID, "err", err)
			}
		}
		if conf.ProviderSID != "" {
			if err := s.provider.EndConference(ctx, conf.ProviderSID); err != nil {
				s.log.Warn("conference end failed", "conference_sid", conf.ProviderSID, "err", err)
			}
		}
	}

	if err := s.markers.ClearUser(ctx, id.UserID); err != nil {
		return err
	}

	s.publish(ctx, id, events.KindSessionEnded, "", "", "", conf.Name)
	return nil
}

// activeConference returns the session descriptor, lazily expiring one
// that outlived its TTL (Redis usually expires it first; this also covers
// the memory store and clock skew). Expiry is self-healing: markers are
// cleared and the expiry is audited, so a fresh session can start cleanly.
func (s *Service) activeConference(ctx context.Context, id Identity) (markers.Conference, bool, error) {
	conf, ok, err := s.markers.GetConference(ctx, id.UserID)
	if err != nil {
		return markers.Conference{}, false, err
	}
	if !ok {
		// The descriptor TTL already fired; drop whatever markers the old
		// session left behind so the next session starts clean.
		if err := s.markers.ClearUser(ctx, id.UserID); err != nil {
			s.log.Warn("residual marker cleanup failed", "err", err, "user_id", id.UserID)
		}
		return markers.Conference{}, false, nil
	}
	if conf.ExpiredAt(s.clock(), s.cfg.SessionTTL) {
		s.auditEvent(ctx, id, audit.EventTypeSessionExpired, conf.AgentCallID, "conference descriptor outlived ttl, clearing session state")
		if err := s.EndSession(ctx, id); err != nil {
			s.log.Warn("expired session cleanup failed", "err", err, "user_id", id.UserID)
		}
		return markers.Conference{}, false, nil
	}
	return conf, true, nil
}

// ClearPrimaryMarker force-clears the primary marker for a user. Exposed
// on the command surface for operator recovery; normal flows clear the
// marker conditionally by call id.
func (s *Service) ClearPrimaryMarker(ctx context.Context, id Identity) error {
	if !id.valid() {
		return ErrInvalidArgument
	}
	cleared, err := s.markers.ClearPrimary(ctx, id.UserID, "")
	if err != nil {
		return err
	}
	if cleared {
		s.auditEvent(ctx, id, audit.EventTypeStateSelfHealed, "", "primary marker force-cleared")
	}
	return nil
}

// HangupLine hangs up whatever call currently occupies the line.
func (s *Service) HangupLine(ctx context.Context, id Identity, lineID string) error {
	if !id.valid() || lineID == "" {
		return ErrInvalidArgument
	}

	if m, ok, err := s.markers.GetSecondary(ctx, id.UserID, lineID); err != nil {
		return err
	} else if ok {
		return s.provider.HangupCall(ctx, m.CallID)
	}

	if p, ok, err := s.markers.GetPrimary(ctx, id.UserID); err != nil {
		return err
	} else if ok && p.LineID == lineID {
		return s.provider.HangupCall(ctx, p.CallID)
	}

	// Still-ringing line without a marker yet.
	attempts, err := s.calls.ListActiveByUser(ctx, id.WorkspaceID, id.UserID)
	if err != nil {
		return err
	}
	for _, a := range attempts {
		if a.LineID == lineID {
			return s.provider.HangupCall(ctx, a.ProviderCallID)
		}
	}
	return ErrUnknownCall
}

// attemptFor resolves and tenant-checks the call attempt a callback refers
// to. Callbacks whose call record belongs to a different user are treated
// as unknown; that mismatch is a security signal, not a routing nuance.
func (s *Service) attemptFor(ctx context.Context, id Identity, providerCallID string) (calls.Attempt, error) {
	if providerCallID == "" {
		return calls.Attempt{}, ErrInvalidArgument
	}
	a, err := s.calls.GetByProviderCallID(ctx, providerCallID)
	if errors.Is(err, calls.ErrNotFound) {
		return calls.Attempt{}, ErrUnknownCall
	}
	if err != nil {
		return calls.Attempt{}, err
	}
	if a.UserID != id.UserID || a.WorkspaceID != id.WorkspaceID {
		s.auditEvent(ctx, id, audit.EventTypeWebhookRejected, providerCallID, "callback call id belongs to a different tenant")
		return calls.Attempt{}, ErrUnknownCall
	}
	return a, nil
}
