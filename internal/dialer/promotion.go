package dialer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"parallel-dialer/internal/amd"
	"parallel-dialer/internal/audit"
	"parallel-dialer/internal/calls"
	"parallel-dialer/internal/events"
	"parallel-dialer/internal/markers"
)

// seenTTL bounds the dedupe window for provider callback retries.
const seenTTL = 30 * time.Minute

// HandleDialStatus processes a call lifecycle status callback. Terminal
// statuses release the line, clear markers and, when the ended call was the
// primary, promote the next held line. Duplicate deliveries are no-ops.
func (s *Service) HandleDialStatus(ctx context.Context, id Identity, cb DialStatus) error {
	if !id.valid() {
		return ErrInvalidArgument
	}
	status := calls.ParseStatus(cb.Status)
	if status == "" {
		s.log.Debug("ignoring unrecognized dial status", "status", cb.Status, "call_id", cb.ProviderCallID)
		return nil
	}

	first, err := s.markers.MarkEventSeen(ctx, id.UserID,
		fmt.Sprintf("dial-status:%s:%s", cb.ProviderCallID, status), seenTTL)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	attempt, err := s.attemptFor(ctx, id, cb.ProviderCallID)
	if errors.Is(err, ErrUnknownCall) {
		// The agent leg has no attempt row; its terminal status still ends
		// the session elsewhere, nothing to do here.
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.calls.UpdateStatus(ctx, attempt.ProviderCallID, status, cb.DurationSeconds); err != nil {
		s.log.Warn("dial status persist failed", "call_id", attempt.ProviderCallID, "err", err)
	}

	if !status.IsTerminal() {
		return nil
	}

	if err := s.limiter.Release(ctx, id.UserID); err != nil {
		s.log.Warn("line cap release failed", "err", err, "user_id", id.UserID)
	}

	wasPrimary := false
	if p, ok, err := s.markers.GetPrimary(ctx, id.UserID); err != nil {
		return err
	} else if ok && p.CallID == attempt.ProviderCallID {
		cleared, err := s.markers.ClearPrimary(ctx, id.UserID, attempt.ProviderCallID)
		if err != nil {
			return err
		}
		wasPrimary = cleared
	} else {
		// A held or still-ringing line ended; drop its marker if any.
		if m, ok, err := s.markers.GetSecondary(ctx, id.UserID, attempt.LineID); err == nil && ok && m.CallID == attempt.ProviderCallID {
			if err := s.markers.DeleteSecondary(ctx, id.UserID, attempt.LineID); err != nil {
				s.log.Warn("secondary cleanup failed", "line_id", attempt.LineID, "err", err)
			}
		}
	}

	s.publish(ctx, id, events.KindCallEnded, attempt.LineID, attempt.ProviderCallID, attempt.To, string(status))

	if wasPrimary {
		if err := s.promoteNext(ctx, id); err != nil {
			s.log.Error("promotion failed", "err", err, "user_id", id.UserID)
		}
	}

	// Disposition inference runs after the webhook response is already on
	// its way back to the provider.
	callID := attempt.ProviderCallID
	s.submitTask("disposition:"+callID, func(taskCtx context.Context) error {
		a, err := s.calls.GetByProviderCallID(taskCtx, callID)
		if err != nil {
			return err
		}
		d := calls.Infer(status, amd.Classify(a.AMDResult))
		if d == calls.DispositionUnknown {
			return nil
		}
		return s.calls.SetDisposition(taskCtx, callID, d)
	})

	return nil
}

// promoteNext advances the queue after the primary ended: the lowest-
// indexed line with an on-hold marker wins. This is first line index wins,
// not FIFO by hold time; the ordering is deterministic by construction.
func (s *Service) promoteNext(ctx context.Context, id Identity) error {
	_, hasSession, err := s.activeConference(ctx, id)
	if err != nil || !hasSession {
		return err
	}

	list, err := s.markers.ListSecondaries(ctx, id.UserID)
	if err != nil {
		return err
	}

	for _, m := range list {
		if !m.OnHold {
			continue
		}
		if err := s.markers.DeleteSecondary(ctx, id.UserID, m.LineID); err != nil {
			return err
		}
		claimed, err := s.markers.ClaimPrimary(ctx, id.UserID, markers.PrimaryCall{
			LineID:    m.LineID,
			CallID:    m.CallID,
			ClaimedAt: s.clock().UTC(),
		})
		if err != nil {
			return err
		}
		if !claimed {
			// A freshly answered line won admission between the clear and
			// this claim; restore the marker and leave the queue as-is.
			if err := s.markers.PutSecondary(ctx, id.UserID, m); err != nil {
				s.log.Warn("secondary restore failed", "line_id", m.LineID, "err", err)
			}
			return nil
		}

		// Pull the held call out of its hold loop and into the conference.
		if err := s.provider.RedirectCall(ctx, m.CallID, s.answerURL(id)); err != nil {
			// The held call is gone; clear the claim and try the next line.
			s.auditEvent(ctx, id, audit.EventTypeStateSelfHealed, m.CallID,
				"promotion redirect failed, clearing stale marker")
			if _, clrErr := s.markers.ClearPrimary(ctx, id.UserID, m.CallID); clrErr != nil {
				s.log.Warn("stale primary clear failed", "err", clrErr)
			}
			continue
		}

		s.publish(ctx, id, events.KindQueuePromoted, m.LineID, m.CallID, m.Phone, "")
		return nil
	}

	// No held line: the user simply has no primary until the next human
	// answer.
	return nil
}

// HandleConferenceStatus folds conference lifecycle callbacks into the
// descriptor. Conference state is eventually consistent; the last observed
// write wins and duplicates are dropped.
func (s *Service) HandleConferenceStatus(ctx context.Context, id Identity, cb ConferenceStatus) error {
	if !id.valid() {
		return ErrInvalidArgument
	}

	first, err := s.markers.MarkEventSeen(ctx, id.UserID,
		fmt.Sprintf("conf-status:%s:%s:%s", cb.ProviderConferenceID, cb.Event, cb.ProviderCallID), seenTTL)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	conf, ok, err := s.markers.GetConference(ctx, id.UserID)
	if err != nil {
		return err
	}
	if !ok {
		// Callback for a conference we no longer track; nothing to mutate.
		return nil
	}
	if cb.ConferenceName != "" && cb.ConferenceName != conf.Name {
		return nil
	}

	if cb.ProviderConferenceID != "" {
		conf.ProviderSID = cb.ProviderConferenceID
	}

	switch cb.Event {
	case "conference-start":
		conf.Started = true
		conf.Status = "in_progress"
	case "conference-end":
		conf.Status = "completed"
	case "participant-join":
		if p, ok, err := s.markers.GetPrimary(ctx, id.UserID); err == nil && ok && p.CallID == cb.ProviderCallID {
			if err := s.markers.MarkPrimaryBridged(ctx, id.UserID, cb.ProviderCallID); err != nil {
				s.log.Warn("primary bridge mark failed", "call_id", cb.ProviderCallID, "err", err)
			}
		}
	}

	remaining := s.cfg.SessionTTL - s.clock().Sub(conf.StartedAt)
	if remaining <= 0 {
		// Descriptor is due to expire; let the lazy expiry path handle it.
		return nil
	}
	if err := s.markers.PutConference(ctx, id.UserID, conf, remaining); err != nil {
		return err
	}

	if cb.Event == "conference-end" {
		// Agent dropped or the provider tore the conference down; finish the
		// session cleanup off the webhook path.
		s.submitTask("session-end:"+id.UserID, func(taskCtx context.Context) error {
			return s.EndSession(taskCtx, id)
		})
	}
	return nil
}
