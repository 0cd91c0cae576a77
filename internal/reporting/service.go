package reporting

import (
	"context"
	"errors"

	"parallel-dialer/internal/amd"
	"parallel-dialer/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Service aggregates call outcomes. It reads only the immutable attempt
// records; no dialer state is consulted.
type Service struct {
	store calls.Store
}

func NewService(store calls.Store) *Service { return &Service{store: store} }

func (s *Service) OutcomeSummary(ctx context.Context, req OutcomeSummaryRequest) (OutcomeSummary, error) {
	if req.WorkspaceID == "" || req.UserID == "" {
		return OutcomeSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return OutcomeSummary{}, ErrInvalidRequest
	}
	if s.store == nil {
		return OutcomeSummary{}, errors.New("reporting: store not configured")
	}

	rows, err := s.store.ListByUserRange(ctx, req.WorkspaceID, req.UserID, req.Range.From, req.Range.To)
	if err != nil {
		return OutcomeSummary{}, err
	}

	out := OutcomeSummary{WorkspaceID: req.WorkspaceID, UserID: req.UserID}
	for _, a := range rows {
		out.TotalCalls++
		out.TotalTalkSeconds += a.DurationSeconds
		if amd.Classify(a.AMDResult).IsNonHuman() {
			out.MachineDetected++
		}
		if !a.Status.IsTerminal() {
			out.InFlightAtQueryNonTerm++
			continue
		}
		switch a.Disposition {
		case calls.DispositionAnswered:
			out.Answered++
		case calls.DispositionVoicemail:
			out.Voicemail++
		case calls.DispositionDisconnected:
			out.Disconnected++
		case calls.DispositionBusy:
			out.Busy++
		case calls.DispositionNoAnswer:
			out.NoAnswer++
		case calls.DispositionFailed:
			out.Failed++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageTalkSeconds = out.TotalTalkSeconds / out.TotalCalls
		connected := out.Answered + out.Disconnected
		out.ConnectRatePercent = connected * 100 / out.TotalCalls
	}
	return out, nil
}
