package reporting

import (
	"context"
	"testing"
	"time"

	"parallel-dialer/internal/calls"
)

func seedAttempt(t *testing.T, store *calls.MemoryStore, callID string, status calls.Status, d calls.Disposition, amdResult string, duration int, at time.Time) {
	t.Helper()
	err := store.Insert(context.Background(), calls.Attempt{
		ID:              "id-" + callID,
		WorkspaceID:     "w1",
		UserID:          "u1",
		ProviderCallID:  callID,
		LineID:          "line-0",
		To:              "+15551234567",
		Status:          status,
		Disposition:     d,
		AMDResult:       amdResult,
		DurationSeconds: duration,
		CreatedAt:       at,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", callID, err)
	}
}

func TestOutcomeSummary_ValidatesRequest(t *testing.T) {
	svc := NewService(calls.NewMemoryStore())
	now := time.Now()

	cases := []OutcomeSummaryRequest{
		{UserID: "u1", Range: TimeRange{From: now.Add(-time.Hour), To: now}},
		{WorkspaceID: "w1", Range: TimeRange{From: now.Add(-time.Hour), To: now}},
		{WorkspaceID: "w1", UserID: "u1"},
		{WorkspaceID: "w1", UserID: "u1", Range: TimeRange{From: now, To: now.Add(-time.Hour)}},
	}
	for i, req := range cases {
		if _, err := svc.OutcomeSummary(context.Background(), req); err != ErrInvalidRequest {
			t.Fatalf("case %d: expected ErrInvalidRequest, got %v", i, err)
		}
	}
}

func TestOutcomeSummary_Aggregates(t *testing.T) {
	store := calls.NewMemoryStore()
	svc := NewService(store)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedAttempt(t, store, "CA1", calls.StatusCompleted, calls.DispositionAnswered, "human", 120, base)
	seedAttempt(t, store, "CA2", calls.StatusCompleted, calls.DispositionVoicemail, "machine_end_beep", 20, base.Add(time.Minute))
	seedAttempt(t, store, "CA3", calls.StatusNoAnswer, calls.DispositionNoAnswer, "", 0, base.Add(2*time.Minute))
	seedAttempt(t, store, "CA4", calls.StatusBusy, calls.DispositionBusy, "", 0, base.Add(3*time.Minute))
	seedAttempt(t, store, "CA5", calls.StatusInProgress, "", "human", 0, base.Add(4*time.Minute))
	// Outside the range; must not be counted.
	seedAttempt(t, store, "CA6", calls.StatusCompleted, calls.DispositionAnswered, "human", 60, base.Add(-2*time.Hour))

	got, err := svc.OutcomeSummary(context.Background(), OutcomeSummaryRequest{
		WorkspaceID: "w1",
		UserID:      "u1",
		Range:       TimeRange{From: base.Add(-time.Minute), To: base.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}

	if got.TotalCalls != 5 {
		t.Fatalf("expected 5 calls in range, got %d", got.TotalCalls)
	}
	if got.Answered != 1 || got.Voicemail != 1 || got.NoAnswer != 1 || got.Busy != 1 {
		t.Fatalf("disposition counts wrong: %+v", got)
	}
	if got.MachineDetected != 1 {
		t.Fatalf("expected 1 machine detection, got %d", got.MachineDetected)
	}
	if got.InFlightAtQueryNonTerm != 1 {
		t.Fatalf("expected 1 in-flight call, got %d", got.InFlightAtQueryNonTerm)
	}
	if got.TotalTalkSeconds != 140 {
		t.Fatalf("expected 140 talk seconds, got %d", got.TotalTalkSeconds)
	}
	if got.ConnectRatePercent != 20 {
		t.Fatalf("expected 20%% connect rate, got %d", got.ConnectRatePercent)
	}
}

func TestOutcomeSummary_EmptyRange(t *testing.T) {
	svc := NewService(calls.NewMemoryStore())
	now := time.Now().UTC()

	got, err := svc.OutcomeSummary(context.Background(), OutcomeSummaryRequest{
		WorkspaceID: "w1",
		UserID:      "u1",
		Range:       TimeRange{From: now.Add(-time.Hour), To: now},
	})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if got.TotalCalls != 0 || got.AverageTalkSeconds != 0 {
		t.Fatalf("expected zero summary, got %+v", got)
	}
}
