package audit

import (
	"context"
	"testing"
)

func TestService_AppendRequiresWorkspaceAndType(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{Type: EventTypeAdminAction}); err == nil {
		t.Fatalf("expected error without workspace")
	}
	if err := svc.Append(context.Background(), Event{WorkspaceID: "w"}); err == nil {
		t.Fatalf("expected error without type")
	}
}

func TestService_FillsIDAndTimestamp(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{
		WorkspaceID: "w",
		Type:        EventTypeStateSelfHealed,
		UserID:      "u",
		Message:     "primary marker force-cleared",
	}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("id and timestamp should be assigned")
	}
}

func TestService_LogWebhookRejectedCapturesIP(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogWebhookRejected(context.Background(), "w", "u", "1.2.3.4", "CA1", "token missing"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].IPAddress != "1.2.3.4" {
		t.Fatalf("expected ip captured")
	}
	if evs[0].Type != EventTypeWebhookRejected {
		t.Fatalf("expected webhook_rejected, got %q", evs[0].Type)
	}
	if evs[0].CallID != "CA1" {
		t.Fatalf("expected call id captured")
	}
}
