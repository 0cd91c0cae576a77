package webhook

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"parallel-dialer/internal/audit"
	"parallel-dialer/internal/auth"
	"parallel-dialer/internal/calls"
	"parallel-dialer/internal/config"
	"parallel-dialer/internal/dialer"
	"parallel-dialer/internal/events"
	"parallel-dialer/internal/markers"
	"parallel-dialer/internal/telephony"

	"github.com/gin-gonic/gin"
)

type fakeProvider struct {
	mu      sync.Mutex
	nextSID int
	hangups []string
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) PlaceCall(context.Context, telephony.PlaceCallRequest) (telephony.PlaceCallResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextSID++
	return telephony.PlaceCallResult{ProviderCallID: fmt.Sprintf("CA%04d", p.nextSID)}, nil
}

func (p *fakeProvider) HangupCall(_ context.Context, callID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hangups = append(p.hangups, callID)
	return nil
}

func (p *fakeProvider) RedirectCall(context.Context, string, string) error { return nil }
func (p *fakeProvider) EndConference(context.Context, string) error        { return nil }

type fixture struct {
	router   *gin.Engine
	manager  *auth.Manager
	svc      *dialer.Service
	calls    *calls.MemoryStore
	markers  *markers.MemoryStore
	auditLog *audit.MemoryRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	manager, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "test-secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
		WebhookTokenTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	markerStore := markers.NewMemoryStore()
	callStore := calls.NewMemoryStore()
	auditRepo := audit.NewMemoryRepo()
	auditSvc := audit.NewService(auditRepo)

	svc, err := dialer.NewService(dialer.Deps{
		Markers:  markerStore,
		Calls:    callStore,
		Provider: &fakeProvider{},
		Events:   events.NewRecorder(),
		Audit:    auditSvc,
		Tokens:   manager,
		Config: dialer.Config{
			PublicBaseURL: "https://dialer.example.com",
			CallerID:      "+15550000001",
		},
	})
	if err != nil {
		t.Fatalf("dialer: %v", err)
	}

	h := NewHandler(svc, manager, callStore, auditSvc, Config{
		PublicBaseURL: "https://dialer.example.com",
		HoldMessage:   "Please hold.",
	}, nil)

	r := gin.New()
	h.Register(r)

	return &fixture{
		router:   r,
		manager:  manager,
		svc:      svc,
		calls:    callStore,
		markers:  markerStore,
		auditLog: auditRepo,
	}
}

var fixtureID = dialer.Identity{UserID: "u1", WorkspaceID: "w1"}

func (f *fixture) webhookToken(t *testing.T) string {
	t.Helper()
	tok, err := f.manager.IssueWebhookToken(time.Now(), fixtureID.UserID, fixtureID.WorkspaceID)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok
}

func (f *fixture) startAndDial(t *testing.T) calls.Attempt {
	t.Helper()
	if _, err := f.svc.StartSession(context.Background(), fixtureID, "+15557770001"); err != nil {
		t.Fatalf("session: %v", err)
	}
	a, err := f.svc.InitiateCall(context.Background(), fixtureID, dialer.InitiateRequest{
		To: "+15551234567", LineID: "line-0",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	return a
}

func (f *fixture) post(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestVoiceAnswer_HumanJoinsConference(t *testing.T) {
	f := newFixture(t)
	a := f.startAndDial(t)

	w := f.post(t, "/webhooks/voice/answer?token="+url.QueryEscape(f.webhookToken(t)), url.Values{
		"CallSid":    {a.ProviderCallID},
		"AnsweredBy": {"human"},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, "<Conference") {
		t.Fatalf("expected conference join twiml, got: %s", body)
	}
	if !strings.Contains(body, "statusCallback=") {
		t.Fatalf("conference should subscribe to status callbacks: %s", body)
	}
}

func TestVoiceAnswer_SecondHumanHolds(t *testing.T) {
	f := newFixture(t)
	a1 := f.startAndDial(t)
	a2, err := f.svc.InitiateCall(context.Background(), fixtureID, dialer.InitiateRequest{
		To: "+15551234568", LineID: "line-1",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	tok := url.QueryEscape(f.webhookToken(t))
	f.post(t, "/webhooks/voice/answer?token="+tok, url.Values{
		"CallSid": {a1.ProviderCallID}, "AnsweredBy": {"human"},
	})
	w := f.post(t, "/webhooks/voice/answer?token="+tok, url.Values{
		"CallSid": {a2.ProviderCallID}, "AnsweredBy": {"human"},
	})

	body := w.Body.String()
	if !strings.Contains(body, "<Say>Please hold.</Say>") {
		t.Fatalf("expected hold announcement, got: %s", body)
	}
	// The hold loop must redirect back through the same attributed URL.
	if !strings.Contains(body, "token=") {
		t.Fatalf("hold refresh should carry the token, got: %s", body)
	}
}

func TestVoiceAnswer_FallbackAttributionByCallRecord(t *testing.T) {
	f := newFixture(t)
	a := f.startAndDial(t)

	w := f.post(t, "/webhooks/voice/answer", url.Values{
		"CallSid":    {a.ProviderCallID},
		"AnsweredBy": {"human"},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("call-record fallback should attribute, got %d", w.Code)
	}
}

func TestVoiceAnswer_UnattributableIsRejectedAndAudited(t *testing.T) {
	f := newFixture(t)

	w := f.post(t, "/webhooks/voice/answer", url.Values{
		"CallSid":    {"CA-unknown"},
		"AnsweredBy": {"human"},
	})

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<Hangup") {
		t.Fatalf("rejection must still answer with safe twiml: %s", w.Body.String())
	}
	if n := f.auditLog.CountType(audit.EventTypeWebhookRejected); n != 1 {
		t.Fatalf("expected one rejection audit record, got %d", n)
	}
}

func TestVoiceAnswer_ExpiredTokenFallsBackToCallRecord(t *testing.T) {
	f := newFixture(t)
	a := f.startAndDial(t)

	stale, err := f.manager.IssueWebhookToken(time.Now().Add(-3*time.Hour), fixtureID.UserID, fixtureID.WorkspaceID)
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	w := f.post(t, "/webhooks/voice/answer?token="+url.QueryEscape(stale), url.Values{
		"CallSid":    {a.ProviderCallID},
		"AnsweredBy": {"human"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("stale token with known call should fall back, got %d", w.Code)
	}
}

func TestDialStatus_PersistsTerminalStatus(t *testing.T) {
	f := newFixture(t)
	a := f.startAndDial(t)

	w := f.post(t, "/webhooks/voice/status?token="+url.QueryEscape(f.webhookToken(t)), url.Values{
		"CallSid":      {a.ProviderCallID},
		"CallStatus":   {"completed"},
		"CallDuration": {"17"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	stored, err := f.calls.GetByProviderCallID(context.Background(), a.ProviderCallID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if stored.Status != calls.StatusCompleted || stored.DurationSeconds != 17 {
		t.Fatalf("status not persisted: %+v", stored)
	}
}

func TestAMDStatus_MachinePickupIsDiscarded(t *testing.T) {
	f := newFixture(t)
	a := f.startAndDial(t)

	w := f.post(t, "/webhooks/voice/amd?token="+url.QueryEscape(f.webhookToken(t)), url.Values{
		"CallSid":    {a.ProviderCallID},
		"AnsweredBy": {"machine_end_beep"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	stored, _ := f.calls.GetByProviderCallID(context.Background(), a.ProviderCallID)
	if stored.AMDResult != "machine_end_beep" {
		t.Fatalf("amd result not persisted: %q", stored.AMDResult)
	}
}

func TestConferenceStatus_RequiresToken(t *testing.T) {
	f := newFixture(t)
	f.startAndDial(t)

	w := f.post(t, "/webhooks/conference/status", url.Values{
		"ConferenceSid":       {"CF1"},
		"StatusCallbackEvent": {"conference-start"},
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("conference callback without token must be rejected, got %d", w.Code)
	}
	if n := f.auditLog.CountType(audit.EventTypeWebhookRejected); n != 1 {
		t.Fatalf("expected rejection audit record, got %d", n)
	}
}

func TestConferenceStatus_UpdatesDescriptor(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.StartSession(context.Background(), fixtureID, "+15557770001"); err != nil {
		t.Fatalf("session: %v", err)
	}
	conf, ok, _ := f.markers.GetConference(context.Background(), fixtureID.UserID)
	if !ok {
		t.Fatalf("no conference descriptor")
	}

	w := f.post(t, "/webhooks/conference/status?token="+url.QueryEscape(f.webhookToken(t)), url.Values{
		"ConferenceSid":       {"CF42"},
		"FriendlyName":        {conf.Name},
		"StatusCallbackEvent": {"conference-start"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	got, ok, _ := f.markers.GetConference(context.Background(), fixtureID.UserID)
	if !ok || got.ProviderSID != "CF42" {
		t.Fatalf("descriptor not updated: %+v", got)
	}
}
