package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"parallel-dialer/internal/auth"
	"parallel-dialer/internal/calls"
	"parallel-dialer/internal/dialer"
	"parallel-dialer/internal/events"
	"parallel-dialer/internal/markers"
	"parallel-dialer/internal/reporting"
	"parallel-dialer/internal/telephony"

	"github.com/gin-gonic/gin"
)

type scriptedProvider struct {
	mu       sync.Mutex
	nextSID  int
	placeErr error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) PlaceCall(context.Context, telephony.PlaceCallRequest) (telephony.PlaceCallResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.placeErr != nil {
		return telephony.PlaceCallResult{}, p.placeErr
	}
	p.nextSID++
	return telephony.PlaceCallResult{ProviderCallID: fmt.Sprintf("CA%04d", p.nextSID)}, nil
}

func (p *scriptedProvider) HangupCall(context.Context, string) error           { return nil }
func (p *scriptedProvider) RedirectCall(context.Context, string, string) error { return nil }
func (p *scriptedProvider) EndConference(context.Context, string) error        { return nil }

type stubIssuer struct{}

func (stubIssuer) IssueWebhookToken(time.Time, string, string) (string, error) { return "tok", nil }

type capLimiter struct {
	mu   sync.Mutex
	used int
	cap  int
}

func (l *capLimiter) Acquire(context.Context, string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.used >= l.cap {
		return false, nil
	}
	l.used++
	return true, nil
}

func (l *capLimiter) Release(context.Context, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.used > 0 {
		l.used--
	}
	return nil
}

func testRouter(t *testing.T, provider *scriptedProvider, limiter dialer.Limiter) (*gin.Engine, *dialer.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc, err := dialer.NewService(dialer.Deps{
		Markers:  markers.NewMemoryStore(),
		Calls:    calls.NewMemoryStore(),
		Provider: provider,
		Events:   events.NewRecorder(),
		Tokens:   stubIssuer{},
		Limiter:  limiter,
		Config: dialer.Config{
			PublicBaseURL: "https://api.example.com",
			CallerID:      "+15550000001",
		},
	})
	if err != nil {
		t.Fatalf("dialer: %v", err)
	}

	h := Handlers{Dialer: svc, Reporting: reporting.NewService(calls.NewMemoryStore())}

	r := gin.New()
	// Inject a fixed identity in place of the JWT middleware.
	r.Use(func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "u1", "w1", "agent")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	r.POST("/dialer/session", h.StartSession)
	r.DELETE("/dialer/session", h.EndSession)
	r.POST("/dialer/calls", h.InitiateCall)
	r.DELETE("/dialer/lines/:line_id", h.HangupLine)
	r.DELETE("/dialer/primary", h.ClearPrimary)
	r.GET("/reports/outcomes", h.OutcomeSummary)
	return r, svc
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestInitiateCall_WithoutSessionConflicts(t *testing.T) {
	r, _ := testRouter(t, &scriptedProvider{}, nil)

	w := doJSON(t, r, http.MethodPost, "/dialer/calls", `{"to":"+15551234567","line_id":"line-0"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	r, _ := testRouter(t, &scriptedProvider{}, nil)

	w := doJSON(t, r, http.MethodPost, "/dialer/session", `{"agent_number":"+15557770001"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "conference_name") {
		t.Fatalf("expected conference payload: %s", w.Body.String())
	}

	// Second start conflicts.
	w = doJSON(t, r, http.MethodPost, "/dialer/session", `{"agent_number":"+15557770001"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("restart: expected 409, got %d", w.Code)
	}

	// End twice; both succeed.
	for i := 0; i < 2; i++ {
		w = doJSON(t, r, http.MethodDelete, "/dialer/session", "")
		if w.Code != http.StatusNoContent {
			t.Fatalf("end %d: expected 204, got %d", i, w.Code)
		}
	}
}

func TestInitiateCall_LineCapReturns429(t *testing.T) {
	r, _ := testRouter(t, &scriptedProvider{}, &capLimiter{cap: 1})

	if w := doJSON(t, r, http.MethodPost, "/dialer/session", `{"agent_number":"+15557770001"}`); w.Code != http.StatusCreated {
		t.Fatalf("session: %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/dialer/calls", `{"to":"+15551234567","line_id":"line-0"}`); w.Code != http.StatusCreated {
		t.Fatalf("first call: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	w := doJSON(t, r, http.MethodPost, "/dialer/calls", `{"to":"+15551234568","line_id":"line-1"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
}

func TestInitiateCall_BusyLineReturns409(t *testing.T) {
	r, _ := testRouter(t, &scriptedProvider{}, nil)

	if w := doJSON(t, r, http.MethodPost, "/dialer/session", `{"agent_number":"+15557770001"}`); w.Code != http.StatusCreated {
		t.Fatalf("session: %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/dialer/calls", `{"to":"+15551234567","line_id":"line-0"}`); w.Code != http.StatusCreated {
		t.Fatalf("first call: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	w := doJSON(t, r, http.MethodPost, "/dialer/calls", `{"to":"+15551234568","line_id":"line-0"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for occupied line, got %d", w.Code)
	}
}

func TestInitiateCall_ProviderRejectionMapsToStatus(t *testing.T) {
	p := &scriptedProvider{}
	r, _ := testRouter(t, p, nil)

	if w := doJSON(t, r, http.MethodPost, "/dialer/session", `{"agent_number":"+15557770001"}`); w.Code != http.StatusCreated {
		t.Fatalf("session: %d", w.Code)
	}

	cases := []struct {
		err  error
		want int
	}{
		{telephony.ErrInvalidDestination, http.StatusBadRequest},
		{telephony.ErrMalformedNumber, http.StatusBadRequest},
		{telephony.ErrUnverifiedDestination, http.StatusForbidden},
		{telephony.ErrRateLimited, http.StatusTooManyRequests},
	}
	for _, tc := range cases {
		p.mu.Lock()
		p.placeErr = tc.err
		p.mu.Unlock()
		w := doJSON(t, r, http.MethodPost, "/dialer/calls", `{"to":"+15551234567","line_id":"line-0"}`)
		if w.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, w.Code)
		}
	}
}

func TestHangupLine_UnknownLineIs404(t *testing.T) {
	r, _ := testRouter(t, &scriptedProvider{}, nil)

	if w := doJSON(t, r, http.MethodPost, "/dialer/session", `{"agent_number":"+15557770001"}`); w.Code != http.StatusCreated {
		t.Fatalf("session: %d", w.Code)
	}
	w := doJSON(t, r, http.MethodDelete, "/dialer/lines/line-5", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestClearPrimary_Succeeds(t *testing.T) {
	r, _ := testRouter(t, &scriptedProvider{}, nil)
	w := doJSON(t, r, http.MethodDelete, "/dialer/primary", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
}

func TestOutcomeSummary_RequiresValidRange(t *testing.T) {
	r, _ := testRouter(t, &scriptedProvider{}, nil)

	w := doJSON(t, r, http.MethodGet, "/reports/outcomes?from=bogus&to=2026-03-01T00:00:00Z", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet,
		"/reports/outcomes?from=2026-03-01T00:00:00Z&to=2026-03-02T00:00:00Z", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}
