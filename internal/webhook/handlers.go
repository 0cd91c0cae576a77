package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"parallel-dialer/internal/auth"
	"parallel-dialer/internal/calls"
	"parallel-dialer/internal/dialer"
	"parallel-dialer/internal/telephony"

	"github.com/gin-gonic/gin"
)

// Orchestrator is the dialer surface the webhook layer drives. Satisfied
// by *dialer.Service.
type Orchestrator interface {
	HandleVoiceConnect(ctx context.Context, id dialer.Identity, cb dialer.VoiceConnect) (dialer.Action, error)
	HandleAMDResult(ctx context.Context, id dialer.Identity, cb dialer.AMDResult) error
	HandleDialStatus(ctx context.Context, id dialer.Identity, cb dialer.DialStatus) error
	HandleConferenceStatus(ctx context.Context, id dialer.Identity, cb dialer.ConferenceStatus) error
}

// Auditor records rejected callbacks. Satisfied by *audit.Service.
type Auditor interface {
	LogWebhookRejected(ctx context.Context, workspaceID, userID, ip, callID, message string) error
}

// Config carries what the handlers need to render TwiML.
type Config struct {
	// PublicBaseURL rebuilds absolute refresh URLs; provider-side redirects
	// must not depend on proxy-rewritten Host headers.
	PublicBaseURL string

	HoldMessage  string
	HoldMusicURL string
}

// Handler terminates provider callbacks. Every request is attributed to a
// user before any orchestration runs: first via the signed token in the
// URL, then by looking the call record up by provider call id. Requests
// that fail both are rejected and audited.
type Handler struct {
	dialer Orchestrator
	tokens *auth.Manager
	calls  calls.Store
	audit  Auditor
	cfg    Config

	clock func() time.Time
	log   *slog.Logger
}

func NewHandler(d Orchestrator, tokens *auth.Manager, callStore calls.Store, auditor Auditor, cfg Config, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		dialer: d,
		tokens: tokens,
		calls:  callStore,
		audit:  auditor,
		cfg:    cfg,
		clock:  time.Now,
		log:    log,
	}
}

// SetClock overrides the time source for deterministic tests.
func (h *Handler) SetClock(clock func() time.Time) { h.clock = clock }

// Register mounts the callback routes. They are unauthenticated at the
// router level; attribution happens per request inside the handlers.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/webhooks/voice/answer", h.VoiceAnswer)
	r.POST("/webhooks/voice/amd", h.AMDStatus)
	r.POST("/webhooks/voice/status", h.DialStatus)
	r.POST("/webhooks/conference/status", h.ConferenceStatus)
}

// VoiceAnswer serves the voice URL: first connects, hold refreshes and
// post-promotion redirects all land here. The response TwiML is derived
// from current marker state.
func (h *Handler) VoiceAnswer(c *gin.Context) {
	callSID := c.PostForm("CallSid")
	id, ok := h.attribute(c, callSID)
	if !ok {
		h.rejectTwiML(c)
		return
	}

	action, err := h.dialer.HandleVoiceConnect(c.Request.Context(), id, dialer.VoiceConnect{
		ProviderCallID: callSID,
		From:           c.PostForm("From"),
		To:             c.PostForm("To"),
		AnsweredBy:     c.PostForm("AnsweredBy"),
	})
	if errors.Is(err, dialer.ErrUnknownCall) {
		h.rejectTwiML(c)
		return
	}
	if err != nil {
		// Answer with safe TwiML rather than a 5xx; the provider retries
		// errors and a retry against half-mutated state is worse than
		// dropping this leg.
		h.log.Error("voice answer failed", "call_sid", callSID, "err", err)
		h.writeTwiML(c, http.StatusOK, safeHangup())
		return
	}

	h.writeTwiML(c, http.StatusOK, h.renderAction(c, action))
}

// AMDStatus receives asynchronous answering-machine detection results.
func (h *Handler) AMDStatus(c *gin.Context) {
	callSID := c.PostForm("CallSid")
	id, ok := h.attribute(c, callSID)
	if !ok {
		c.Status(http.StatusForbidden)
		return
	}

	err := h.dialer.HandleAMDResult(c.Request.Context(), id, dialer.AMDResult{
		ProviderCallID:    callSID,
		AnsweredBy:        c.PostForm("AnsweredBy"),
		DetectionDuration: formInt(c, "MachineDetectionDuration"),
	})
	if errors.Is(err, dialer.ErrUnknownCall) {
		c.Status(http.StatusForbidden)
		return
	}
	if err != nil {
		h.log.Error("amd callback failed", "call_sid", callSID, "err", err)
	}
	c.Status(http.StatusOK)
}

// DialStatus receives call lifecycle status callbacks.
func (h *Handler) DialStatus(c *gin.Context) {
	callSID := c.PostForm("CallSid")
	id, ok := h.attribute(c, callSID)
	if !ok {
		c.Status(http.StatusForbidden)
		return
	}

	err := h.dialer.HandleDialStatus(c.Request.Context(), id, dialer.DialStatus{
		ProviderCallID:  callSID,
		Status:          c.PostForm("CallStatus"),
		DurationSeconds: formInt(c, "CallDuration"),
	})
	if errors.Is(err, dialer.ErrUnknownCall) {
		c.Status(http.StatusForbidden)
		return
	}
	if err != nil {
		h.log.Error("dial status callback failed", "call_sid", callSID, "err", err)
	}
	c.Status(http.StatusOK)
}

// ConferenceStatus receives conference lifecycle callbacks. There is no
// call record to fall back on, so the token is the only attribution path.
func (h *Handler) ConferenceStatus(c *gin.Context) {
	id, ok := h.attributeByToken(c)
	if !ok {
		h.reject(c, c.PostForm("ConferenceSid"), "conference callback without valid token")
		c.Status(http.StatusForbidden)
		return
	}

	err := h.dialer.HandleConferenceStatus(c.Request.Context(), id, dialer.ConferenceStatus{
		ProviderConferenceID: c.PostForm("ConferenceSid"),
		ConferenceName:       c.PostForm("FriendlyName"),
		Event:                c.PostForm("StatusCallbackEvent"),
		ParticipantLabel:     c.PostForm("ParticipantLabel"),
		ProviderCallID:       c.PostForm("CallSid"),
	})
	if err != nil {
		h.log.Error("conference status callback failed", "err", err)
	}
	c.Status(http.StatusOK)
}

/* ===================== ATTRIBUTION ===================== */

func (h *Handler) attribute(c *gin.Context, callSID string) (dialer.Identity, bool) {
	if id, ok := h.attributeByToken(c); ok {
		return id, true
	}

	// Token missing or stale; the call record still binds the provider
	// call id to exactly one user.
	if callSID != "" {
		a, err := h.calls.GetByProviderCallID(c.Request.Context(), callSID)
		if err == nil {
			return dialer.Identity{UserID: a.UserID, WorkspaceID: a.WorkspaceID}, true
		}
		if !errors.Is(err, calls.ErrNotFound) {
			h.log.Error("call lookup failed during attribution", "call_sid", callSID, "err", err)
		}
	}

	h.reject(c, callSID, "callback could not be attributed to a user")
	return dialer.Identity{}, false
}

func (h *Handler) attributeByToken(c *gin.Context) (dialer.Identity, bool) {
	tok := strings.TrimSpace(c.Query("token"))
	if tok == "" {
		return dialer.Identity{}, false
	}
	claims, err := h.tokens.Verify(tok, auth.TokenTypeWebhook, h.clock())
	if err != nil {
		return dialer.Identity{}, false
	}
	return dialer.Identity{UserID: claims.UserID, WorkspaceID: claims.WorkspaceID}, true
}

func (h *Handler) reject(c *gin.Context, callSID, message string) {
	if h.audit == nil {
		return
	}
	// Workspace is unknown for unattributable requests; file under the
	// reserved system workspace so the record is still queryable.
	if err := h.audit.LogWebhookRejected(c.Request.Context(), "system", "", c.ClientIP(), callSID, message); err != nil {
		h.log.Warn("webhook rejection audit failed", "err", err)
	}
}

/* ===================== TWIML RENDERING ===================== */

func (h *Handler) renderAction(c *gin.Context, a dialer.Action) string {
	switch a.Kind {
	case dialer.ActionJoinConference:
		xml, err := telephony.JoinConferenceTwiML(a.ConferenceName, telephony.ConferenceJoinOptions{
			StartOnEnter:      a.StartOnEnter,
			EndOnExit:         a.EndOnExit,
			StatusCallbackURL: a.ConferenceStatusURL,
		})
		if err != nil {
			h.log.Error("join twiml render failed", "err", err)
			return safeHangup()
		}
		return xml
	case dialer.ActionHold:
		xml, err := telephony.HoldTwiML(h.cfg.HoldMessage, h.cfg.HoldMusicURL, h.selfURL(c))
		if err != nil {
			h.log.Error("hold twiml render failed", "err", err)
			return safeHangup()
		}
		return xml
	case dialer.ActionWait:
		xml, err := telephony.WaitTwiML(a.WaitSeconds, h.selfURL(c))
		if err != nil {
			h.log.Error("wait twiml render failed", "err", err)
			return safeHangup()
		}
		return xml
	default:
		return safeHangup()
	}
}

// selfURL rebuilds the absolute URL of the current request, token included,
// so hold and wait loops redirect back through the same attributed entry
// point.
func (h *Handler) selfURL(c *gin.Context) string {
	return h.cfg.PublicBaseURL + c.Request.URL.RequestURI()
}

func (h *Handler) rejectTwiML(c *gin.Context) {
	h.writeTwiML(c, http.StatusForbidden, safeHangup())
}

func (h *Handler) writeTwiML(c *gin.Context, status int, body string) {
	c.Data(status, "text/xml; charset=utf-8", []byte(body))
}

func safeHangup() string {
	xml, err := telephony.HangupTwiML()
	if err != nil {
		return `<?xml version="1.0" encoding="UTF-8"?><Response><Hangup/></Response>`
	}
	return xml
}

func formInt(c *gin.Context, key string) int {
	v := strings.TrimSpace(c.PostForm(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
