package dialer

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"parallel-dialer/internal/audit"
	"parallel-dialer/internal/calls"
	"parallel-dialer/internal/events"
	"parallel-dialer/internal/markers"
	"parallel-dialer/internal/tasks"
	"parallel-dialer/internal/telephony"

	"github.com/google/uuid"
)

// Service is the parallel-dialer orchestration core. It owns the lifecycle
// of the per-user markers (primary, secondaries, conference descriptor) and
// drives the provider through the telephony adapter.
//
// Concurrency model: webhook callbacks for different lines, and different
// callback kinds for the same line, run concurrently. The only
// serialization point is the marker store's atomic primary admission; no
// handler ever waits on another handler.
type Service struct {
	markers  markers.Store
	calls    calls.Store
	provider telephony.Provider
	events   events.Publisher
	audit    *audit.Service
	tasks    *tasks.Runner
	tokens   TokenIssuer
	limiter  Limiter
	cfg      Config

	clock func() time.Time
	log   *slog.Logger
}

// TokenIssuer mints the signed tokens embedded in callback URLs so every
// provider callback can be attributed to a user before any state mutation.
type TokenIssuer interface {
	IssueWebhookToken(now time.Time, userID, workspaceID string) (string, error)
}

// Limiter caps concurrent lines per user. The Redis implementation uses an
// atomic Lua acquire with a TTL so crashed processes cannot leak slots.
type Limiter interface {
	Acquire(ctx context.Context, userID string) (bool, error)
	Release(ctx context.Context, userID string) error
}

// Config carries the dialer's tunables. Zero values get safe defaults.
type Config struct {
	// PublicBaseURL is the externally reachable base for webhook callbacks.
	PublicBaseURL string

	// CallerID is the outbound caller id (E.164).
	CallerID string

	MaxLines   int
	SessionTTL time.Duration

	AMDEnabled        bool
	AMDTimeoutSeconds int

	RingTimeoutSeconds int

	HoldMessage  string
	HoldMusicURL string
}

func (c Config) withDefaults() Config {
	out := c
	if out.MaxLines <= 0 {
		out.MaxLines = 10
	}
	if out.SessionTTL <= 0 {
		out.SessionTTL = 10 * time.Minute
	}
	if out.AMDTimeoutSeconds <= 0 {
		out.AMDTimeoutSeconds = 30
	}
	if out.RingTimeoutSeconds <= 0 {
		out.RingTimeoutSeconds = 30
	}
	if out.HoldMessage == "" {
		out.HoldMessage = "Please hold while we connect you."
	}
	return out
}

// Deps groups Service dependencies for construction.
type Deps struct {
	Markers  markers.Store
	Calls    calls.Store
	Provider telephony.Provider
	Events   events.Publisher
	Audit    *audit.Service
	Tasks    *tasks.Runner
	Tokens   TokenIssuer
	Limiter  Limiter
	Config   Config
	Logger   *slog.Logger
}

func NewService(d Deps) (*Service, error) {
	if d.Markers == nil || d.Calls == nil || d.Provider == nil || d.Events == nil {
		return nil, errors.New("dialer: markers, calls, provider and events are required")
	}
	if d.Tokens == nil {
		return nil, errors.New("dialer: token issuer is required")
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	lim := d.Limiter
	if lim == nil {
		lim = NopLimiter{}
	}
	return &Service{
		markers:  d.Markers,
		calls:    d.Calls,
		provider: d.Provider,
		events:   d.Events,
		audit:    d.Audit,
		tasks:    d.Tasks,
		tokens:   d.Tokens,
		limiter:  lim,
		cfg:      d.Config.withDefaults(),
		clock:    time.Now,
		log:      log,
	}, nil
}

// SetClock overrides the time source for deterministic tests.
func (s *Service) SetClock(clock func() time.Time) { s.clock = clock }

// Identity is the resolved tenant context every operation runs under.
type Identity struct {
	UserID      string
	WorkspaceID string
}

func (id Identity) valid() bool { return id.UserID != "" && id.WorkspaceID != "" }

var (
	ErrInvalidArgument = errors.New("dialer: invalid argument")
	ErrNoSession       = errors.New("dialer: no active dialing session")
	ErrSessionActive   = errors.New("dialer: dialing session already active")
	ErrTooManyLines    = errors.New("dialer: concurrent line limit reached")
	ErrLineBusy        = errors.New("dialer: line already has an active call")
	ErrUnknownCall     = errors.New("dialer: unknown call")
)

// Action tells the webhook layer what TwiML to answer a voice callback
// with. Keeping the decision here and the rendering at the HTTP edge
// mirrors the provider-adapter split used across the codebase.
type Action struct {
	Kind           ActionKind
	ConferenceName string
	StartOnEnter   bool
	EndOnExit      bool
	WaitSeconds    int

	// ConferenceStatusURL is set on join actions so the rendered TwiML
	// subscribes the conference to lifecycle callbacks.
	ConferenceStatusURL string
}

type ActionKind string

const (
	ActionJoinConference ActionKind = "join_conference"
	ActionHold           ActionKind = "hold"
	ActionHangup         ActionKind = "hangup"
	ActionWait           ActionKind = "wait"
	ActionNone           ActionKind = "none"
)

// Callback URLs. Each carries a signed token binding it to the user.

func (s *Service) callbackURL(path, userID, workspaceID string) string {
	tok, err := s.tokens.IssueWebhookToken(s.clock(), userID, workspaceID)
	if err != nil {
		// A call placed without a token is still attributable via the call
		// record fallback; log loudly and continue.
		s.log.Error("webhook token issuance failed", "err", err, "user_id", userID)
		return s.cfg.PublicBaseURL + path
	}
	return s.cfg.PublicBaseURL + path + "?token=" + url.QueryEscape(tok)
}

func (s *Service) answerURL(id Identity) string {
	return s.callbackURL("/webhooks/voice/answer", id.UserID, id.WorkspaceID)
}

func (s *Service) statusURL(id Identity) string {
	return s.callbackURL("/webhooks/voice/status", id.UserID, id.WorkspaceID)
}

func (s *Service) amdURL(id Identity) string {
	return s.callbackURL("/webhooks/voice/amd", id.UserID, id.WorkspaceID)
}

func (s *Service) conferenceStatusURL(id Identity) string {
	return s.callbackURL("/webhooks/conference/status", id.UserID, id.WorkspaceID)
}

func (s *Service) publish(ctx context.Context, id Identity, kind events.Kind, lineID, callID, phone, detail string) {
	e := events.Event{
		ID:          uuid.NewString(),
		WorkspaceID: id.WorkspaceID,
		UserID:      id.UserID,
		Kind:        kind,
		LineID:      lineID,
		CallID:      callID,
		Phone:       phone,
		Detail:      detail,
		OccurredAt:  s.clock().UTC(),
	}
	if err := s.events.Publish(ctx, e); err != nil {
		s.log.Warn("event publish failed", "kind", kind, "err", err)
	}
}

func (s *Service) auditEvent(ctx context.Context, id Identity, typ audit.EventType, callID, message string) {
	if s.audit == nil {
		return
	}
	err := s.audit.Append(ctx, audit.Event{
		WorkspaceID: id.WorkspaceID,
		UserID:      id.UserID,
		Type:        typ,
		CallID:      callID,
		Message:     message,
	})
	if err != nil {
		s.log.Warn("audit append failed", "type", typ, "err", err)
	}
}

// submitTask defers fn to the background runner, falling back to inline
// execution when no runner is configured (tests).
func (s *Service) submitTask(name string, fn func(ctx context.Context) error) {
	if s.tasks != nil {
		s.tasks.Submit(name, fn)
		return
	}
	if err := fn(context.Background()); err != nil {
		s.log.Error("inline task failed", "task", name, "err", err)
	}
}

// NopLimiter performs no line-cap enforcement.
type NopLimiter struct{}

func (NopLimiter) Acquire(context.Context, string) (bool, error) { return true, nil }
func (NopLimiter) Release(context.Context, string) error         { return nil }
