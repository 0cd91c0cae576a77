package httpapi

import (
	"errors"
	"net/http"
	"time"

	"parallel-dialer/internal/auth"
	"parallel-dialer/internal/dialer"
	"parallel-dialer/internal/rbac"
	"parallel-dialer/internal/reporting"
	"parallel-dialer/internal/telephony"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth      *auth.Manager
	Dialer    *dialer.Service
	Reporting *reporting.Service
}

// --- Auth ---

type loginRequest struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	Role        string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.WorkspaceID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, workspace_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.WorkspaceID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Dialer session ---

type startSessionRequest struct {
	AgentNumber string `json:"agent_number"`
}

// StartSession opens a dialing session and rings the agent's own leg.
func (h Handlers) StartSession(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.AgentNumber == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_number required"})
		return
	}

	conf, err := h.Dialer.StartSession(c.Request.Context(), id, req.AgentNumber)
	switch {
	case errors.Is(err, dialer.ErrSessionActive):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "session already active"})
		return
	case errors.Is(err, dialer.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid session request"})
		return
	case err != nil:
		h.placementError(c, err, "session start failed")
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"conference_name": conf.Name,
		"agent_call_id":   conf.AgentCallID,
		"started_at":      conf.StartedAt,
	})
}

// EndSession tears the session down. Idempotent.
func (h Handlers) EndSession(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	if err := h.Dialer.EndSession(c.Request.Context(), id); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session end failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Calls ---

// InitiateCall places one outbound call on a line. Placement failures map
// to distinct status codes so the UI can message each cause.
func (h Handlers) InitiateCall(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	var req dialer.InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	attempt, err := h.Dialer.InitiateCall(c.Request.Context(), id, req)
	switch {
	case errors.Is(err, dialer.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to and a line id within the line cap are required"})
		return
	case errors.Is(err, dialer.ErrNoSession):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "no active dialing session"})
		return
	case errors.Is(err, dialer.ErrLineBusy):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "line already has an active call"})
		return
	case errors.Is(err, dialer.ErrTooManyLines):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "concurrent line limit reached"})
		return
	case err != nil:
		h.placementError(c, err, "call initiation failed")
		return
	}
	c.JSON(http.StatusCreated, attempt)
}

// HangupLine hangs up whatever call occupies the line.
func (h Handlers) HangupLine(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	lineID := c.Param("line_id")

	err := h.Dialer.HangupLine(c.Request.Context(), id, lineID)
	switch {
	case errors.Is(err, dialer.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "line_id required"})
		return
	case errors.Is(err, dialer.ErrUnknownCall):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no call on that line"})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "hangup failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ClearPrimary force-clears the primary marker. Recovery endpoint; normal
// flows clear it conditionally on call end.
func (h Handlers) ClearPrimary(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	if err := h.Dialer.ClearPrimaryMarker(c.Request.Context(), id); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "clear failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Reporting ---

// OutcomeSummary aggregates call outcomes for the authenticated user.
func (h Handlers) OutcomeSummary(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}

	from, err := parseTimeParam(c, "from")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
		return
	}
	to, err := parseTimeParam(c, "to")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
		return
	}

	sum, err := h.Reporting.OutcomeSummary(c.Request.Context(), reporting.OutcomeSummaryRequest{
		WorkspaceID: id.WorkspaceID,
		UserID:      id.UserID,
		Range:       reporting.TimeRange{From: from, To: to},
	})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to must form a valid range"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

/* ===================== HELPERS ===================== */

func (h Handlers) identity(c *gin.Context) (dialer.Identity, bool) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return dialer.Identity{}, false
	}
	workspaceID, err := auth.WorkspaceID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
		return dialer.Identity{}, false
	}
	return dialer.Identity{UserID: userID, WorkspaceID: workspaceID}, true
}

// placementError maps telephony sentinels from call placement to distinct
// client-facing status codes.
func (h Handlers) placementError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, telephony.ErrInvalidDestination), errors.Is(err, telephony.ErrMalformedNumber):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "destination number rejected"})
	case errors.Is(err, telephony.ErrUnverifiedDestination):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "destination number not verified for this account"})
	case errors.Is(err, telephony.ErrRateLimited):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "provider rate limit exceeded"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func parseTimeParam(c *gin.Context, key string) (time.Time, error) {
	return time.Parse(time.RFC3339, c.Query(key))
}

// Convenience middleware bundles.

func RequireWorkspaceAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireWorkspace(), rbac.RequireAnyRole(roles...)}
}
