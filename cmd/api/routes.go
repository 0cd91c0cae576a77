package main

import (
	"database/sql"
	"time"

	"parallel-dialer/internal/auth"
	"parallel-dialer/internal/dialer"
	"parallel-dialer/internal/httpapi"
	"parallel-dialer/internal/rbac"
	"parallel-dialer/internal/reporting"
	"parallel-dialer/internal/webhook"
	"parallel-dialer/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type routeDeps struct {
	Auth      *auth.Manager
	Dialer    *dialer.Service
	Reporting *reporting.Service
	Webhooks  *webhook.Handler
	DB        *sql.DB
	Redis     *redis.Client
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), deps.DB, 2*time.Second); err != nil {
			c.JSON(503, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if err := deps.Redis.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(503, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public). Attribution happens inside the handler:
	// a signed token in the callback URL, or a CallSid lookup as fallback.
	deps.Webhooks.Register(r)

	h := httpapi.Handlers{
		Auth:      deps.Auth,
		Dialer:    deps.Dialer,
		Reporting: deps.Reporting,
	}

	v1 := r.Group("/api/v1")

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	v1.POST("/auth/login", h.Login)

	protected := v1.Group("")
	protected.Use(auth.RequireAccessToken(deps.Auth))

	// DIALER routes
	dialerGroup := protected.Group("/dialer")
	dialerGroup.Use(httpapi.RequireWorkspaceAndAnyRole(rbac.RoleOwner, rbac.RoleAgent, rbac.RoleSuperAdmin)...)
	{
		dialerGroup.POST("/session", h.StartSession)
		dialerGroup.DELETE("/session", h.EndSession)
		dialerGroup.POST("/calls", h.InitiateCall)
		dialerGroup.DELETE("/lines/:line_id", h.HangupLine)
		dialerGroup.DELETE("/primary", h.ClearPrimary)
	}

	// REPORTING routes
	reports := protected.Group("/reports")
	reports.Use(httpapi.RequireWorkspaceAndAnyRole(rbac.RoleOwner, rbac.RoleAnalyst, rbac.RoleSuperAdmin)...)
	{
		reports.GET("/outcomes", h.OutcomeSummary)
	}
}
