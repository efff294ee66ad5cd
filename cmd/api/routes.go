package main

import (
	"voicecampaign-platform/internal/auth"
	"voicecampaign-platform/internal/httpapi"
	"voicecampaign-platform/internal/provider"
	"voicecampaign-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, authMW gin.HandlerFunc, h httpapi.Handlers, wh provider.WebhookHandler) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public). Authenticated by HMAC signature inside the
	// handler, not by bearer token.
	r.POST("/webhooks/vapi/calls", wh.HandleCallEvent)

	// protected API group
	v1 := r.Group("/v1")

	// AUTH routes (token issuance) sit outside the bearer-token middleware.
	v1.POST("/auth/login", h.Login)

	v1.Use(authMW)
	{
		// Identity echo, useful for debugging token plumbing.
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			wid, _ := auth.WorkspaceID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "workspace_id": wid, "role": role})
		})

		// CAMPAIGN routes. Mutations need an operating role; reads are open to
		// analysts too.
		campaigns := v1.Group("/campaigns")
		campaigns.Use(rbac.RequireWorkspace())
		{
			reads := campaigns.Group("")
			reads.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator, rbac.RoleAnalyst, rbac.RoleSuperAdmin))
			{
				reads.GET("/:campaign_id", h.GetCampaign)
			}

			writes := campaigns.Group("")
			writes.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator, rbac.RoleSuperAdmin))
			{
				writes.POST("", h.CreateCampaign)
				writes.POST("/:campaign_id/recipients", h.AddRecipients)
				writes.POST("/:campaign_id/start", h.StartCampaign)
				writes.POST("/:campaign_id/pause", h.PauseCampaign)
				writes.POST("/:campaign_id/resume", h.ResumeCampaign)
				writes.POST("/:campaign_id/cancel", h.CancelCampaign)
			}
		}

		// WALLET routes. Balance reads are broadly available; topping up is an
		// owner action.
		wallets := v1.Group("/wallets")
		wallets.Use(rbac.RequireWorkspace())
		{
			wallets.GET("/:wallet_id/balance", h.GetWalletBalance)

			credit := wallets.Group("")
			credit.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleSuperAdmin))
			{
				credit.POST("/:wallet_id/credit", h.CreditWallet)
			}
		}

		// REPORT routes
		reports := v1.Group("/reports")
		reports.Use(rbac.RequireWorkspace())
		reports.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator, rbac.RoleAnalyst, rbac.RoleSuperAdmin))
		{
			reports.GET("/calls", h.CallsSummary)
			reports.GET("/spend", h.SpendSummary)
		}
	}
}
