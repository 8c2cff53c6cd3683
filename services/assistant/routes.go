// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assistant

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all assistant routes with the router.
//
// Description:
//
//	Registers the /v1/assistant/* endpoints with the given Gin router
//	group. The group should already carry any shared middleware; pass a
//	warmup guard to reject traffic until Service.Warmup completes.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//	middleware - Optional middleware applied to all assistant routes. Can be nil.
//
// Endpoints:
//
//	POST   /v1/assistant/tools/execute       - Run a read tool / stage a write
//	GET    /v1/assistant/tools               - Tool catalog (planner contract)
//	POST   /v1/assistant/actions/:id/confirm - Execute a staged write
//	POST   /v1/assistant/actions/:id/cancel  - Discard a staged write
//	GET    /v1/assistant/actions/:id         - Owner-scoped action peek
//	POST   /v1/assistant/conversation/turn   - One conversation turn
//	GET    /v1/assistant/conversation/ws     - WebSocket turn stream
//	DELETE /v1/assistant/conversation        - Drop the actor's context
//
// Example:
//
//	svc := assistant.NewService(db, store, assistant.DefaultServiceConfig())
//	handlers := assistant.NewHandlers(svc)
//
//	v1 := router.Group("/v1")
//	assistant.RegisterRoutes(v1, handlers, assistant.WarmupGuard(svc))
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers, middleware gin.HandlerFunc) {
	var group *gin.RouterGroup
	if middleware != nil {
		group = rg.Group("/assistant", middleware)
	} else {
		group = rg.Group("/assistant")
	}
	{
		// Tool invocation
		group.POST("/tools/execute", handlers.HandleExecuteTool)
		group.GET("/tools", handlers.HandleListTools)

		// Write-action lifecycle
		group.POST("/actions/:id/confirm", handlers.HandleConfirmAction)
		group.POST("/actions/:id/cancel", handlers.HandleCancelAction)
		group.GET("/actions/:id", handlers.HandleGetAction)

		// Conversation
		group.POST("/conversation/turn", handlers.HandleConversationTurn)
		group.GET("/conversation/ws", handlers.HandleConversationWS)
		group.DELETE("/conversation", handlers.HandleResetConversation)
	}
}

// RegisterHealthRoutes registers the liveness and readiness probes at the
// router root, outside any warmup guard.
func RegisterHealthRoutes(router *gin.Engine, handlers *Handlers) {
	router.GET("/healthz", handlers.HandleHealth)
	router.GET("/readyz", handlers.HandleReady)
}

// WarmupGuard returns middleware that rejects requests with 503 and a
// Retry-After header until the service finishes warming up. Health probes
// register outside the guarded group and are unaffected.
//
// Thread Safety: The returned middleware is safe for concurrent use.
func WarmupGuard(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !svc.Ready() {
			slog.Warn("request rejected: service warming up",
				slog.String("path", c.Request.URL.Path),
				slog.String("method", c.Request.Method),
			)
			c.Header("Retry-After", "5")
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{
				Error: "service warming up",
				Code:  "SERVICE_WARMING_UP",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
