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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PeterGuk540/aristai-sub000/services/assistant/actions"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/conversation"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/dispatch"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/results"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/tools"
)

// Handlers serves the assistant HTTP endpoints.
//
// Thread Safety: All handler methods are safe for concurrent use.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers over an assembled service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleExecuteTool handles POST /v1/assistant/tools/execute.
//
// Description:
//
//	Runs a tool by name. Read tools execute immediately and return a result
//	envelope. Write tools never execute here: they are staged through the
//	coordinator and return a plan envelope carrying the action id and
//	preview for the confirm step.
//
// Request Body:
//
//	ExecuteToolRequest (tool_name required, arguments optional, actor_id optional)
//
// Response:
//
//	200 OK: ExecuteToolResponse (result, plan, or recovered ok:false error)
//	400 Bad Request: Malformed body or schema validation failure
//	404 Not Found: Unknown tool
//	429 Too Many Requests: Per-tool rate limit exceeded
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleExecuteTool(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleExecuteTool")

	var req ExecuteToolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	desc, err := h.svc.registry.Lookup(req.ToolName)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "UNKNOWN_TOOL",
		})
		return
	}

	actor := actions.NormalizeActor(req.ActorID)

	if desc.Mode == tools.ModeWrite {
		act, planErr := h.svc.coordinator.Plan(c.Request.Context(), req.ToolName, req.Arguments, actor)
		if planErr != nil {
			h.respondError(c, logger, planErr)
			return
		}
		logger.Info("write staged",
			slog.String("tool", req.ToolName),
			slog.String("action_id", act.ID),
		)
		c.JSON(http.StatusOK, ExecuteToolResponse{Envelope: results.Normalize(act.Tool, map[string]any{
			"requires_confirmation": true,
			"action_id":             act.ID,
			"preview": map[string]any{
				"summary":  act.Preview.Summary,
				"affected": act.Preview.Affected,
			},
		})})
		return
	}

	res, err := h.svc.dispatcher.Invoke(c.Request.Context(), &tools.Invocation{
		ID:    requestID,
		Tool:  req.ToolName,
		Args:  req.Arguments,
		Actor: actor,
	})
	if err != nil {
		var herr *dispatch.HandlerError
		if errors.As(err, &herr) {
			// Recovered fault: the protocol held, the tool did not.
			logger.Warn("read tool failed",
				slog.String("tool", req.ToolName),
				slog.String("error", herr.Cause.Error()),
			)
			c.JSON(http.StatusOK, ExecuteToolResponse{Envelope: results.Error(herr.Cause.Error())})
			return
		}
		h.respondError(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, ExecuteToolResponse{Envelope: results.Normalize(req.ToolName, resultPayload(res))})
}

// HandleConfirmAction handles POST /v1/assistant/actions/:id/confirm.
//
// Description:
//
//	Executes a previously planned write. Only the planning owner may
//	confirm; the transition is forward-only, so a second confirm reports
//	the action already executed rather than running twice.
//
// Request Body:
//
//	ActionRequest (actor_id optional; empty body allowed)
//
// Response:
//
//	200 OK: ExecuteToolResponse (result envelope, or recovered ok:false on handler failure)
//	403 Forbidden: Action belongs to someone else
//	404 Not Found: Unknown or expired action id
//	409 Conflict: Action already in a terminal state
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleConfirmAction(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleConfirmAction")

	var req ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// Empty body is fine; confirm needs only the id and actor.
		req = ActionRequest{}
	}
	actionID := c.Param("id")
	actor := actions.NormalizeActor(req.ActorID)

	act, err := h.svc.coordinator.Confirm(c.Request.Context(), actionID, actor)
	if err != nil {
		var herr *dispatch.HandlerError
		if errors.As(err, &herr) {
			logger.Warn("confirmed write failed",
				slog.String("action_id", actionID),
				slog.String("error", herr.Cause.Error()),
			)
			c.JSON(http.StatusOK, ExecuteToolResponse{Envelope: results.Error(herr.Cause.Error())})
			return
		}
		h.respondError(c, logger, err)
		return
	}

	logger.Info("action executed",
		slog.String("action_id", act.ID),
		slog.String("tool", act.Tool),
	)
	c.JSON(http.StatusOK, ExecuteToolResponse{Envelope: results.Normalize(act.Tool, act.Result)})
}

// HandleCancelAction handles POST /v1/assistant/actions/:id/cancel.
//
// Description:
//
//	Cancels a planned write without running it. Owner-scoped like confirm.
//
// Request Body:
//
//	ActionRequest (actor_id optional; empty body allowed)
//
// Response:
//
//	200 OK: ExecuteToolResponse with a cancelled envelope
//	403 Forbidden: Action belongs to someone else
//	404 Not Found: Unknown or expired action id
//	409 Conflict: Action already in a terminal state
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleCancelAction(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleCancelAction")

	var req ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		req = ActionRequest{}
	}
	actionID := c.Param("id")
	actor := actions.NormalizeActor(req.ActorID)

	act, err := h.svc.coordinator.Cancel(c.Request.Context(), actionID, actor)
	if err != nil {
		h.respondError(c, logger, err)
		return
	}

	logger.Info("action cancelled", slog.String("action_id", act.ID))
	c.JSON(http.StatusOK, ExecuteToolResponse{Envelope: results.Envelope{
		OK:      true,
		Type:    results.TypeResult,
		Summary: "Cancelled. Nothing was changed.",
		Data: map[string]any{
			"action_id": act.ID,
			"status":    act.Status.String(),
		},
	}})
}

// HandleGetAction handles GET /v1/assistant/actions/:id.
//
// Description:
//
//	Owner-scoped peek at a pending action: status, preview, and remaining
//	TTL. Looking does not extend the TTL. Non-owners get 403 with no
//	argument disclosure.
//
// Query Parameters:
//
//	actor_id: The requesting actor (optional, defaults to anonymous)
//
// Response:
//
//	200 OK: ActionView
//	403 Forbidden: Action belongs to someone else
//	404 Not Found: Unknown or expired action id
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleGetAction(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetAction")

	actionID := c.Param("id")
	actor := actions.NormalizeActor(c.Query("actor_id"))

	act, remaining, err := h.svc.coordinator.Peek(c.Request.Context(), actionID, actor)
	if err != nil {
		h.respondError(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, actionViewFrom(act, remaining))
}

// HandleListTools handles GET /v1/assistant/tools.
//
// Description:
//
//	Returns the planner contract: every registered tool with its schema,
//	mode, and category. The list is stable across calls (registration
//	order).
//
// Response:
//
//	200 OK: ListToolsResponse
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleListTools(c *gin.Context) {
	descriptors := h.svc.registry.List()
	infos := make([]ToolInfo, 0, len(descriptors))
	for _, d := range descriptors {
		infos = append(infos, toolInfoFromDescriptor(d))
	}
	c.JSON(http.StatusOK, ListToolsResponse{Tools: infos, Count: len(infos)})
}

// HandleConversationTurn handles POST /v1/assistant/conversation/turn.
//
// Description:
//
//	Feeds one utterance into the actor's conversation context and returns
//	the assistant's reply. Turns for the same actor are serialized; the
//	context expires after a sliding idle window.
//
// Request Body:
//
//	TurnRequest (input required, actor_id optional)
//
// Response:
//
//	200 OK: TurnResponse (including retry-exhausted turns, which carry an
//	        ok:false envelope)
//	400 Bad Request: Missing input
//	500 Internal Server Error: Context registry failure
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleConversationTurn(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleConversationTurn")

	var req TurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	var reply conversation.Reply
	err := h.svc.contexts.WithConversation(req.ActorID, func(conv *conversation.Conversation) error {
		var turnErr error
		reply, turnErr = h.svc.machine.HandleInput(c.Request.Context(), conv, req.Input)
		return turnErr
	})
	if err != nil && !errors.Is(err, conversation.ErrRetryExhausted) {
		logger.Error("conversation turn failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "conversation turn failed",
			Code:  "TURN_FAILED",
		})
		return
	}

	c.JSON(http.StatusOK, TurnResponse{
		Text:     reply.Text,
		State:    reply.State.String(),
		Options:  reply.Options,
		Envelope: reply.Envelope,
	})
}

// HandleResetConversation handles DELETE /v1/assistant/conversation.
//
// Description:
//
//	Drops the actor's conversation context (logout). Pending actions are
//	not cancelled here; they simply expire.
//
// Query Parameters:
//
//	actor_id: The actor whose context to drop (optional)
//
// Response:
//
//	204 No Content
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleResetConversation(c *gin.Context) {
	h.svc.contexts.Reset(c.Query("actor_id"))
	c.Status(http.StatusNoContent)
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleReady handles GET /readyz. Returns 503 with Retry-After until
// warmup completes.
func (h *Handlers) HandleReady(c *gin.Context) {
	if !h.svc.Ready() {
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "service warming up",
			Code:  "SERVICE_WARMING_UP",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// respondError maps protocol errors onto the HTTP contract. Anything not in
// the taxonomy is a 500.
func (h *Handlers) respondError(c *gin.Context, logger *slog.Logger, err error) {
	var verr *tools.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: verr.Error(),
			Code:  "VALIDATION_FAILED",
		})
		return
	}
	if errors.Is(err, tools.ErrUnknownTool) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "UNKNOWN_TOOL",
		})
		return
	}
	if errors.Is(err, actions.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "ACTION_NOT_FOUND",
		})
		return
	}
	if errors.Is(err, actions.ErrNotOwner) {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Error: err.Error(),
			Code:  "NOT_OWNER",
		})
		return
	}
	var serr *actions.InvalidStateError
	if errors.As(err, &serr) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: serr.Error(),
			Code:  "INVALID_STATE",
		})
		return
	}
	if errors.Is(err, dispatch.ErrRateLimited) {
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Error: err.Error(),
			Code:  "RATE_LIMITED",
		})
		return
	}

	logger.Error("unhandled error", slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error: "internal error",
		Code:  "INTERNAL_ERROR",
	})
}

// resultPayload flattens a tool result for the normalizer, forcing an error
// key for expected failures so they classify as error envelopes.
func resultPayload(res *tools.Result) map[string]any {
	if res == nil {
		return nil
	}
	if res.Success {
		return res.Output
	}
	out := make(map[string]any, len(res.Output)+1)
	for k, v := range res.Output {
		out[k] = v
	}
	msg := res.Error
	if msg == "" {
		msg = "the tool reported a failure"
	}
	out["error"] = msg
	return out
}
