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
	"regexp"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/PeterGuk540/aristai-sub000/services/assistant/actions"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/results"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/tools"
)

// =============================================================================
// Error Response
// =============================================================================

// ErrorResponse is the uniform error body for non-2xx responses.
type ErrorResponse struct {
	// Error is the human-readable message.
	Error string `json:"error"`

	// Code is a stable machine-readable code (SCREAMING_SNAKE).
	Code string `json:"code"`
}

// =============================================================================
// Request DTOs
// =============================================================================

// ExecuteToolRequest is the body of POST /v1/assistant/tools/execute.
type ExecuteToolRequest struct {
	// ToolName is the registered tool to run.
	ToolName string `json:"tool_name" binding:"required,toolname"`

	// Arguments is the raw argument map, validated against the tool's
	// schema by the dispatcher.
	Arguments map[string]any `json:"arguments"`

	// ActorID identifies the caller. Empty means anonymous.
	ActorID string `json:"actor_id"`
}

// ActionRequest is the body of the confirm and cancel endpoints.
type ActionRequest struct {
	// ActorID must match the action's owner.
	ActorID string `json:"actor_id"`
}

// TurnRequest is the body of POST /v1/assistant/conversation/turn.
type TurnRequest struct {
	// ActorID scopes the conversation context. Empty means anonymous.
	ActorID string `json:"actor_id"`

	// Input is the user's utterance for this turn.
	Input string `json:"input" binding:"required"`
}

// =============================================================================
// Response DTOs
// =============================================================================

// ExecuteToolResponse wraps the normalized envelope for a direct tool call.
type ExecuteToolResponse struct {
	// Envelope is the normalized result (result, plan, or error).
	Envelope results.Envelope `json:"envelope"`
}

// TurnResponse is one conversation turn's outcome.
type TurnResponse struct {
	// Text is what the assistant says back.
	Text string `json:"text"`

	// State is the conversation state after the turn.
	State string `json:"state"`

	// Options is the dropdown list when one is being presented.
	Options []string `json:"options,omitempty"`

	// Envelope is set when the turn produced a tool result, plan, or error.
	Envelope *results.Envelope `json:"envelope,omitempty"`
}

// ActionView is the owner-scoped peek at a pending action. Args appear only
// inside Preview, which is returned to the owner alone.
type ActionView struct {
	ActionID         string          `json:"action_id"`
	Tool             string          `json:"tool"`
	Status           string          `json:"status"`
	Preview          actions.Preview `json:"preview"`
	ExpiresInSeconds int64           `json:"expires_in_seconds"`
}

// FieldInfo describes one schema field in the planner contract.
type FieldInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Prompt   string `json:"prompt,omitempty"`
}

// ToolInfo is one catalog entry in the planner contract.
type ToolInfo struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Mode        string      `json:"mode"`
	Category    string      `json:"category"`
	Fields      []FieldInfo `json:"fields"`
}

// ListToolsResponse is the body of GET /v1/assistant/tools.
type ListToolsResponse struct {
	Tools []ToolInfo `json:"tools"`
	Count int        `json:"count"`
}

func toolInfoFromDescriptor(d tools.Descriptor) ToolInfo {
	fields := make([]FieldInfo, 0, d.Schema.Len())
	for _, f := range d.Schema.Fields() {
		fields = append(fields, FieldInfo{
			Name:     f.Name,
			Type:     string(f.Type),
			Required: f.Required,
			Prompt:   f.Prompt,
		})
	}
	return ToolInfo{
		Name:        d.Name,
		Description: d.Description,
		Mode:        d.Mode.String(),
		Category:    d.Category,
		Fields:      fields,
	}
}

func actionViewFrom(a *actions.Action, remaining time.Duration) ActionView {
	secs := int64(remaining / time.Second)
	if secs < 0 {
		secs = 0
	}
	return ActionView{
		ActionID:         a.ID,
		Tool:             a.Tool,
		Status:           a.Status.String(),
		Preview:          a.Preview,
		ExpiresInSeconds: secs,
	}
}

// =============================================================================
// Request plumbing
// =============================================================================

// toolNamePattern is the shape of a registered tool name: lowercase snake,
// starting with a letter. Mirrors what the catalog actually registers.
var toolNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

var registerValidationsOnce sync.Once

// RegisterValidations installs the custom binding rules on gin's validator
// engine. Call once at startup before serving; repeated calls are no-ops.
func RegisterValidations() {
	registerValidationsOnce.Do(func() {
		v, isValidator := binding.Validator.Engine().(*validator.Validate)
		if !isValidator {
			return
		}
		_ = v.RegisterValidation("toolname", func(fl validator.FieldLevel) bool {
			return toolNamePattern.MatchString(fl.Field().String())
		})
	})
}

// getOrCreateRequestID returns the inbound X-Request-ID or mints one, so
// every log line for a request shares an id even when the client sent none.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}
