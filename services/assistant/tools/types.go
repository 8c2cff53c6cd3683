// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools defines the tool catalog vocabulary: descriptors, argument
// schemas, the immutable registry, and the validation rules that gate every
// invocation before a handler runs.
//
// Description:
//
//	A tool is a named, schema-described operation tagged read or write.
//	Read tools execute immediately; write tools flow through the two-phase
//	confirmation protocol. The registry is built once at startup and is
//	read-only afterwards, so lookups need no synchronization.
//
// Thread Safety:
//
//	Registry and Descriptor values are immutable after Build and safe for
//	concurrent use. Invocation and Result are per-call values.
package tools

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Mode
// =============================================================================

// Mode distinguishes immediately-executed read tools from write tools that
// require explicit confirmation.
type Mode int

const (
	// ModeRead tools execute immediately on request, concurrently with
	// anything else.
	ModeRead Mode = iota

	// ModeWrite tools never execute directly: they are planned into a
	// pending Action and run only on a confirmed action.
	ModeWrite
)

// String returns the wire name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseMode converts a wire name back to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "read":
		return ModeRead, nil
	case "write":
		return ModeWrite, nil
	default:
		return ModeRead, fmt.Errorf("tools: unknown mode %q", s)
	}
}

// =============================================================================
// Errors
// =============================================================================

// ErrUnknownTool is returned when a lookup names a tool the registry has
// never heard of. Callers wrap it with the offending name.
var ErrUnknownTool = errors.New("tools: unknown tool")

// ValidationError reports the first argument that failed schema validation.
// It is returned before any handler runs; a failed validation never has
// partial effects.
type ValidationError struct {
	// Tool is the tool whose schema was violated.
	Tool string

	// Field is the first offending field in schema order.
	Field string

	// Reason is a human-readable description ("is required", "must be an
	// integer", ...).
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("tools: %s: field %q %s", e.Tool, e.Field, e.Reason)
}

// =============================================================================
// Descriptor
// =============================================================================

// Descriptor describes one registered tool: its schema, mode, category, and
// handler. Descriptors are built once at startup and never mutated.
//
// Thread Safety: Immutable after registration. Safe for concurrent use.
type Descriptor struct {
	// Name is the unique catalog key (e.g. "create_course").
	Name string

	// Description is shown to the planner and in the catalog listing.
	Description string

	// Schema declares the argument fields in prompt order.
	Schema Schema

	// Mode is read or write.
	Mode Mode

	// Category groups related tools ("courses", "sessions", "navigation").
	Category string

	// UsesUnitOfWork declares whether the handler needs an exclusively
	// owned unit-of-work. Handlers without the dependency skip acquisition
	// entirely.
	UsesUnitOfWork bool

	// RatePerMinute caps invocations of this tool. Zero means unlimited.
	RatePerMinute int

	// Timeout bounds a single handler execution. Zero means no per-tool
	// bound beyond the caller's context.
	Timeout time.Duration

	// Handler executes the tool. Never invoked before Validate passes.
	Handler Handler
}

// Handler executes a validated invocation.
//
// Implementations must be safe for concurrent use: the dispatcher runs
// handlers from a worker pool.
type Handler interface {
	Execute(ctx context.Context, inv *Invocation) (*Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, inv *Invocation) (*Result, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, inv *Invocation) (*Result, error) {
	return f(ctx, inv)
}

// =============================================================================
// Invocation & Result
// =============================================================================

// Invocation is one validated request to run a tool.
//
// Args is an immutable snapshot: neither the dispatcher nor handlers mutate
// it. UnitOfWork is an opaque resource handle (nil when the descriptor does
// not declare the dependency); handlers that need data access assert it to
// the concrete store transaction they were built against.
type Invocation struct {
	// ID identifies this invocation in logs and traces.
	ID string

	// Tool is the descriptor name being executed.
	Tool string

	// Args is the validated argument snapshot.
	Args map[string]any

	// Actor is the requesting actor id, or "anonymous".
	Actor string

	// UnitOfWork is the exclusively owned resource handle for this
	// invocation, acquired and released by the dispatcher.
	UnitOfWork any
}

// Result is the raw outcome of one handler execution, before normalization.
type Result struct {
	// Success is false when the tool failed in an expected, reportable way.
	Success bool

	// Error carries the failure description when Success is false.
	Error string

	// Output is the structured payload handed to the result normalizer.
	Output map[string]any

	// Duration is how long the handler ran.
	Duration time.Duration
}
