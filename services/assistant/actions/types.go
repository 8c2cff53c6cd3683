// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package actions stores planned write actions for the two-phase write
// protocol. A planned action is a time-bounded record of intent: it holds an
// immutable argument snapshot and a human-readable preview, and waits for an
// explicit confirm or cancel from its owner. An action never confirmed or
// cancelled before its TTL elapses simply ceases to exist — no side effect
// occurs.
//
// Status moves only forward: planned → executed, failed, or cancelled. A
// terminal action never transitions again; re-confirming an executed action
// is a hard error, not a cached replay.
//
// Thread Safety:
//
//	All exported types are safe for concurrent use unless documented otherwise.
package actions

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AnonymousOwner is the owner recorded for requests that carry no actor id.
// Anonymous actions are confirmable only by anonymous requests.
const AnonymousOwner = "anonymous"

// DefaultTTL is the lifetime of a planned action when the caller does not
// specify one.
const DefaultTTL = 10 * time.Minute

// Status is the lifecycle state of an action.
type Status int

const (
	// StatusPlanned is the initial state: stored, previewed, awaiting an
	// explicit confirm or cancel.
	StatusPlanned Status = iota

	// StatusExecuted means the owner confirmed and the handler succeeded.
	StatusExecuted

	// StatusCancelled means the owner explicitly cancelled; the handler was
	// never invoked.
	StatusCancelled

	// StatusFailed means a confirm was attempted and the handler faulted.
	// The raw failure message is retained in Result for later explanation.
	StatusFailed
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusPlanned:
		return "planned"
	case StatusExecuted:
		return "executed"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ParseStatus converts a wire name back to a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "planned":
		return StatusPlanned, nil
	case "executed":
		return StatusExecuted, nil
	case "cancelled":
		return StatusCancelled, nil
	case "failed":
		return StatusFailed, nil
	default:
		return StatusPlanned, fmt.Errorf("actions: unknown status %q", s)
	}
}

// Terminal reports whether the status is one of the end states.
func (s Status) Terminal() bool {
	return s == StatusExecuted || s == StatusCancelled || s == StatusFailed
}

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrNotFound is returned when an action id does not resolve. Expired
	// and never-existed are indistinguishable at this layer.
	ErrNotFound = errors.New("actions: action not found or expired")

	// ErrNotOwner is returned when an action exists but belongs to a
	// different actor. Kept distinct from ErrNotFound so a legitimate owner
	// can tell "wrong session" from "already gone".
	ErrNotOwner = errors.New("actions: action does not belong to current user")
)

// InvalidStateError is returned when a confirm or cancel reaches an action
// that is no longer planned. The message names the state the action is
// already in ("already executed", "already cancelled", ...).
type InvalidStateError struct {
	// ID is the action id the transition was attempted on.
	ID string

	// Status is the terminal state the action is already in.
	Status Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("actions: action %s already %s", e.ID, e.Status)
}

// =============================================================================
// Preview
// =============================================================================

// Preview is the deterministic, human-readable description of a planned
// write's intended effect, shown to the user before confirmation.
//
// Thread Safety: Preview is a value type. Safe to copy.
type Preview struct {
	// Summary is one sentence describing the intended effect, derived
	// deterministically from the tool name and arguments
	// (e.g. `will create 1 course titled "History"`).
	Summary string `json:"summary"`

	// Affected maps entity kind to the number of records the write would
	// touch (e.g. {"courses": 1}).
	Affected map[string]int `json:"affected"`

	// Args is the argument snapshot echoed back so the user confirms
	// against exactly what will run.
	Args map[string]any `json:"args"`
}

// =============================================================================
// Action
// =============================================================================

// Action is a stored, time-bounded intent to perform a write-mode tool call.
//
// Invariants: Args never mutate after creation; Status only moves forward
// from StatusPlanned into exactly one terminal state; Result is set only on
// that single terminal transition.
//
// Thread Safety: Not safe for concurrent mutation. Stores hand out private
// copies; concurrent updates to the same id go through Store.Update, which
// is a full read-modify-write cycle.
type Action struct {
	// ID is opaque and unguessable.
	ID string

	// Owner is the actor id this action belongs to, or AnonymousOwner.
	Owner string

	// Tool is the write-mode tool this action will invoke on confirm. A
	// weak reference by name: if the descriptor vanishes before confirm,
	// the confirm fails cleanly.
	Tool string

	// Args is the immutable argument snapshot taken at plan time.
	Args map[string]any

	// Preview describes the intended effect.
	Preview Preview

	// CreatedAt is when the action was planned.
	CreatedAt time.Time

	// ExpiresAt is when the action is evicted if still planned.
	ExpiresAt time.Time

	// Status is the lifecycle state.
	Status Status

	// Result holds the handler output (executed), the failure message
	// (failed), or nil (cancelled). Set exactly once.
	Result map[string]any
}

// Transition moves the action into a terminal state. It is the single
// enforcement point for the forward-only rule: any transition on a
// non-planned action fails with *InvalidStateError, and transitions back to
// StatusPlanned are rejected outright.
func (a *Action) Transition(next Status, result map[string]any) error {
	if next == StatusPlanned {
		return fmt.Errorf("actions: cannot transition action %s back to planned", a.ID)
	}
	if !next.Terminal() {
		return fmt.Errorf("actions: invalid target status %s", next)
	}
	if a.Status != StatusPlanned {
		return &InvalidStateError{ID: a.ID, Status: a.Status}
	}
	a.Status = next
	a.Result = result
	return nil
}

// EnsureOwner checks that actor may confirm or cancel this action. The
// actor id is normalized the same way Create normalizes owners, so an empty
// actor matches only anonymous actions.
func (a *Action) EnsureOwner(actor string) error {
	if a.Owner != NormalizeActor(actor) {
		return ErrNotOwner
	}
	return nil
}

// Clone returns a deep copy. Stores use it so callers can never mutate the
// stored record through a returned pointer.
func (a *Action) Clone() *Action {
	if a == nil {
		return nil
	}
	dup := *a
	dup.Args = cloneMap(a.Args)
	dup.Result = cloneMap(a.Result)
	dup.Preview.Args = cloneMap(a.Preview.Args)
	if a.Preview.Affected != nil {
		dup.Preview.Affected = make(map[string]int, len(a.Preview.Affected))
		for k, v := range a.Preview.Affected {
			dup.Preview.Affected[k] = v
		}
	}
	return &dup
}

// NormalizeActor maps an actor id to its canonical owner form: trimmed, with
// empty or whitespace-only ids becoming AnonymousOwner.
func NormalizeActor(actor string) string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return AnonymousOwner
	}
	return actor
}

// NewActionID generates an opaque, unguessable action id.
func NewActionID() string {
	return uuid.NewString()
}

// cloneMap deep-copies a JSON-shaped map (string/number/bool scalars,
// []any, nested map[string]any).
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}
