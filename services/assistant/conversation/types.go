// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation drives multi-turn dialogue: form filling in declared
// field order, dropdown selection, explicit confirmation of staged writes,
// and bounded retry on handler failure. Each actor has one Conversation, a
// small ephemeral record with a sliding TTL.
//
// Thread Safety:
//
//	A Conversation belongs to one actor and is advanced one turn at a time;
//	the Registry serializes access per actor. The Machine itself is
//	stateless and safe for concurrent use across conversations.
package conversation

import (
	"errors"
	"fmt"
	"time"

	"github.com/PeterGuk540/aristai-sub000/services/assistant/results"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/tools"
)

// MaxRetries is the ceiling on automatic re-dispatch after handler failure.
const MaxRetries = 3

// ErrRetryExhausted is returned when the retry ceiling is reached. The last
// handler error is surfaced verbatim alongside it and the conversation
// resets to idle.
var ErrRetryExhausted = errors.New("conversation: retry limit reached")

// State is the dialogue position of a conversation.
type State int

const (
	// StateIdle means nothing is pending; any new form, dropdown, or
	// confirmation may begin.
	StateIdle State = iota

	// StateAwaitingFieldInput means a form is active and the current field
	// is being prompted for.
	StateAwaitingFieldInput

	// StateAwaitingDropdownSelection means an enumerated choice was
	// presented and the next input selects from it.
	StateAwaitingDropdownSelection

	// StateAwaitingConfirmation means a staged write is pending an
	// explicit yes or no.
	StateAwaitingConfirmation

	// StateProcessing is transient while a handler executes within a turn.
	StateProcessing

	// StateErrorRetry is transient while a failed step is re-dispatched
	// under the retry ceiling.
	StateErrorRetry
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingFieldInput:
		return "awaiting_field_input"
	case StateAwaitingDropdownSelection:
		return "awaiting_dropdown_selection"
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	case StateProcessing:
		return "processing"
	case StateErrorRetry:
		return "error_retry"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// FormSession tracks an active form: the tool whose schema defines the
// fields, the prompt cursor, and the values collected so far.
type FormSession struct {
	// Tool is the tool the completed form will invoke.
	Tool string

	// Fields are the schema fields in declared order.
	Fields []tools.Field

	// Index is the cursor of the field currently being prompted.
	Index int

	// Values holds collected answers keyed by field name.
	Values map[string]any
}

// Current returns the field under the cursor.
func (f *FormSession) Current() (tools.Field, bool) {
	if f == nil || f.Index < 0 || f.Index >= len(f.Fields) {
		return tools.Field{}, false
	}
	return f.Fields[f.Index], true
}

// Complete reports whether every field has been visited.
func (f *FormSession) Complete() bool {
	return f != nil && f.Index >= len(f.Fields)
}

// Step is a dispatchable unit remembered for retry: the tool, the exact
// arguments it ran with, and whether it mutates state. A failed write step
// is re-staged as a fresh action on retry; the already-failed action is
// terminal and is never re-confirmed.
type Step struct {
	Tool  string
	Args  map[string]any
	Write bool
}

// DropdownSession tracks a presented enumerated choice.
type DropdownSession struct {
	// Name labels the choice (e.g. "subject").
	Name string

	// Options are the presented labels, in order.
	Options []string

	// Field, when set, routes the selection into the active form's field
	// of that name instead of ending the interaction.
	Field string
}

// Conversation is the per-actor dialogue record. It is ephemeral: a sliding
// TTL in the Registry evicts idle conversations, and an explicit reset
// clears one immediately.
type Conversation struct {
	// Actor is the owning actor id (or the anonymous owner).
	Actor string

	// State is the current dialogue position.
	State State

	// Form is the active form, when State is StateAwaitingFieldInput (and
	// kept through a dropdown detour that fills one of its fields).
	Form *FormSession

	// Dropdown is the active choice, when State is
	// StateAwaitingDropdownSelection.
	Dropdown *DropdownSession

	// PendingActionID is the staged write awaiting confirmation, when
	// State is StateAwaitingConfirmation.
	PendingActionID string

	// PendingSummary is the preview line re-presented when a confirmation
	// reply is not understood.
	PendingSummary string

	// LastStep is the most recent dispatchable step, kept so a handler
	// failure can be retried on the user's go-ahead.
	LastStep *Step

	// Retries counts handler failures for the current step.
	Retries int

	// LastError is the most recent handler failure message, surfaced
	// verbatim when the retry ceiling is hit.
	LastError string

	// Anchors remembers referential shortcuts ("the course I'm looking
	// at"), keyed by entity kind.
	Anchors map[string]string

	// UpdatedAt is the last interaction time; the Registry's sliding TTL
	// keys off it.
	UpdatedAt time.Time
}

// NewConversation returns an idle conversation for actor.
func NewConversation(actor string) *Conversation {
	return &Conversation{
		Actor:   actor,
		State:   StateIdle,
		Anchors: make(map[string]string),
	}
}

// reset returns the conversation to idle, dropping any form, dropdown,
// pending action, and retry bookkeeping. Anchors survive a reset: what the
// user was looking at is still what they are looking at.
func (c *Conversation) reset() {
	c.State = StateIdle
	c.Form = nil
	c.Dropdown = nil
	c.PendingActionID = ""
	c.PendingSummary = ""
	c.LastStep = nil
	c.Retries = 0
	c.LastError = ""
}

// Anchor records a referential shortcut, e.g. kind "course" → id.
func (c *Conversation) Anchor(kind, id string) {
	if c.Anchors == nil {
		c.Anchors = make(map[string]string)
	}
	c.Anchors[kind] = id
}

// AnchorFor resolves a referential shortcut.
func (c *Conversation) AnchorFor(kind string) (string, bool) {
	id, ok := c.Anchors[kind]
	return id, ok
}

// Reply is what one turn hands back to the transport layer.
type Reply struct {
	// Text is the conversational line to speak or display.
	Text string

	// State is the conversation's position after the turn.
	State State

	// Envelope carries a normalized tool result when the turn executed,
	// planned, or failed something. Nil for purely conversational turns.
	Envelope *results.Envelope

	// Options re-presents an enumerated list when one is awaiting
	// selection.
	Options []string
}
