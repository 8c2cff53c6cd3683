// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package results normalizes heterogeneous tool outputs into one envelope
// shape. Raw handler output is classified once into an explicit variant at
// the boundary; the normalizer is a single exhaustive switch over that
// variant, never speculative key probing scattered through the codebase.
//
// Normalization is idempotent: feeding an envelope back through produces
// the identical envelope. Envelopes are built fresh per call and never
// persisted.
package results

import "fmt"

// Envelope type tags.
const (
	// TypeResult is a completed tool execution.
	TypeResult = "result"

	// TypePlan is a staged write awaiting confirmation.
	TypePlan = "plan"

	// TypeError is a recovered failure.
	TypeError = "error"
)

// UIAction instructs the front end to do something alongside the spoken or
// written summary, such as navigating to a page.
//
// Thread Safety: UIAction is a value type. Safe to copy.
type UIAction struct {
	// Type is the action kind (e.g. "navigate").
	Type string `json:"type"`

	// Path is the navigation target, set for navigate actions.
	Path string `json:"path,omitempty"`

	// Label is optional display text.
	Label string `json:"label,omitempty"`
}

// Envelope is the uniform shape every tool result is normalized into.
//
// Thread Safety: Treated as immutable once built.
type Envelope struct {
	// OK is false only for error envelopes.
	OK bool `json:"ok"`

	// Type is one of TypeResult, TypePlan, TypeError.
	Type string `json:"type"`

	// Summary is the one-line human answer.
	Summary string `json:"summary"`

	// Data carries the raw payload for callers that need more than the
	// summary.
	Data map[string]any `json:"data,omitempty"`

	// UIActions are front-end side instructions, de-duplicated.
	UIActions []UIAction `json:"ui_actions,omitempty"`
}

// Variant is the discriminated classification of a raw tool output.
type Variant int

const (
	// VariantEnvelope is input that already matches the envelope shape;
	// it passes through unchanged.
	VariantEnvelope Variant = iota

	// VariantError carries an error key.
	VariantError

	// VariantPlan signals a staged write (requires_confirmation or an
	// action_id).
	VariantPlan

	// VariantMessage carries a displayable message or voice_response.
	VariantMessage

	// VariantRaw is anything else; the summary is generated.
	VariantRaw
)

// String returns the variant name for logs and tests.
func (v Variant) String() string {
	switch v {
	case VariantEnvelope:
		return "envelope"
	case VariantError:
		return "error"
	case VariantPlan:
		return "plan"
	case VariantMessage:
		return "message"
	case VariantRaw:
		return "raw"
	default:
		return fmt.Sprintf("unknown(%d)", int(v))
	}
}

// Classify tags a raw output with its variant. This is the only place that
// inspects raw keys; everything downstream switches on the returned tag.
//
// Precedence: envelope shape, then error, then plan signals, then message
// fields, then raw.
func Classify(raw map[string]any) Variant {
	if isEnvelopeShaped(raw) {
		return VariantEnvelope
	}
	if errText, ok := raw["error"].(string); ok && errText != "" {
		return VariantError
	}
	if rc, ok := raw["requires_confirmation"].(bool); ok && rc {
		return VariantPlan
	}
	if id, ok := raw["action_id"].(string); ok && id != "" {
		return VariantPlan
	}
	if msg, ok := raw["message"].(string); ok && msg != "" {
		return VariantMessage
	}
	if vr, ok := raw["voice_response"].(string); ok && vr != "" {
		return VariantMessage
	}
	return VariantRaw
}

// isEnvelopeShaped reports whether raw already carries the envelope's
// discriminating fields with the right types.
func isEnvelopeShaped(raw map[string]any) bool {
	if _, ok := raw["ok"].(bool); !ok {
		return false
	}
	typ, ok := raw["type"].(string)
	if !ok {
		return false
	}
	switch typ {
	case TypeResult, TypePlan, TypeError:
	default:
		return false
	}
	_, ok = raw["summary"].(string)
	return ok
}
