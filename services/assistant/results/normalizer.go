// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package results

import "fmt"

// Normalize converts one raw tool output into the uniform envelope.
//
// Description:
//
//	The raw map is classified exactly once (Classify) and the switch below
//	is exhaustive over the variants. Already-normalized input passes
//	through unchanged, so Normalize(Normalize(x)) == Normalize(x).
//	Summary derivation for plain results prefers a message field, then a
//	voice_response field, then falls back to "<tool> completed.".
//
// Inputs:
//
//   - tool: Tool name, used for generated summaries.
//   - raw: Handler output. Nil is treated as an empty successful result.
//
// Outputs:
//
//   - Envelope: Fresh envelope; raw is never mutated.
//
// Thread Safety: Stateless. Safe for concurrent use.
func Normalize(tool string, raw map[string]any) Envelope {
	if raw == nil {
		return Envelope{
			OK:      true,
			Type:    TypeResult,
			Summary: fmt.Sprintf("%s completed.", tool),
		}
	}

	switch Classify(raw) {
	case VariantEnvelope:
		return envelopeFromMap(raw)

	case VariantError:
		errText, _ := raw["error"].(string)
		return Envelope{
			OK:      false,
			Type:    TypeError,
			Summary: errText,
			Data:    raw,
		}

	case VariantPlan:
		return Envelope{
			OK:        true,
			Type:      TypePlan,
			Summary:   planSummary(tool, raw),
			Data:      raw,
			UIActions: collectUIActions(raw),
		}

	case VariantMessage:
		summary, _ := raw["message"].(string)
		if summary == "" {
			summary, _ = raw["voice_response"].(string)
		}
		return Envelope{
			OK:        true,
			Type:      TypeResult,
			Summary:   summary,
			Data:      raw,
			UIActions: collectUIActions(raw),
		}

	case VariantRaw:
		return Envelope{
			OK:        true,
			Type:      TypeResult,
			Summary:   fmt.Sprintf("%s completed.", tool),
			Data:      raw,
			UIActions: collectUIActions(raw),
		}

	default:
		// Unreachable: Classify returns only the variants above.
		return Envelope{
			OK:      true,
			Type:    TypeResult,
			Summary: fmt.Sprintf("%s completed.", tool),
			Data:    raw,
		}
	}
}

// Error builds an error envelope directly from a failure message, for
// callers that recovered a typed error rather than a raw map.
func Error(summary string) Envelope {
	return Envelope{
		OK:      false,
		Type:    TypeError,
		Summary: summary,
	}
}

// planSummary prefers the preview's own summary, then a top-level summary,
// then a generated line.
func planSummary(tool string, raw map[string]any) string {
	if preview, ok := raw["preview"].(map[string]any); ok {
		if s, ok := preview["summary"].(string); ok && s != "" {
			return s
		}
	}
	if s, ok := raw["summary"].(string); ok && s != "" {
		return s
	}
	return fmt.Sprintf("%s requires confirmation.", tool)
}

// collectUIActions merges the raw output's preserved ui_actions with a
// navigation action synthesized from a top-level path, de-duplicating the
// synthesized one against any preserved navigate to the same path.
func collectUIActions(raw map[string]any) []UIAction {
	preserved := parseUIActions(raw["ui_actions"])

	path, _ := raw["path"].(string)
	if path == "" {
		return preserved
	}
	for _, a := range preserved {
		if a.Type == "navigate" && a.Path == path {
			return preserved
		}
	}
	return append(preserved, UIAction{Type: "navigate", Path: path})
}

// parseUIActions accepts the shapes handlers actually emit: a typed slice,
// a []map (from Go callers), or []any of maps (from JSON decoding).
func parseUIActions(v any) []UIAction {
	switch list := v.(type) {
	case []UIAction:
		out := make([]UIAction, len(list))
		copy(out, list)
		return out
	case []map[string]any:
		out := make([]UIAction, 0, len(list))
		for _, m := range list {
			out = append(out, uiActionFromMap(m))
		}
		return out
	case []any:
		out := make([]UIAction, 0, len(list))
		for _, e := range list {
			if m, ok := e.(map[string]any); ok {
				out = append(out, uiActionFromMap(m))
			}
		}
		return out
	default:
		return nil
	}
}

func uiActionFromMap(m map[string]any) UIAction {
	a := UIAction{}
	a.Type, _ = m["type"].(string)
	a.Path, _ = m["path"].(string)
	a.Label, _ = m["label"].(string)
	return a
}

// envelopeFromMap reconstructs an Envelope from its map form without
// touching any field, preserving idempotency.
func envelopeFromMap(raw map[string]any) Envelope {
	e := Envelope{}
	e.OK, _ = raw["ok"].(bool)
	e.Type, _ = raw["type"].(string)
	e.Summary, _ = raw["summary"].(string)
	if data, ok := raw["data"].(map[string]any); ok {
		e.Data = data
	}
	e.UIActions = parseUIActions(raw["ui_actions"])
	return e
}

// ToMap renders the envelope as a plain map, the inverse of
// envelopeFromMap. Used where an envelope flows back through map-typed
// plumbing.
func (e Envelope) ToMap() map[string]any {
	m := map[string]any{
		"ok":      e.OK,
		"type":    e.Type,
		"summary": e.Summary,
	}
	if e.Data != nil {
		m["data"] = e.Data
	}
	if len(e.UIActions) > 0 {
		m["ui_actions"] = e.UIActions
	}
	return m
}
