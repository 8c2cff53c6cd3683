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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		raw  map[string]any
		want Variant
	}{
		{
			name: "envelope shape passes through",
			raw:  map[string]any{"ok": true, "type": "result", "summary": "done"},
			want: VariantEnvelope,
		},
		{
			name: "error key",
			raw:  map[string]any{"error": "boom", "message": "ignored"},
			want: VariantError,
		},
		{
			name: "requires_confirmation",
			raw:  map[string]any{"requires_confirmation": true},
			want: VariantPlan,
		},
		{
			name: "action_id",
			raw:  map[string]any{"action_id": "a-1"},
			want: VariantPlan,
		},
		{
			name: "message",
			raw:  map[string]any{"message": "Created course History."},
			want: VariantMessage,
		},
		{
			name: "voice_response",
			raw:  map[string]any{"voice_response": "Done!"},
			want: VariantMessage,
		},
		{
			name: "anything else",
			raw:  map[string]any{"count": 3},
			want: VariantRaw,
		},
		{
			name: "false requires_confirmation is not a plan",
			raw:  map[string]any{"requires_confirmation": false, "count": 1},
			want: VariantRaw,
		},
		{
			name: "envelope shape with bad type string is not an envelope",
			raw:  map[string]any{"ok": true, "type": "banana", "summary": "x"},
			want: VariantRaw,
		},
		{
			name: "empty error string is not an error",
			raw:  map[string]any{"error": ""},
			want: VariantRaw,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.raw))
		})
	}
}

func TestNormalizeError(t *testing.T) {
	env := Normalize("create_course", map[string]any{"error": "duplicate title"})
	assert.False(t, env.OK)
	assert.Equal(t, TypeError, env.Type)
	assert.Equal(t, "duplicate title", env.Summary)
}

func TestNormalizePlan(t *testing.T) {
	raw := map[string]any{
		"requires_confirmation": true,
		"action_id":             "a-1",
		"preview": map[string]any{
			"summary": `will create 1 course titled "History"`,
		},
	}
	env := Normalize("create_course", raw)
	assert.True(t, env.OK)
	assert.Equal(t, TypePlan, env.Type)
	assert.Equal(t, `will create 1 course titled "History"`, env.Summary)
	assert.Equal(t, "a-1", env.Data["action_id"])
}

func TestNormalizePlanWithoutPreview(t *testing.T) {
	env := Normalize("delete_course", map[string]any{"action_id": "a-2"})
	assert.Equal(t, TypePlan, env.Type)
	assert.Equal(t, "delete_course requires confirmation.", env.Summary)
}

func TestNormalizeSummaryPriority(t *testing.T) {
	t.Run("message wins over voice_response", func(t *testing.T) {
		env := Normalize("list_courses", map[string]any{
			"message":        "3 courses found.",
			"voice_response": "You have three courses.",
		})
		assert.Equal(t, "3 courses found.", env.Summary)
	})

	t.Run("voice_response when no message", func(t *testing.T) {
		env := Normalize("list_courses", map[string]any{
			"voice_response": "You have three courses.",
		})
		assert.Equal(t, "You have three courses.", env.Summary)
	})

	t.Run("generic fallback names the tool", func(t *testing.T) {
		env := Normalize("list_courses", map[string]any{"count": 3})
		assert.Equal(t, "list_courses completed.", env.Summary)
		assert.Equal(t, 3, env.Data["count"])
	})

	t.Run("nil output is a bare completion", func(t *testing.T) {
		env := Normalize("cancel_action", nil)
		assert.True(t, env.OK)
		assert.Equal(t, "cancel_action completed.", env.Summary)
		assert.Nil(t, env.Data)
	})
}

func TestNormalizeIdempotent(t *testing.T) {
	raws := []map[string]any{
		{"error": "boom"},
		{"message": "done", "path": "/courses/1"},
		{"action_id": "a-1", "requires_confirmation": true},
		{"count": 7},
		nil,
	}
	for _, raw := range raws {
		first := Normalize("some_tool", raw)
		second := Normalize("some_tool", first.ToMap())
		assert.Equal(t, first, second, "re-normalizing must yield the identical envelope (raw=%v)", raw)
	}
}

func TestNormalizeUIActions(t *testing.T) {
	t.Run("synthesizes navigation from path", func(t *testing.T) {
		env := Normalize("create_course", map[string]any{
			"message": "Created.",
			"path":    "/courses/c-1",
		})
		require.Len(t, env.UIActions, 1)
		assert.Equal(t, UIAction{Type: "navigate", Path: "/courses/c-1"}, env.UIActions[0])
	})

	t.Run("preserves handler ui_actions", func(t *testing.T) {
		env := Normalize("create_course", map[string]any{
			"message": "Created.",
			"ui_actions": []any{
				map[string]any{"type": "toast", "label": "Course created"},
			},
		})
		require.Len(t, env.UIActions, 1)
		assert.Equal(t, "toast", env.UIActions[0].Type)
	})

	t.Run("dedupes synthesized navigation against preserved one", func(t *testing.T) {
		env := Normalize("create_course", map[string]any{
			"message": "Created.",
			"path":    "/courses/c-1",
			"ui_actions": []any{
				map[string]any{"type": "navigate", "path": "/courses/c-1"},
			},
		})
		require.Len(t, env.UIActions, 1, "identical navigation must not be duplicated")
	})

	t.Run("different path still synthesizes", func(t *testing.T) {
		env := Normalize("create_course", map[string]any{
			"message": "Created.",
			"path":    "/courses/c-1",
			"ui_actions": []any{
				map[string]any{"type": "navigate", "path": "/home"},
			},
		})
		assert.Len(t, env.UIActions, 2)
	})
}

func TestErrorHelper(t *testing.T) {
	env := Error("tool rate limit exceeded")
	assert.False(t, env.OK)
	assert.Equal(t, TypeError, env.Type)
	assert.Equal(t, "tool rate limit exceeded", env.Summary)
}

func TestNormalizeDoesNotMutateRaw(t *testing.T) {
	raw := map[string]any{"message": "done", "path": "/x"}
	_ = Normalize("t", raw)
	assert.Equal(t, map[string]any{"message": "done", "path": "/x"}, raw)
}
