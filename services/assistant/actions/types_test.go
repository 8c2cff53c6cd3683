// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package actions

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plannedAction() *Action {
	return &Action{
		ID:     NewActionID(),
		Owner:  "1",
		Tool:   "create_course",
		Args:   map[string]any{"title": "History"},
		Status: StatusPlanned,
	}
}

func TestTransition(t *testing.T) {
	t.Run("planned to executed carries result", func(t *testing.T) {
		a := plannedAction()
		err := a.Transition(StatusExecuted, map[string]any{"course_id": "c-1"})
		require.NoError(t, err)
		assert.Equal(t, StatusExecuted, a.Status)
		assert.Equal(t, "c-1", a.Result["course_id"])
	})

	t.Run("planned to cancelled has no result", func(t *testing.T) {
		a := plannedAction()
		require.NoError(t, a.Transition(StatusCancelled, nil))
		assert.Equal(t, StatusCancelled, a.Status)
		assert.Nil(t, a.Result)
	})

	t.Run("second transition on executed is already executed", func(t *testing.T) {
		a := plannedAction()
		require.NoError(t, a.Transition(StatusExecuted, nil))

		err := a.Transition(StatusExecuted, nil)
		require.Error(t, err)

		var ise *InvalidStateError
		require.True(t, errors.As(err, &ise), "want *InvalidStateError, got %T", err)
		assert.Equal(t, StatusExecuted, ise.Status)
		assert.Contains(t, err.Error(), "already executed")
	})

	t.Run("cancel after execute is rejected", func(t *testing.T) {
		a := plannedAction()
		require.NoError(t, a.Transition(StatusExecuted, nil))

		err := a.Transition(StatusCancelled, nil)
		var ise *InvalidStateError
		require.True(t, errors.As(err, &ise))
		assert.Contains(t, err.Error(), "already executed")
	})

	t.Run("execute after cancel is rejected", func(t *testing.T) {
		a := plannedAction()
		require.NoError(t, a.Transition(StatusCancelled, nil))

		err := a.Transition(StatusExecuted, nil)
		var ise *InvalidStateError
		require.True(t, errors.As(err, &ise))
		assert.Contains(t, err.Error(), "already cancelled")
	})

	t.Run("backward to planned is rejected", func(t *testing.T) {
		a := plannedAction()
		err := a.Transition(StatusPlanned, nil)
		require.Error(t, err)
		// Still planned: the rejected transition must not corrupt state.
		assert.Equal(t, StatusPlanned, a.Status)
	})
}

func TestEnsureOwner(t *testing.T) {
	t.Run("matching owner passes", func(t *testing.T) {
		a := plannedAction()
		assert.NoError(t, a.EnsureOwner("1"))
	})

	t.Run("mismatched owner is ErrNotOwner", func(t *testing.T) {
		a := plannedAction()
		err := a.EnsureOwner("2")
		require.ErrorIs(t, err, ErrNotOwner)
		// The ownership error must stay distinct from not-found.
		assert.False(t, errors.Is(err, ErrNotFound))
	})

	t.Run("anonymous action confirmable only anonymously", func(t *testing.T) {
		a := plannedAction()
		a.Owner = AnonymousOwner
		assert.NoError(t, a.EnsureOwner(""))
		assert.NoError(t, a.EnsureOwner("   "))
		assert.ErrorIs(t, a.EnsureOwner("1"), ErrNotOwner)
	})

	t.Run("owned action rejects anonymous actor", func(t *testing.T) {
		a := plannedAction()
		assert.ErrorIs(t, a.EnsureOwner(""), ErrNotOwner)
	})
}

func TestNormalizeActor(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", AnonymousOwner},
		{"   ", AnonymousOwner},
		{"1", "1"},
		{" user-7 ", "user-7"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeActor(tc.in), "NormalizeActor(%q)", tc.in)
	}
}

func TestClone(t *testing.T) {
	t.Run("mutating the clone leaves the original intact", func(t *testing.T) {
		a := plannedAction()
		a.Args["nested"] = map[string]any{"k": "v"}
		a.Preview = Preview{
			Summary:  `will create 1 course titled "History"`,
			Affected: map[string]int{"courses": 1},
			Args:     map[string]any{"title": "History"},
		}

		dup := a.Clone()
		dup.Args["title"] = "Altered"
		dup.Args["nested"].(map[string]any)["k"] = "changed"
		dup.Preview.Affected["courses"] = 99

		assert.Equal(t, "History", a.Args["title"])
		assert.Equal(t, "v", a.Args["nested"].(map[string]any)["k"])
		assert.Equal(t, 1, a.Preview.Affected["courses"])
	})

	t.Run("nil action clones to nil", func(t *testing.T) {
		var a *Action
		assert.Nil(t, a.Clone())
	})
}

func TestStatusRoundTrip(t *testing.T) {
	for _, s := range []Status{StatusPlanned, StatusExecuted, StatusCancelled, StatusFailed} {
		parsed, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := ParseStatus("pending")
	assert.Error(t, err)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPlanned.Terminal())
	assert.True(t, StatusExecuted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestNewActionID(t *testing.T) {
	// Unguessable ids must at minimum never collide across a burst.
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewActionID()
		require.NotEmpty(t, id)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
