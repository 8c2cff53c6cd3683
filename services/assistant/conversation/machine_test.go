// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PeterGuk540/aristai-sub000/services/assistant/actions"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/coordinator"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/dispatch"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/results"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/tools"
)

type machineHarness struct {
	machine *Machine
	store   *actions.MemoryStore

	createCalls  atomic.Int32
	flakyCalls   atomic.Int32
	failuresLeft atomic.Int32
}

func newMachineHarness(t *testing.T, opts ...MachineOption) *machineHarness {
	t.Helper()

	h := &machineHarness{}
	reg := tools.NewRegistry()

	courseSchema := tools.NewSchema(
		tools.Field{Name: "title", Type: tools.FieldTypeString, Required: true, Prompt: "What is the course title?"},
		tools.Field{Name: "subject", Type: tools.FieldTypeString, Required: true, Prompt: "Which subject?"},
		tools.Field{Name: "capacity", Type: tools.FieldTypeInt, Prompt: "How many seats? (optional)"},
	)

	reg.MustRegister(tools.Descriptor{
		Name:        "create_course",
		Description: "Create a course.",
		Schema:      courseSchema,
		Mode:        tools.ModeWrite,
		Category:    "courses",
		Handler: tools.HandlerFunc(func(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
			h.createCalls.Add(1)
			return &tools.Result{
				Success: true,
				Output: map[string]any{
					"course_id": "c-1",
					"message":   "Created the course.",
				},
			}, nil
		}),
	})

	reg.MustRegister(tools.Descriptor{
		Name:        "flaky_write",
		Description: "Write against an unreliable backend.",
		Schema:      tools.NewSchema(),
		Mode:        tools.ModeWrite,
		Category:    "courses",
		Handler: tools.HandlerFunc(func(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
			h.flakyCalls.Add(1)
			if h.failuresLeft.Add(-1) >= 0 {
				return nil, errors.New("backend unavailable")
			}
			return &tools.Result{
				Success: true,
				Output:  map[string]any{"message": "Write landed."},
			}, nil
		}),
	})

	reg.MustRegister(tools.Descriptor{
		Name:        "list_courses",
		Description: "List courses.",
		Schema:      tools.NewSchema(),
		Mode:        tools.ModeRead,
		Category:    "courses",
		Handler: tools.HandlerFunc(func(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
			return &tools.Result{
				Success: true,
				Output: map[string]any{
					"message": "You have 2 courses.",
					"courses": []any{"History", "Physics"},
				},
			}, nil
		}),
	})

	reg.MustRegister(tools.Descriptor{
		Name:        "broken_read",
		Description: "Read from an offline index.",
		Schema:      tools.NewSchema(),
		Mode:        tools.ModeRead,
		Category:    "courses",
		Handler: tools.HandlerFunc(func(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
			return nil, errors.New("index offline")
		}),
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.store = actions.NewMemoryStore()
	disp := dispatch.NewDispatcher(reg, nil, dispatch.WithLogger(logger))
	coord := coordinator.New(reg, h.store, disp, time.Minute, logger)
	machineOpts := append([]MachineOption{WithLogger(logger)}, opts...)
	h.machine = NewMachine(reg, coord, disp, machineOpts...)
	return h
}

// walkToConfirmation drives a create_course form up to the confirmation ask.
func walkToConfirmation(t *testing.T, h *machineHarness, conv *Conversation) Reply {
	t.Helper()
	ctx := context.Background()

	_, err := h.machine.StartForm(ctx, conv, "create_course")
	require.NoError(t, err)
	_, err = h.machine.HandleInput(ctx, conv, "History")
	require.NoError(t, err)
	_, err = h.machine.HandleInput(ctx, conv, "Social Studies")
	require.NoError(t, err)
	reply, err := h.machine.HandleInput(ctx, conv, "skip")
	require.NoError(t, err)
	require.Equal(t, StateAwaitingConfirmation, reply.State)
	return reply
}

func TestStartFormPromptsInDeclaredOrder(t *testing.T) {
	h := newMachineHarness(t)
	conv := NewConversation("u-1")
	ctx := context.Background()

	reply, err := h.machine.StartForm(ctx, conv, "create_course")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingFieldInput, reply.State)
	assert.Equal(t, "What is the course title?", reply.Text)

	reply, err = h.machine.HandleInput(ctx, conv, "History")
	require.NoError(t, err)
	assert.Equal(t, "Which subject?", reply.Text)

	reply, err = h.machine.HandleInput(ctx, conv, "Social Studies")
	require.NoError(t, err)
	assert.Equal(t, "How many seats? (optional)", reply.Text)
}

func TestRequiredFieldSkipReprompts(t *testing.T) {
	h := newMachineHarness(t)
	conv := NewConversation("u-1")
	ctx := context.Background()

	first, err := h.machine.StartForm(ctx, conv, "create_course")
	require.NoError(t, err)

	t.Run("skip phrase", func(t *testing.T) {
		reply, err := h.machine.HandleInput(ctx, conv, "skip")
		require.NoError(t, err)
		assert.Equal(t, first.Text, reply.Text)
		assert.Equal(t, StateAwaitingFieldInput, reply.State)
	})

	t.Run("empty answer", func(t *testing.T) {
		reply, err := h.machine.HandleInput(ctx, conv, "   ")
		require.NoError(t, err)
		assert.Equal(t, first.Text, reply.Text)
	})

	t.Run("real answer advances", func(t *testing.T) {
		reply, err := h.machine.HandleInput(ctx, conv, "History")
		require.NoError(t, err)
		assert.Equal(t, "Which subject?", reply.Text)
	})
}

func TestOptionalFieldSkipAdvances(t *testing.T) {
	h := newMachineHarness(t)
	conv := NewConversation("u-1")

	reply := walkToConfirmation(t, h, conv)

	assert.Equal(t, `Ready to submit. will create 1 course titled "History" Confirm? (yes/no)`, reply.Text)
	require.NotNil(t, reply.Envelope)
	assert.True(t, reply.Envelope.OK)
	assert.Equal(t, results.TypePlan, reply.Envelope.Type)
	assert.NotEmpty(t, reply.Envelope.Data["action_id"])

	act, err := h.store.Get(context.Background(), reply.Envelope.Data["action_id"].(string))
	require.NoError(t, err)
	_, present := act.Args["capacity"]
	assert.False(t, present, "skipped optional field must not appear in args")
}

func TestFormTypeChecksAnswers(t *testing.T) {
	h := newMachineHarness(t)
	conv := NewConversation("u-1")
	ctx := context.Background()

	_, err := h.machine.StartForm(ctx, conv, "create_course")
	require.NoError(t, err)
	_, err = h.machine.HandleInput(ctx, conv, "History")
	require.NoError(t, err)
	_, err = h.machine.HandleInput(ctx, conv, "Social Studies")
	require.NoError(t, err)

	reply, err := h.machine.HandleInput(ctx, conv, "a few")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "whole number")
	assert.Contains(t, reply.Text, "How many seats?")
	assert.Equal(t, StateAwaitingFieldInput, reply.State)

	reply, err = h.machine.HandleInput(ctx, conv, "25")
	require.NoError(t, err)
	require.Equal(t, StateAwaitingConfirmation, reply.State)

	act, err := h.store.Get(ctx, reply.Envelope.Data["action_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, int64(25), act.Args["capacity"])
}

func TestConfirmationYesExecutes(t *testing.T) {
	h := newMachineHarness(t)
	conv := NewConversation("u-1")
	ctx := context.Background()

	walkToConfirmation(t, h, conv)

	reply, err := h.machine.HandleInput(ctx, conv, "yes")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, reply.State)
	require.NotNil(t, reply.Envelope)
	assert.True(t, reply.Envelope.OK)
	assert.Equal(t, "Created the course.", reply.Envelope.Summary)
	assert.Equal(t, int32(1), h.createCalls.Load())

	id, ok := conv.AnchorFor("course")
	assert.True(t, ok)
	assert.Equal(t, "c-1", id)
}

func TestConfirmationNoCancels(t *testing.T) {
	h := newMachineHarness(t)
	conv := NewConversation("u-1")
	ctx := context.Background()

	staged := walkToConfirmation(t, h, conv)
	actionID := staged.Envelope.Data["action_id"].(string)

	reply, err := h.machine.HandleInput(ctx, conv, "no")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, reply.State)
	assert.Equal(t, "Cancelled. Nothing was changed.", reply.Text)
	assert.Equal(t, int32(0), h.createCalls.Load(), "cancel must never invoke the handler")

	act, err := h.store.Get(ctx, actionID)
	require.NoError(t, err)
	assert.Equal(t, actions.StatusCancelled, act.Status)
}

func TestConfirmationUnrecognizedReasks(t *testing.T) {
	h := newMachineHarness(t)
	conv := NewConversation("u-1")
	ctx := context.Background()

	walkToConfirmation(t, h, conv)

	reply, err := h.machine.HandleInput(ctx, conv, "maybe later")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingConfirmation, reply.State)
	assert.Contains(t, reply.Text, "yes or no")
	assert.Contains(t, reply.Text, `will create 1 course titled "History"`)
	assert.Equal(t, int32(0), h.createCalls.Load())

	reply, err = h.machine.HandleInput(ctx, conv, "yes")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, reply.State)
	assert.Equal(t, int32(1), h.createCalls.Load())
}

func TestPhraseSourceSwapsBetweenTurns(t *testing.T) {
	var phrases atomic.Value
	phrases.Store(DefaultPhrases())

	h := newMachineHarness(t, WithPhraseSource(func() Phrases {
		return phrases.Load().(Phrases)
	}))
	conv := NewConversation("u-1")
	ctx := context.Background()

	walkToConfirmation(t, h, conv)

	// "aye" is not in the default affirmative set, so the machine re-asks.
	reply, err := h.machine.HandleInput(ctx, conv, "aye")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingConfirmation, reply.State)
	assert.Equal(t, int32(0), h.createCalls.Load())

	// Swap the source mid-conversation; the next turn sees the new set.
	custom := DefaultPhrases()
	custom.Affirmative = append(custom.Affirmative, "aye")
	phrases.Store(custom)

	reply, err = h.machine.HandleInput(ctx, conv, "aye")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, reply.State)
	assert.Equal(t, int32(1), h.createCalls.Load())
}

func TestWriteToolStagesViaRunTool(t *testing.T) {
	h := newMachineHarness(t)
	conv := NewConversation("u-1")
	ctx := context.Background()

	reply, err := h.machine.RunTool(ctx, conv, "create_course", map[string]any{
		"title":   "History",
		"subject": "Social Studies",
	})
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingConfirmation, reply.State)
	assert.Equal(t, `will create 1 course titled "History" Confirm? (yes/no)`, reply.Text)
	assert.Equal(t, int32(0), h.createCalls.Load())
}

func TestReadToolRunsImmediately(t *testing.T) {
	h := newMachineHarness(t)
	conv := NewConversation("u-1")
	ctx := context.Background()

	reply, err := h.machine.RunTool(ctx, conv, "list_courses", nil)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, reply.State)
	require.NotNil(t, reply.Envelope)
	assert.True(t, reply.Envelope.OK)
	assert.Equal(t, "You have 2 courses.", reply.Envelope.Summary)
}

func TestRunToolValidationFailureIsConversational(t *testing.T) {
	h := newMachineHarness(t)
	conv := NewConversation("u-1")
	ctx := context.Background()

	reply, err := h.machine.RunTool(ctx, conv, "create_course", map[string]any{"subject": "Math"})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, reply.State)
	require.NotNil(t, reply.Envelope)
	assert.False(t, reply.Envelope.OK)
	assert.Contains(t, reply.Text, `"title"`)
	assert.Contains(t, reply.Text, "is required")
}

func TestRunToolUnknownToolIsConversational(t *testing.T) {
	h := newMachineHarness(t)
	conv := NewConversation("u-1")

	reply, err := h.machine.RunTool(context.Background(), conv, "launch_rocket", nil)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, reply.State)
	require.NotNil(t, reply.Envelope)
	assert.False(t, reply.Envelope.OK)
	assert.Contains(t, reply.Text, "launch rocket")
}

func TestRetrySucceedsOnGoAhead(t *testing.T) {
	h := newMachineHarness(t)
	conv := NewConversation("u-1")
	ctx := context.Background()

	h.failuresLeft.Store(1)
	reply, err := h.machine.RunTool(ctx, conv, "flaky_write", nil)
	require.NoError(t, err)
	require.Equal(t, StateAwaitingConfirmation, reply.State)

	reply, err = h.machine.HandleInput(ctx, conv, "yes")
	require.NoError(t, err)
	assert.Equal(t, StateErrorRetry, reply.State)
	assert.Contains(t, reply.Text, "backend unavailable")
	assert.Contains(t, reply.Text, "Try again?")

	reply, err = h.machine.HandleInput(ctx, conv, "yes")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, reply.State)
	require.NotNil(t, reply.Envelope)
	assert.True(t, reply.Envelope.OK)
	assert.Equal(t, "Write landed.", reply.Envelope.Summary)
	assert.Equal(t, int32(2), h.flakyCalls.Load())
	assert.Zero(t, conv.Retries)
	assert.Nil(t, conv.LastStep)
}

func TestRetryExhaustsAtCeiling(t *testing.T) {
	h := newMachineHarness(t)
	conv := NewConversation("u-1")
	ctx := context.Background()

	h.failuresLeft.Store(10)
	_, err := h.machine.RunTool(ctx, conv, "flaky_write", nil)
	require.NoError(t, err)

	reply, err := h.machine.HandleInput(ctx, conv, "yes")
	require.NoError(t, err)
	require.Equal(t, StateErrorRetry, reply.State)

	reply, err = h.machine.HandleInput(ctx, conv, "yes")
	require.NoError(t, err)
	require.Equal(t, StateErrorRetry, reply.State)

	reply, err = h.machine.HandleInput(ctx, conv, "yes")
	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, StateIdle, reply.State)
	assert.Contains(t, reply.Text, "3 attempts")
	assert.Contains(t, reply.Text, "backend unavailable")
	require.NotNil(t, reply.Envelope)
	assert.False(t, reply.Envelope.OK)
	assert.Equal(t, "backend unavailable", reply.Envelope.Summary)
	assert.Equal(t, int32(3), h.flakyCalls.Load())
	assert.Equal(t, StateIdle, conv.State)
}

func TestRetryDeclinedLeavesIdle(t *testing.T) {
	h := newMachineHarness(t)
	conv := NewConversation("u-1")
	ctx := context.Background()

	h.failuresLeft.Store(10)
	_, err := h.machine.RunTool(ctx, conv, "flaky_write", nil)
	require.NoError(t, err)

	reply, err := h.machine.HandleInput(ctx, conv, "yes")
	require.NoError(t, err)
	require.Equal(t, StateErrorRetry, reply.State)

	reply, err = h.machine.HandleInput(ctx, conv, "no")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, reply.State)
	assert.Equal(t, "Okay, leaving it. Nothing was changed.", reply.Text)
	assert.Equal(t, int32(1), h.flakyCalls.Load())
}

func TestReadFailureOffersRetry(t *testing.T) {
	h := newMachineHarness(t)
	conv := NewConversation("u-1")
	ctx := context.Background()

	reply, err := h.machine.RunTool(ctx, conv, "broken_read", nil)
	require.NoError(t, err)
	assert.Equal(t, StateErrorRetry, reply.State)
	assert.Contains(t, reply.Text, "index offline")

	reply, err = h.machine.HandleInput(ctx, conv, "nah, what was the error again")
	require.NoError(t, err)
	assert.Equal(t, StateErrorRetry, reply.State)
	assert.Contains(t, reply.Text, "index offline")

	reply, err = h.machine.HandleInput(ctx, conv, "no")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, reply.State)
}

func TestDropdownSelectionFlows(t *testing.T) {
	options := []string{"Biology", "Chemistry", "Physics"}

	t.Run("ordinal selects", func(t *testing.T) {
		h := newMachineHarness(t)
		conv := NewConversation("u-1")
		_, err := h.machine.OpenDropdown(conv, "subject", options, "")
		require.NoError(t, err)

		reply, err := h.machine.HandleInput(context.Background(), conv, "2")
		require.NoError(t, err)
		assert.Equal(t, StateIdle, reply.State)
		require.NotNil(t, reply.Envelope)
		assert.Equal(t, "Chemistry", reply.Envelope.Data["selection"])
	})

	t.Run("substring selects", func(t *testing.T) {
		h := newMachineHarness(t)
		conv := NewConversation("u-1")
		_, err := h.machine.OpenDropdown(conv, "subject", options, "")
		require.NoError(t, err)

		reply, err := h.machine.HandleInput(context.Background(), conv, "chem")
		require.NoError(t, err)
		assert.Equal(t, "Chemistry", reply.Envelope.Data["selection"])
	})

	t.Run("unresolved re-presents the list", func(t *testing.T) {
		h := newMachineHarness(t)
		conv := NewConversation("u-1")
		_, err := h.machine.OpenDropdown(conv, "subject", options, "")
		require.NoError(t, err)

		reply, err := h.machine.HandleInput(context.Background(), conv, "Math")
		require.NoError(t, err)
		assert.Equal(t, StateAwaitingDropdownSelection, reply.State)
		assert.Equal(t, options, reply.Options)
		assert.Contains(t, reply.Text, "1. Biology")
		assert.Contains(t, reply.Text, "3. Physics")
	})
}

func TestDropdownFillsFormField(t *testing.T) {
	h := newMachineHarness(t)
	conv := NewConversation("u-1")
	ctx := context.Background()

	_, err := h.machine.StartForm(ctx, conv, "create_course")
	require.NoError(t, err)
	_, err = h.machine.HandleInput(ctx, conv, "History")
	require.NoError(t, err)

	_, err = h.machine.OpenDropdown(conv, "subject", []string{"Biology", "Chemistry", "Physics"}, "subject")
	require.NoError(t, err)

	reply, err := h.machine.HandleInput(ctx, conv, "3")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingFieldInput, reply.State)
	assert.Contains(t, reply.Text, "Got it: Physics.")
	assert.Contains(t, reply.Text, "How many seats?")

	reply, err = h.machine.HandleInput(ctx, conv, "skip")
	require.NoError(t, err)
	require.Equal(t, StateAwaitingConfirmation, reply.State)

	act, err := h.store.Get(ctx, reply.Envelope.Data["action_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "Physics", act.Args["subject"])
}

func TestIdleCommands(t *testing.T) {
	h := newMachineHarness(t)
	ctx := context.Background()

	t.Run("start form", func(t *testing.T) {
		conv := NewConversation("u-1")
		reply, err := h.machine.HandleInput(ctx, conv, "start form create_course")
		require.NoError(t, err)
		assert.Equal(t, StateAwaitingFieldInput, reply.State)
		assert.Equal(t, "What is the course title?", reply.Text)
	})

	t.Run("open dropdown keeps option casing", func(t *testing.T) {
		conv := NewConversation("u-1")
		reply, err := h.machine.HandleInput(ctx, conv, "open dropdown subject: Biology, Chemistry, Physics")
		require.NoError(t, err)
		assert.Equal(t, StateAwaitingDropdownSelection, reply.State)
		assert.Equal(t, []string{"Biology", "Chemistry", "Physics"}, reply.Options)
	})

	t.Run("chatter stays idle", func(t *testing.T) {
		conv := NewConversation("u-1")
		reply, err := h.machine.HandleInput(ctx, conv, "hello there")
		require.NoError(t, err)
		assert.Equal(t, StateIdle, reply.State)
		assert.Contains(t, reply.Text, "Nothing is in progress")
	})
}

func TestStartFormRejectsUnknownAndReadTools(t *testing.T) {
	h := newMachineHarness(t)
	ctx := context.Background()

	t.Run("unknown tool", func(t *testing.T) {
		conv := NewConversation("u-1")
		reply, err := h.machine.StartForm(ctx, conv, "bake_bread")
		require.NoError(t, err)
		assert.Equal(t, StateIdle, reply.State)
		require.NotNil(t, reply.Envelope)
		assert.False(t, reply.Envelope.OK)
	})

	t.Run("read tool has no form", func(t *testing.T) {
		conv := NewConversation("u-1")
		reply, err := h.machine.StartForm(ctx, conv, "list_courses")
		require.NoError(t, err)
		assert.Equal(t, StateIdle, reply.State)
		assert.Contains(t, reply.Text, "runs immediately")
	})
}
