// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package coordinator implements the two-phase write protocol: plan stores a
// previewed intent, confirm executes it exactly once for its owner, cancel
// retires it without side effects.
//
// Per-action state machine:
//
//	planned → executed   confirm by the owner while planned and not expired
//	planned → cancelled  explicit cancel by the owner
//	planned → failed     confirm attempted, handler faulted
//	planned → (evicted)  TTL elapses with no confirm/cancel — terminal by omission
//
// Confirm is not idempotent on success: a second confirm on an executed
// action fails with "already executed" rather than replaying a cached
// result. Cancel never interrupts an in-flight confirm; a confirm/cancel
// race is resolved by whichever terminal write lands first, and the loser
// fails cleanly on the status check.
//
// Thread Safety:
//
//	All exported types are safe for concurrent use.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/PeterGuk540/aristai-sub000/services/assistant/actions"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/dispatch"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/tools"
)

// coordinatorTracer is the package-level tracer for plan/confirm/cancel spans.
var coordinatorTracer = otel.Tracer("assistant.coordinator")

// ErrNotWritable is returned when plan is called with a read-mode tool.
// Read tools execute immediately through the dispatcher and are never staged.
var ErrNotWritable = errors.New("coordinator: tool is not a write tool")

// Coordinator drives the plan/confirm/cancel lifecycle over an action store
// and the execution dispatcher.
type Coordinator struct {
	registry   *tools.Registry
	store      actions.Store
	dispatcher *dispatch.Dispatcher
	ttl        time.Duration
	logger     *slog.Logger
}

// New creates a Coordinator.
//
// Inputs:
//
//   - registry: Tool catalog, consulted at plan and again at confirm (the
//     action holds the tool by name only).
//   - store: Action persistence. Must not be nil.
//   - dispatcher: Executes the real handler on confirm. Must not be nil.
//   - ttl: Lifetime of planned actions. Non-positive falls back to
//     actions.DefaultTTL.
//   - logger: May be nil.
func New(registry *tools.Registry, store actions.Store, dispatcher *dispatch.Dispatcher, ttl time.Duration, logger *slog.Logger) *Coordinator {
	if registry == nil {
		panic("coordinator.New: registry must not be nil")
	}
	if store == nil {
		panic("coordinator.New: store must not be nil")
	}
	if dispatcher == nil {
		panic("coordinator.New: dispatcher must not be nil")
	}
	if ttl <= 0 {
		ttl = actions.DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		registry:   registry,
		store:      store,
		dispatcher: dispatcher,
		ttl:        ttl,
		logger:     logger,
	}
}

// Plan stages a write-mode tool call.
//
// Description:
//
//	Rejects unknown and read-mode tools outright, validates the arguments
//	so a doomed action is never stored, derives the deterministic preview,
//	and persists the action with status planned and the configured TTL.
//	Nothing executes — the returned action id is the handle a later
//	confirm or cancel must present.
//
// Outputs:
//
//   - *actions.Action: The stored action, including id and preview.
//   - error: tools.ErrUnknownTool, ErrNotWritable, or *tools.ValidationError.
func (c *Coordinator) Plan(ctx context.Context, toolName string, args map[string]any, owner string) (*actions.Action, error) {
	ctx, span := coordinatorTracer.Start(ctx, "coordinator.Plan",
		trace.WithAttributes(attribute.String("tool.name", toolName)))
	defer span.End()

	desc, err := c.registry.Lookup(toolName)
	if err != nil {
		RecordCoordinatorOp("plan", "rejected")
		return nil, err
	}
	if desc.Mode != tools.ModeWrite {
		RecordCoordinatorOp("plan", "rejected")
		return nil, fmt.Errorf("%w: %s", ErrNotWritable, toolName)
	}
	if err := desc.Schema.Validate(desc.Name, args); err != nil {
		RecordCoordinatorOp("plan", "rejected")
		return nil, err
	}

	preview := BuildPreview(desc, args)
	action, err := c.store.Create(ctx, owner, desc.Name, args, preview, c.ttl)
	if err != nil {
		RecordCoordinatorOp("plan", "error")
		return nil, fmt.Errorf("coordinator: store action: %w", err)
	}
	RecordCoordinatorOp("plan", "ok")

	c.logger.Info("write action planned",
		slog.String("action_id", action.ID),
		slog.String("tool", desc.Name),
		slog.String("owner", action.Owner),
		slog.Time("expires_at", action.ExpiresAt),
	)
	span.SetAttributes(attribute.String("action.id", action.ID))
	return action, nil
}

// Confirm executes a planned action exactly once for its owner.
//
// Description:
//
//	Loads the action, checks ownership and that it is still planned, then
//	dispatches the real handler. The terminal status and result are written
//	back in one read-modify-write cycle; a confirm that loses a race to
//	another terminal write detects the non-planned status there and fails
//	with *actions.InvalidStateError rather than double-applying.
//
//	A handler fault marks the action failed with the raw message retained
//	in its result, and the fault is returned as *dispatch.HandlerError
//	alongside the terminal action so callers can surface both.
//
// Outputs:
//
//   - *actions.Action: The action in its terminal state, when one was
//     reached. Nil when confirm never got that far (not found, ownership,
//     invalid state).
//   - error: actions.ErrNotFound, actions.ErrNotOwner,
//     *actions.InvalidStateError, tools.ErrUnknownTool (descriptor vanished),
//     or *dispatch.HandlerError.
func (c *Coordinator) Confirm(ctx context.Context, actionID, actor string) (*actions.Action, error) {
	ctx, span := coordinatorTracer.Start(ctx, "coordinator.Confirm",
		trace.WithAttributes(attribute.String("action.id", actionID)))
	defer span.End()

	action, err := c.store.Get(ctx, actionID)
	if err != nil {
		RecordCoordinatorOp("confirm", "miss")
		return nil, err
	}
	if err := action.EnsureOwner(actor); err != nil {
		// Never disclose the action's tool or arguments to a non-owner.
		c.logger.Warn("confirm denied: ownership mismatch",
			slog.String("action_id", actionID),
		)
		RecordCoordinatorOp("confirm", "denied")
		return nil, err
	}
	if action.Status != actions.StatusPlanned {
		RecordCoordinatorOp("confirm", "invalid_state")
		return nil, &actions.InvalidStateError{ID: action.ID, Status: action.Status}
	}

	// The action references its tool by name only. If the descriptor is
	// gone the action can never succeed: retire it and report cleanly.
	if _, lookupErr := c.registry.Lookup(action.Tool); lookupErr != nil {
		failed, uerr := c.terminalize(ctx, action.ID, actions.StatusFailed,
			map[string]any{"error": lookupErr.Error()})
		if uerr != nil {
			return nil, uerr
		}
		RecordCoordinatorOp("confirm", "failed")
		return failed, lookupErr
	}

	result, execErr := c.dispatcher.Invoke(ctx, &tools.Invocation{
		ID:    action.ID,
		Tool:  action.Tool,
		Args:  action.Args,
		Actor: action.Owner,
	})

	switch {
	case execErr != nil:
		var herr *dispatch.HandlerError
		if !errors.As(execErr, &herr) {
			// Validation and unknown-tool errors were already ruled out at
			// plan time; anything else arriving here is a fault.
			herr = &dispatch.HandlerError{Tool: action.Tool, Cause: execErr}
		}
		failed, uerr := c.terminalize(ctx, action.ID, actions.StatusFailed,
			map[string]any{"error": herr.Cause.Error()})
		if uerr != nil {
			return nil, uerr
		}
		c.logger.Warn("confirm failed: handler fault",
			slog.String("action_id", action.ID),
			slog.String("tool", action.Tool),
			slog.String("error", herr.Cause.Error()),
		)
		RecordCoordinatorOp("confirm", "failed")
		return failed, herr

	case result != nil && !result.Success:
		failed, uerr := c.terminalize(ctx, action.ID, actions.StatusFailed,
			map[string]any{"error": result.Error})
		if uerr != nil {
			return nil, uerr
		}
		RecordCoordinatorOp("confirm", "failed")
		return failed, &dispatch.HandlerError{Tool: action.Tool, Cause: errors.New(result.Error)}

	default:
		var output map[string]any
		if result != nil {
			output = result.Output
		}
		executed, uerr := c.terminalize(ctx, action.ID, actions.StatusExecuted, output)
		if uerr != nil {
			if errors.Is(uerr, actions.ErrNotFound) {
				// The TTL elapsed while the handler ran. The write landed;
				// only the record is gone. Best-effort protocol: report the
				// execution, accept that a later get will miss.
				c.logger.Warn("action expired during confirm; result not recorded",
					slog.String("action_id", action.ID),
					slog.String("tool", action.Tool),
				)
				action.Status = actions.StatusExecuted
				action.Result = output
				RecordCoordinatorOp("confirm", "ok")
				return action, nil
			}
			return nil, uerr
		}
		c.logger.Info("write action executed",
			slog.String("action_id", executed.ID),
			slog.String("tool", executed.Tool),
			slog.String("owner", executed.Owner),
		)
		RecordCoordinatorOp("confirm", "ok")
		return executed, nil
	}
}

// Cancel retires a planned action without invoking its handler.
//
// Outputs:
//
//   - *actions.Action: The cancelled action.
//   - error: actions.ErrNotFound, actions.ErrNotOwner, or
//     *actions.InvalidStateError when the action already reached a terminal
//     state.
func (c *Coordinator) Cancel(ctx context.Context, actionID, actor string) (*actions.Action, error) {
	ctx, span := coordinatorTracer.Start(ctx, "coordinator.Cancel",
		trace.WithAttributes(attribute.String("action.id", actionID)))
	defer span.End()

	action, err := c.store.Get(ctx, actionID)
	if err != nil {
		RecordCoordinatorOp("cancel", "miss")
		return nil, err
	}
	if err := action.EnsureOwner(actor); err != nil {
		c.logger.Warn("cancel denied: ownership mismatch",
			slog.String("action_id", actionID),
		)
		RecordCoordinatorOp("cancel", "denied")
		return nil, err
	}

	cancelled, err := c.terminalize(ctx, actionID, actions.StatusCancelled, nil)
	if err != nil {
		var ise *actions.InvalidStateError
		if errors.As(err, &ise) {
			RecordCoordinatorOp("cancel", "invalid_state")
		} else {
			RecordCoordinatorOp("cancel", "error")
		}
		return nil, err
	}
	c.logger.Info("write action cancelled",
		slog.String("action_id", cancelled.ID),
		slog.String("tool", cancelled.Tool),
		slog.String("owner", cancelled.Owner),
	)
	RecordCoordinatorOp("cancel", "ok")
	return cancelled, nil
}

// Peek returns an ownership-checked view of an action plus its remaining
// lifetime, for callers showing a pending confirmation.
func (c *Coordinator) Peek(ctx context.Context, actionID, actor string) (*actions.Action, time.Duration, error) {
	action, err := c.store.Get(ctx, actionID)
	if err != nil {
		return nil, 0, err
	}
	if err := action.EnsureOwner(actor); err != nil {
		return nil, 0, err
	}
	remaining, err := c.store.RemainingTTL(ctx, actionID)
	if err != nil {
		return nil, 0, err
	}
	return action, remaining, nil
}

// terminalize writes a terminal transition through the store's
// read-modify-write cycle. The transition rule runs inside the mutate
// callback, so a raced non-planned status surfaces as *InvalidStateError
// without any write.
func (c *Coordinator) terminalize(ctx context.Context, actionID string, next actions.Status, result map[string]any) (*actions.Action, error) {
	updated, err := c.store.Update(ctx, actionID, func(a *actions.Action) error {
		return a.Transition(next, result)
	})
	if err != nil {
		return nil, err
	}
	actions.RecordActionTransition(next)
	return updated, nil
}
