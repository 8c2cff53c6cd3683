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
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/PeterGuk540/aristai-sub000/services/assistant/actions"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/coordinator"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/dispatch"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/results"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/tools"
)

var conversationTracer = otel.Tracer("assistant.conversation")

// =============================================================================
// Machine Options
// =============================================================================

// MachineOptions configures Machine behavior.
type MachineOptions struct {
	// Phrases are the affirmative, negative, and skip token sets.
	Phrases Phrases

	// PhraseSource, when set, is consulted on every turn instead of
	// Phrases. It lets deployments hot-reload phrase sets without
	// rebuilding the machine.
	PhraseSource func() Phrases

	// MaxRetries caps handler-failure retries per step.
	MaxRetries int

	// Logger receives turn-level events.
	Logger *slog.Logger
}

// DefaultMachineOptions returns the baseline configuration.
func DefaultMachineOptions() MachineOptions {
	return MachineOptions{
		Phrases:    DefaultPhrases(),
		MaxRetries: MaxRetries,
		Logger:     slog.Default(),
	}
}

// MachineOption customizes machine construction.
type MachineOption func(*MachineOptions)

// WithPhrases overrides the built-in phrase sets.
func WithPhrases(p Phrases) MachineOption {
	return func(o *MachineOptions) { o.Phrases = p }
}

// WithPhraseSource supplies the phrase sets dynamically. The source is
// called once per matching decision, so swapping what it returns takes
// effect on the next turn.
func WithPhraseSource(src func() Phrases) MachineOption {
	return func(o *MachineOptions) { o.PhraseSource = src }
}

// WithMaxRetries overrides the retry ceiling.
func WithMaxRetries(n int) MachineOption {
	return func(o *MachineOptions) {
		if n > 0 {
			o.MaxRetries = n
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) MachineOption {
	return func(o *MachineOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}

// =============================================================================
// Machine
// =============================================================================

// Machine advances conversations one turn at a time. It stages writes
// through the coordinator, runs reads through the dispatcher, and owns the
// dialogue rules: declared-order form filling, ordinal-then-substring
// dropdown resolution, explicit confirmation, and bounded retry.
//
// Thread Safety:
//
//	The machine holds no per-conversation state and is safe for concurrent
//	use; callers must not advance the same Conversation from two goroutines
//	at once (the Registry's per-actor lock enforces this).
type Machine struct {
	registry     *tools.Registry
	coord        *coordinator.Coordinator
	dispatcher   *dispatch.Dispatcher
	phrases      Phrases
	phraseSource func() Phrases
	maxRetries   int
	logger       *slog.Logger
}

// NewMachine builds a Machine over the given tool registry, write
// coordinator, and dispatcher. It panics if any collaborator is nil: the
// machine cannot degrade gracefully without them.
func NewMachine(registry *tools.Registry, coord *coordinator.Coordinator, dispatcher *dispatch.Dispatcher, opts ...MachineOption) *Machine {
	if registry == nil {
		panic("conversation: nil tool registry")
	}
	if coord == nil {
		panic("conversation: nil coordinator")
	}
	if dispatcher == nil {
		panic("conversation: nil dispatcher")
	}
	options := DefaultMachineOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &Machine{
		registry:     registry,
		coord:        coord,
		dispatcher:   dispatcher,
		phrases:      options.Phrases,
		phraseSource: options.PhraseSource,
		maxRetries:   options.MaxRetries,
		logger:       options.Logger,
	}
}

// currentPhrases resolves the phrase sets for this decision, preferring a
// live source over the construction-time copy.
func (m *Machine) currentPhrases() Phrases {
	if m.phraseSource != nil {
		return m.phraseSource()
	}
	return m.phrases
}

// =============================================================================
// Entry points
// =============================================================================

// StartForm begins collecting the named write tool's arguments field by
// field, in declared schema order. Any in-progress dialogue is dropped:
// starting a form is an explicit change of intent.
func (m *Machine) StartForm(ctx context.Context, conv *Conversation, toolName string) (Reply, error) {
	desc, err := m.registry.Lookup(toolName)
	if err != nil {
		return m.conversationalError(conv, fmt.Sprintf("I don't know a %q form.", toolName)), nil
	}
	if desc.Mode != tools.ModeWrite {
		return m.conversationalError(conv, fmt.Sprintf("%s runs immediately; there is no form to fill.", desc.Name)), nil
	}

	conv.reset()
	conv.Form = &FormSession{
		Tool:   desc.Name,
		Fields: desc.Schema.Fields(),
		Values: make(map[string]any),
	}
	if conv.Form.Complete() {
		// Zero-field schema: nothing to collect, stage immediately.
		return m.planWrite(ctx, conv, desc.Name, map[string]any{})
	}
	conv.State = StateAwaitingFieldInput
	field, _ := conv.Form.Current()
	return Reply{Text: fieldPrompt(field), State: conv.State}, nil
}

// OpenDropdown presents an enumerated choice. When field names a field of
// the active form, the selection fills that field and the form resumes;
// otherwise the selection simply answers the choice.
func (m *Machine) OpenDropdown(conv *Conversation, name string, options []string, field string) (Reply, error) {
	if len(options) == 0 {
		return m.conversationalError(conv, "There are no options to choose from."), nil
	}
	if name == "" {
		name = "option"
	}
	conv.Dropdown = &DropdownSession{
		Name:    name,
		Options: append([]string(nil), options...),
		Field:   field,
	}
	conv.State = StateAwaitingDropdownSelection
	text := fmt.Sprintf("Which %s?\n%s", name, formatOptions(options))
	return Reply{Text: text, State: conv.State, Options: conv.Dropdown.Options}, nil
}

// RunTool is the idle-state entry point for planner-directed invocations.
// Read tools execute immediately; write tools are staged and the
// conversation moves to awaiting confirmation.
func (m *Machine) RunTool(ctx context.Context, conv *Conversation, tool string, args map[string]any) (Reply, error) {
	desc, err := m.registry.Lookup(tool)
	if err != nil {
		return m.conversationalError(conv, fmt.Sprintf("I don't know how to %s.", strings.ReplaceAll(tool, "_", " "))), nil
	}
	if args == nil {
		args = map[string]any{}
	}
	if desc.Mode == tools.ModeWrite {
		return m.planWrite(ctx, conv, desc.Name, args)
	}
	return m.runRead(ctx, conv, desc.Name, args)
}

// HandleInput advances the conversation with one user utterance. Every
// outcome is conversational: protocol and handler errors come back as
// replies with ok:false envelopes, not transport errors. The single
// exception is ErrRetryExhausted, returned alongside a still-valid reply
// when the retry ceiling is hit so callers can account for it.
func (m *Machine) HandleInput(ctx context.Context, conv *Conversation, utterance string) (Reply, error) {
	ctx, span := conversationTracer.Start(ctx, "conversation.HandleInput",
		trace.WithAttributes(attribute.String("conversation.state", conv.State.String())))
	defer span.End()

	RecordTurn(conv.State)

	switch conv.State {
	case StateAwaitingFieldInput:
		return m.handleFieldInput(ctx, conv, utterance)
	case StateAwaitingDropdownSelection:
		return m.handleDropdownSelection(ctx, conv, utterance)
	case StateAwaitingConfirmation:
		return m.handleConfirmation(ctx, conv, utterance)
	case StateErrorRetry:
		return m.handleRetryPrompt(ctx, conv, utterance)
	default:
		return m.handleIdle(ctx, conv, utterance)
	}
}

// =============================================================================
// State handlers
// =============================================================================

func (m *Machine) handleIdle(ctx context.Context, conv *Conversation, utterance string) (Reply, error) {
	raw := strings.TrimSpace(utterance)
	lower := strings.ToLower(raw)

	if rest, ok := strings.CutPrefix(lower, "start form"); ok {
		tool := strings.ReplaceAll(strings.TrimSpace(rest), " ", "_")
		if tool == "" {
			return Reply{Text: `Which form? Say "start form" followed by a tool name.`, State: conv.State}, nil
		}
		return m.StartForm(ctx, conv, tool)
	}

	if rest, ok := strings.CutPrefix(lower, "open dropdown"); ok {
		name, _, found := strings.Cut(rest, ":")
		if !found {
			return Reply{Text: `List the options after a colon, e.g. "open dropdown subject: Biology, Chemistry".`, State: conv.State}, nil
		}
		// Options keep the caller's casing; the name is matched lowercase.
		_, rawList, _ := strings.Cut(raw, ":")
		return m.OpenDropdown(conv, strings.TrimSpace(name), splitOptions(rawList), "")
	}

	return Reply{
		Text:  `Nothing is in progress. Ask me for something, or say "start form" with a tool name.`,
		State: conv.State,
	}, nil
}

func (m *Machine) handleFieldInput(ctx context.Context, conv *Conversation, utterance string) (Reply, error) {
	form := conv.Form
	if form == nil {
		conv.reset()
		return m.handleIdle(ctx, conv, utterance)
	}
	field, ok := form.Current()
	if !ok {
		return m.advanceForm(ctx, conv, "")
	}

	phrases := m.currentPhrases()
	if normalizeUtterance(utterance) == "" || phrases.IsSkip(utterance) {
		if field.Required {
			// Required fields cannot be skipped: re-prompt identically.
			return Reply{Text: fieldPrompt(field), State: conv.State}, nil
		}
		form.Index++
		return m.advanceForm(ctx, conv, "")
	}

	value, hint := parseFieldValue(field, utterance, phrases)
	if hint != "" {
		return Reply{Text: fmt.Sprintf("I need %s. %s", hint, fieldPrompt(field)), State: conv.State}, nil
	}
	form.Values[field.Name] = value
	form.Index++
	return m.advanceForm(ctx, conv, "")
}

// advanceForm prompts for the next field or, once every field has been
// visited, hands the collected values to the coordinator as a plan.
func (m *Machine) advanceForm(ctx context.Context, conv *Conversation, ack string) (Reply, error) {
	form := conv.Form
	if form.Complete() {
		reply, err := m.planWrite(ctx, conv, form.Tool, form.Values)
		if err == nil && reply.State == StateAwaitingConfirmation {
			reply.Text = "Ready to submit. " + reply.Text
		}
		return reply, err
	}
	next, _ := form.Current()
	text := fieldPrompt(next)
	if ack != "" {
		text = ack + " " + text
	}
	return Reply{Text: text, State: conv.State}, nil
}

func (m *Machine) handleDropdownSelection(ctx context.Context, conv *Conversation, utterance string) (Reply, error) {
	dd := conv.Dropdown
	if dd == nil {
		conv.reset()
		return m.handleIdle(ctx, conv, utterance)
	}

	label, ok := resolveSelection(utterance, dd.Options)
	if !ok {
		// Ambiguous or unmatched: re-present the unchanged list.
		text := fmt.Sprintf("I didn't catch that. Which %s?\n%s", dd.Name, formatOptions(dd.Options))
		return Reply{Text: text, State: conv.State, Options: append([]string(nil), dd.Options...)}, nil
	}

	if dd.Field != "" && conv.Form != nil {
		conv.Form.Values[dd.Field] = label
		if cur, ok := conv.Form.Current(); ok && cur.Name == dd.Field {
			conv.Form.Index++
		}
		conv.Dropdown = nil
		conv.State = StateAwaitingFieldInput
		return m.advanceForm(ctx, conv, fmt.Sprintf("Got it: %s.", label))
	}

	name := dd.Name
	conv.reset()
	env := results.Normalize("select_option", map[string]any{
		"message":   fmt.Sprintf("Selected %s.", label),
		"selection": label,
		"dropdown":  name,
	})
	return Reply{Text: env.Summary, State: conv.State, Envelope: &env}, nil
}

func (m *Machine) handleConfirmation(ctx context.Context, conv *Conversation, utterance string) (Reply, error) {
	phrases := m.currentPhrases()
	switch {
	case phrases.IsAffirmative(utterance):
		return m.confirmPending(ctx, conv)
	case phrases.IsNegative(utterance):
		return m.cancelPending(ctx, conv)
	default:
		text := fmt.Sprintf("Please answer yes or no. %s", conv.PendingSummary)
		return Reply{Text: text, State: conv.State}, nil
	}
}

func (m *Machine) handleRetryPrompt(ctx context.Context, conv *Conversation, utterance string) (Reply, error) {
	phrases := m.currentPhrases()
	switch {
	case phrases.IsAffirmative(utterance):
		return m.retryStep(ctx, conv)
	case phrases.IsNegative(utterance):
		conv.reset()
		return Reply{Text: "Okay, leaving it. Nothing was changed.", State: conv.State}, nil
	default:
		text := fmt.Sprintf("That failed with: %s. Try again? (yes/no)", conv.LastError)
		return Reply{Text: text, State: conv.State}, nil
	}
}

// =============================================================================
// Dispatch plumbing
// =============================================================================

// planWrite stages a write through the coordinator and asks for
// confirmation.
func (m *Machine) planWrite(ctx context.Context, conv *Conversation, tool string, args map[string]any) (Reply, error) {
	conv.State = StateProcessing
	act, err := m.coord.Plan(ctx, tool, args, conv.Actor)
	if err != nil {
		var verr *tools.ValidationError
		if errors.As(err, &verr) {
			return m.conversationalError(conv, fmt.Sprintf("I can't stage that yet: field %q %s.", verr.Field, verr.Reason)), nil
		}
		return m.conversationalError(conv, fmt.Sprintf("I couldn't stage that: %v.", err)), nil
	}

	conv.Form = nil
	conv.Dropdown = nil
	conv.State = StateAwaitingConfirmation
	conv.PendingActionID = act.ID
	conv.PendingSummary = act.Preview.Summary
	conv.LastStep = &Step{Tool: tool, Args: args, Write: true}

	env := results.Normalize(tool, map[string]any{
		"requires_confirmation": true,
		"action_id":             act.ID,
		"preview": map[string]any{
			"summary":  act.Preview.Summary,
			"affected": act.Preview.Affected,
		},
	})
	m.logger.Info("staged write for confirmation",
		"tool", tool,
		"action_id", act.ID,
		"actor", conv.Actor,
	)
	return Reply{
		Text:     fmt.Sprintf("%s Confirm? (yes/no)", act.Preview.Summary),
		State:    conv.State,
		Envelope: &env,
	}, nil
}

// runRead executes a read tool immediately.
func (m *Machine) runRead(ctx context.Context, conv *Conversation, tool string, args map[string]any) (Reply, error) {
	conv.State = StateProcessing
	res, err := m.dispatcher.Invoke(ctx, &tools.Invocation{
		ID:    uuid.NewString(),
		Tool:  tool,
		Args:  args,
		Actor: conv.Actor,
	})
	if err != nil {
		var herr *dispatch.HandlerError
		if errors.As(err, &herr) {
			conv.LastStep = &Step{Tool: tool, Args: args, Write: false}
			return m.failStep(conv, herr.Cause.Error())
		}
		return m.conversationalError(conv, fmt.Sprintf("I couldn't run %s: %v.", strings.ReplaceAll(tool, "_", " "), err)), nil
	}

	conv.reset()
	m.rememberAnchors(conv, res.Output)
	env := results.Normalize(tool, rawResult(res))
	return Reply{Text: env.Summary, State: conv.State, Envelope: &env}, nil
}

// confirmPending confirms the staged action and reports the outcome.
func (m *Machine) confirmPending(ctx context.Context, conv *Conversation) (Reply, error) {
	conv.State = StateProcessing
	act, err := m.coord.Confirm(ctx, conv.PendingActionID, conv.Actor)
	if err != nil {
		var herr *dispatch.HandlerError
		if errors.As(err, &herr) {
			conv.PendingActionID = ""
			conv.PendingSummary = ""
			return m.failStep(conv, herr.Cause.Error())
		}
		var serr *actions.InvalidStateError
		switch {
		case errors.Is(err, actions.ErrNotFound):
			return m.conversationalError(conv, "That action expired before it was confirmed. Stage it again if you still want it."), nil
		case errors.Is(err, actions.ErrNotOwner):
			return m.conversationalError(conv, "That action belongs to someone else, so I can't confirm it."), nil
		case errors.As(err, &serr):
			return m.conversationalError(conv, fmt.Sprintf("That action is already %s.", serr.Status)), nil
		default:
			return m.conversationalError(conv, fmt.Sprintf("I couldn't confirm that: %v.", err)), nil
		}
	}

	tool := act.Tool
	output := act.Result
	conv.reset()
	m.rememberAnchors(conv, output)
	env := results.Normalize(tool, output)
	m.logger.Info("confirmed action",
		"tool", tool,
		"action_id", act.ID,
		"actor", conv.Actor,
	)
	return Reply{Text: env.Summary, State: conv.State, Envelope: &env}, nil
}

// cancelPending cancels the staged action. The handler is never invoked.
func (m *Machine) cancelPending(ctx context.Context, conv *Conversation) (Reply, error) {
	conv.State = StateProcessing
	act, err := m.coord.Cancel(ctx, conv.PendingActionID, conv.Actor)
	if err != nil {
		var serr *actions.InvalidStateError
		switch {
		case errors.Is(err, actions.ErrNotFound):
			return m.conversationalError(conv, "That action already expired. Nothing was changed."), nil
		case errors.As(err, &serr):
			return m.conversationalError(conv, fmt.Sprintf("That action is already %s.", serr.Status)), nil
		default:
			return m.conversationalError(conv, fmt.Sprintf("I couldn't cancel that: %v.", err)), nil
		}
	}

	conv.reset()
	env := results.Envelope{
		OK:      true,
		Type:    results.TypeResult,
		Summary: "Cancelled. Nothing was changed.",
		Data: map[string]any{
			"action_id": act.ID,
			"status":    act.Status.String(),
		},
	}
	m.logger.Info("cancelled action", "action_id", act.ID, "actor", conv.Actor)
	return Reply{Text: env.Summary, State: conv.State, Envelope: &env}, nil
}

// failStep records a handler failure. Below the ceiling it offers a retry;
// at the ceiling it resets to idle and surfaces the last error verbatim.
func (m *Machine) failStep(conv *Conversation, errText string) (Reply, error) {
	conv.Retries++
	conv.LastError = errText
	RecordRetry()

	if conv.Retries >= m.maxRetries {
		attempts := conv.Retries
		last := conv.LastError
		conv.reset()
		env := results.Error(last)
		m.logger.Warn("retry ceiling reached",
			"attempts", attempts,
			"error", last,
			"actor", conv.Actor,
		)
		text := fmt.Sprintf("Still failing after %d attempts: %s. Let's try something else.", attempts, last)
		return Reply{Text: text, State: conv.State, Envelope: &env}, ErrRetryExhausted
	}

	conv.State = StateErrorRetry
	text := fmt.Sprintf("That didn't work: %s. Try again? (yes/no)", errText)
	return Reply{Text: text, State: conv.State}, nil
}

// retryStep re-dispatches the failed step. A failed write is terminal, so
// the retry stages a fresh action with the identical tool and arguments and
// confirms it in the same turn: the user's go-ahead is the explicit
// confirmation of an operation whose preview they have already seen.
func (m *Machine) retryStep(ctx context.Context, conv *Conversation) (Reply, error) {
	step := conv.LastStep
	if step == nil {
		conv.reset()
		return Reply{Text: "There is nothing to retry.", State: conv.State}, nil
	}

	if !step.Write {
		return m.runRead(ctx, conv, step.Tool, step.Args)
	}

	conv.State = StateProcessing
	act, err := m.coord.Plan(ctx, step.Tool, step.Args, conv.Actor)
	if err != nil {
		return m.conversationalError(conv, fmt.Sprintf("I couldn't restage that: %v.", err)), nil
	}
	conv.PendingActionID = act.ID
	conv.PendingSummary = act.Preview.Summary
	return m.confirmPending(ctx, conv)
}

// =============================================================================
// Helpers
// =============================================================================

// conversationalError resets to idle and wraps msg in an ok:false envelope.
func (m *Machine) conversationalError(conv *Conversation, msg string) Reply {
	conv.reset()
	env := results.Error(msg)
	return Reply{Text: msg, State: conv.State, Envelope: &env}
}

// rawResult flattens a handler result for normalization. Expected tool
// failures surface through the error variant.
func rawResult(res *tools.Result) map[string]any {
	if res == nil {
		return nil
	}
	if !res.Success {
		out := make(map[string]any, len(res.Output)+1)
		for k, v := range res.Output {
			out[k] = v
		}
		text := res.Error
		if text == "" {
			text = "the tool reported a failure"
		}
		out["error"] = text
		return out
	}
	return res.Output
}

// rememberAnchors records "*_id" outputs as referential anchors so later
// turns can resolve "the course I just made".
func (m *Machine) rememberAnchors(conv *Conversation, output map[string]any) {
	for k, v := range output {
		kind, ok := strings.CutSuffix(k, "_id")
		if !ok || kind == "" {
			continue
		}
		if id, ok := v.(string); ok && id != "" {
			conv.Anchor(kind, id)
		}
	}
}
