// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dispatch runs tool handlers against isolated units of work.
//
// The dispatcher is the single execution path for every tool call: it looks
// the tool up, validates arguments, applies per-tool rate limits, and runs
// the handler on a bounded worker pool so one slow handler cannot stall
// unrelated concurrent calls. Tools that declare a unit-of-work dependency
// get a freshly acquired, exclusively-owned unit threaded through the
// invocation and released on every exit path; tools that do not declare it
// skip acquisition entirely.
//
// Expected failures (validation, unknown tool, rate limit) come back as
// typed errors before any handler runs. Faults that escape a handler —
// panics, timeouts, returned errors — are converted into *HandlerError and
// never propagate into unrelated work.
//
// Thread Safety:
//
//	All exported types are safe for concurrent use unless documented otherwise.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/PeterGuk540/aristai-sub000/services/assistant/tools"
)

// dispatchTracer is the package-level tracer for dispatch spans.
var dispatchTracer = otel.Tracer("assistant.dispatch")

// DefaultMaxConcurrent bounds the worker pool when no limit is configured.
const DefaultMaxConcurrent = 16

// DefaultTimeout applies to tools that do not declare their own.
const DefaultTimeout = 30 * time.Second

// ErrRateLimited is returned when a tool's per-minute invocation budget is
// exhausted. The call never reaches the handler.
var ErrRateLimited = errors.New("dispatch: tool rate limit exceeded")

// ErrNoUnitOfWorkFactory is returned when a tool declares a unit-of-work
// dependency but the dispatcher was built without a factory.
var ErrNoUnitOfWorkFactory = errors.New("dispatch: no unit-of-work factory configured")

// HandlerError wraps a fault raised during handler execution: a returned
// error, an escaped panic, or a timeout. The raw cause is retained so it
// can be recorded on the failed action and surfaced verbatim later.
type HandlerError struct {
	// Tool is the tool whose handler faulted.
	Tool string

	// Cause is the underlying fault.
	Cause error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("dispatch: tool %s failed: %v", e.Tool, e.Cause)
}

func (e *HandlerError) Unwrap() error {
	return e.Cause
}

// =============================================================================
// Dispatcher Options
// =============================================================================

// DispatcherOptions configures Dispatcher behavior.
type DispatcherOptions struct {
	// MaxConcurrent is the worker pool size. One slot is held for the full
	// duration of a handler, including overruns past its timeout.
	// Default: 16
	MaxConcurrent int

	// DefaultTimeout applies to tools whose descriptor declares none.
	// Default: 30s
	DefaultTimeout time.Duration

	// Limiter applies per-tool rate limits. May be nil to disable limiting.
	Limiter *ToolLimiter

	// Logger for dispatch diagnostics. May be nil.
	Logger *slog.Logger
}

// DefaultDispatcherOptions returns sensible defaults.
func DefaultDispatcherOptions() DispatcherOptions {
	return DispatcherOptions{
		MaxConcurrent:  DefaultMaxConcurrent,
		DefaultTimeout: DefaultTimeout,
	}
}

// DispatcherOption is a functional option for configuring Dispatcher.
type DispatcherOption func(*DispatcherOptions)

// WithMaxConcurrent sets the worker pool size.
func WithMaxConcurrent(n int) DispatcherOption {
	return func(o *DispatcherOptions) {
		o.MaxConcurrent = n
	}
}

// WithDefaultTimeout sets the fallback per-invocation timeout.
func WithDefaultTimeout(d time.Duration) DispatcherOption {
	return func(o *DispatcherOptions) {
		o.DefaultTimeout = d
	}
}

// WithLimiter sets the per-tool rate limiter.
func WithLimiter(l *ToolLimiter) DispatcherOption {
	return func(o *DispatcherOptions) {
		o.Limiter = l
	}
}

// WithLogger sets the dispatch logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(o *DispatcherOptions) {
		o.Logger = logger
	}
}

// =============================================================================
// Dispatcher
// =============================================================================

// Dispatcher executes tool invocations on a bounded worker pool.
//
// Thread Safety: Safe for concurrent use.
type Dispatcher struct {
	registry *tools.Registry
	factory  UnitOfWorkFactory
	sem      *semaphore.Weighted
	options  DispatcherOptions
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over the given registry.
//
// Inputs:
//
//   - registry: Tool catalog. Must not be nil.
//   - factory: Unit-of-work source for tools that declare the dependency.
//     May be nil if no registered tool does.
//   - opts: Functional options.
//
// Example:
//
//	d := NewDispatcher(registry, store,
//	    WithMaxConcurrent(32),
//	    WithLimiter(NewToolLimiter()),
//	)
func NewDispatcher(registry *tools.Registry, factory UnitOfWorkFactory, opts ...DispatcherOption) *Dispatcher {
	if registry == nil {
		panic("NewDispatcher: registry must not be nil")
	}
	options := DefaultDispatcherOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.MaxConcurrent <= 0 {
		options.MaxConcurrent = DefaultMaxConcurrent
	}
	if options.DefaultTimeout <= 0 {
		options.DefaultTimeout = DefaultTimeout
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		factory:  factory,
		sem:      semaphore.NewWeighted(int64(options.MaxConcurrent)),
		options:  options,
		logger:   logger,
	}
}

// Registry returns the catalog this dispatcher executes against.
func (d *Dispatcher) Registry() *tools.Registry {
	return d.registry
}

// Invoke runs one tool invocation end to end.
//
// Description:
//
//	Looks up the descriptor, validates arguments against its schema, and
//	applies the per-tool rate limit — all before any handler or unit of
//	work is touched. The handler then runs on the worker pool under the
//	tool's timeout. Tools that declare UsesUnitOfWork get a fresh unit
//	acquired for this invocation only; it commits after a successful
//	result and rolls back on every other path.
//
// Inputs:
//
//   - ctx: Caller context. Cancellation while queued abandons the call.
//   - inv: The invocation. Tool and Args must be set; UnitOfWork is
//     populated by the dispatcher when the tool declares the dependency.
//
// Outputs:
//
//   - *tools.Result: Handler result. A result with Success=false is an
//     expected, handler-level failure, not a fault.
//   - error: tools.ErrUnknownTool, *tools.ValidationError, ErrRateLimited,
//     or *HandlerError for faults. Nil on success.
//
// Thread Safety: Safe for concurrent use. Each concurrent invocation
// observes a distinct unit of work.
func (d *Dispatcher) Invoke(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	ctx, span := dispatchTracer.Start(ctx, "dispatch.Invoke",
		trace.WithAttributes(attribute.String("tool.name", inv.Tool)))
	defer span.End()

	start := time.Now()

	desc, err := d.registry.Lookup(inv.Tool)
	if err != nil {
		RecordDispatch(inv.Tool, "unknown_tool", time.Since(start).Seconds())
		return nil, err
	}
	span.SetAttributes(attribute.String("tool.mode", desc.Mode.String()))

	if err := desc.Schema.Validate(desc.Name, inv.Args); err != nil {
		RecordDispatch(desc.Name, "validation_error", time.Since(start).Seconds())
		return nil, err
	}

	if d.options.Limiter != nil && !d.options.Limiter.Allow(desc.Name, desc.RatePerMinute) {
		RecordDispatch(desc.Name, "rate_limited", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, desc.Name)
	}

	if desc.UsesUnitOfWork && d.factory == nil {
		return nil, fmt.Errorf("%w: tool %s requires one", ErrNoUnitOfWorkFactory, desc.Name)
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("dispatch: waiting for worker slot: %w", err)
	}

	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = d.options.DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *tools.Result
		err    error
	}
	done := make(chan outcome, 1)

	// The worker owns the semaphore slot and the unit of work: both are
	// released when the handler actually finishes, even if the waiter has
	// already given up on a timeout.
	go func() {
		dispatchInflight.Inc()
		var (
			uow    UnitOfWork
			result *tools.Result
			err    error
		)
		defer func() {
			if r := recover(); r != nil {
				result = nil
				err = &HandlerError{Tool: desc.Name, Cause: fmt.Errorf("panic: %v", r)}
				d.logger.Error("tool handler panicked",
					slog.String("tool", desc.Name),
					slog.Any("panic", r),
				)
			}
			if relErr := d.releaseUnitOfWork(uow, desc.Name, result, err); relErr != nil && err == nil {
				result = nil
				err = &HandlerError{Tool: desc.Name, Cause: relErr}
			}
			dispatchInflight.Dec()
			d.sem.Release(1)
			done <- outcome{result: result, err: err}
		}()

		if desc.UsesUnitOfWork {
			uow, err = d.factory.Acquire(execCtx)
			if err != nil {
				err = &HandlerError{Tool: desc.Name, Cause: fmt.Errorf("acquire unit of work: %w", err)}
				return
			}
			inv.UnitOfWork = uow
		}

		result, err = desc.Handler.Execute(execCtx, inv)
		if err != nil {
			result = nil
			err = &HandlerError{Tool: desc.Name, Cause: err}
		}
	}()

	select {
	case out := <-done:
		elapsed := time.Since(start)
		if out.err != nil {
			RecordDispatch(desc.Name, "handler_fault", elapsed.Seconds())
			return nil, out.err
		}
		if out.result != nil {
			out.result.Duration = elapsed
		}
		if out.result != nil && !out.result.Success {
			RecordDispatch(desc.Name, "tool_failure", elapsed.Seconds())
		} else {
			RecordDispatch(desc.Name, "ok", elapsed.Seconds())
		}
		return out.result, nil
	case <-execCtx.Done():
		// The worker keeps its slot and rolls back its unit of work when
		// the handler eventually returns; the caller is released now.
		RecordDispatch(desc.Name, "timeout", time.Since(start).Seconds())
		d.logger.Warn("tool invocation timed out",
			slog.String("tool", desc.Name),
			slog.Duration("timeout", timeout),
		)
		return nil, &HandlerError{Tool: desc.Name, Cause: execCtx.Err()}
	}
}

// releaseUnitOfWork commits the unit after a successful result and rolls it
// back on every other path. A failed commit is returned so the invocation
// reports failure instead of claiming writes that never landed; rollback
// failures are logged only, since the outcome is already a failure.
func (d *Dispatcher) releaseUnitOfWork(uow UnitOfWork, tool string, result *tools.Result, execErr error) error {
	if uow == nil {
		return nil
	}
	// Release must survive caller cancellation.
	ctx := context.Background()
	if execErr == nil && result != nil && result.Success {
		if err := uow.Commit(ctx); err != nil {
			d.logger.Error("unit of work commit failed",
				slog.String("tool", tool),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("commit unit of work: %w", err)
		}
		return nil
	}
	if err := uow.Rollback(ctx); err != nil {
		d.logger.Warn("unit of work rollback failed",
			slog.String("tool", tool),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
