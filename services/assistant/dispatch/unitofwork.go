// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dispatch

import "context"

// UnitOfWork is an exclusively-owned resource handle (typically a storage
// transaction) bound to a single tool invocation. The dispatcher acquires
// one per invocation for tools that declare the dependency, threads it
// through the invocation, and releases it on every exit path: Commit after
// a successful result, Rollback after a handler failure, fault, or timeout.
//
// Thread Safety: A UnitOfWork is owned by one invocation and must not be
// shared across goroutines.
type UnitOfWork interface {
	// Commit makes the unit's writes durable.
	Commit(ctx context.Context) error

	// Rollback discards the unit's writes. Safe to call after a failed
	// Commit; implementations must make it idempotent.
	Rollback(ctx context.Context) error
}

// UnitOfWorkFactory hands out fresh units of work. Each Acquire call must
// return an instance exclusively owned by the caller — two concurrent
// invocations must never observe the same unit.
//
// Thread Safety: Implementations must be safe for concurrent use.
type UnitOfWorkFactory interface {
	Acquire(ctx context.Context) (UnitOfWork, error)
}

// UnitOfWorkFactoryFunc adapts a function to the UnitOfWorkFactory
// interface.
type UnitOfWorkFactoryFunc func(ctx context.Context) (UnitOfWork, error)

// Acquire calls f.
func (f UnitOfWorkFactoryFunc) Acquire(ctx context.Context) (UnitOfWork, error) {
	return f(ctx)
}
