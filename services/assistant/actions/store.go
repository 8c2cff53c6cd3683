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
	"context"
	"time"
)

// Store persists planned actions with a bounded lifetime. Any backend
// offering set-with-TTL, get, delete, and remaining-TTL suffices; this
// package ships a Badger-backed store and an in-memory store.
//
// All methods return ErrNotFound for ids that are expired or never existed —
// the two cases are indistinguishable by design.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Store interface {
	// Create generates an unguessable id, snapshots args, and persists the
	// new action with status planned and the given TTL. A non-positive ttl
	// falls back to DefaultTTL. The returned action is the caller's copy.
	Create(ctx context.Context, owner, tool string, args map[string]any, preview Preview, ttl time.Duration) (*Action, error)

	// Get returns a private copy of the action, or ErrNotFound.
	Get(ctx context.Context, id string) (*Action, error)

	// Update applies mutate to the stored action in one read-modify-write
	// cycle and re-persists it, preserving the REMAINING TTL — the clock is
	// never reset, so repeated confirm attempts cannot extend an action's
	// lifetime. If mutate returns an error nothing is written and the error
	// is passed through. Returns the updated private copy.
	Update(ctx context.Context, id string, mutate func(*Action) error) (*Action, error)

	// Delete removes the action. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// RemainingTTL reports how long until the action is evicted, or
	// ErrNotFound.
	RemainingTTL(ctx context.Context, id string) (time.Duration, error)
}
