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
	"sync"
	"time"

	"github.com/PeterGuk540/aristai-sub000/services/assistant/actions"
)

// DefaultContextTTL is how long an idle conversation survives between
// interactions. The TTL slides: every turn refreshes it.
const DefaultContextTTL = 30 * time.Minute

type registryEntry struct {
	// turnMu serializes turns for one actor. It is acquired without the
	// registry lock held, so independent actors advance in parallel.
	turnMu   sync.Mutex
	conv     *Conversation
	deadline time.Time
}

// Registry holds the live per-actor conversations. Contexts are created on
// first use, evicted lazily once their sliding TTL elapses, and dropped
// immediately on Reset.
//
// Thread Safety:
//
//	Safe for concurrent use. WithConversation holds only the per-actor
//	turn lock while the callback runs.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
	ttl     time.Duration

	// now is the clock; tests substitute it to drive expiry.
	now func() time.Time
}

// NewContextRegistry builds a Registry with the given sliding TTL.
// Non-positive TTLs fall back to DefaultContextTTL.
func NewContextRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultContextTTL
	}
	return &Registry{
		entries: make(map[string]*registryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithConversation runs fn with the actor's conversation while holding that
// actor's turn lock, then refreshes the sliding TTL. A conversation is
// created on first use; an expired one is replaced by a fresh idle context,
// indistinguishable from one that never existed.
func (r *Registry) WithConversation(actor string, fn func(*Conversation) error) error {
	actor = actions.NormalizeActor(actor)
	entry := r.acquire(actor)

	entry.turnMu.Lock()
	defer entry.turnMu.Unlock()

	err := fn(entry.conv)

	r.mu.Lock()
	if current, ok := r.entries[actor]; ok && current == entry {
		entry.deadline = r.now().Add(r.ttl)
		entry.conv.UpdatedAt = r.now()
	}
	r.mu.Unlock()
	return err
}

// acquire returns the live entry for actor, sweeping expired contexts and
// creating a fresh one when none survives.
func (r *Registry) acquire(actor string) *registryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()

	entry, ok := r.entries[actor]
	if !ok {
		entry = &registryEntry{
			conv:     NewConversation(actor),
			deadline: r.now().Add(r.ttl),
		}
		r.entries[actor] = entry
		SetActiveContexts(len(r.entries))
	}
	return entry
}

// sweepLocked drops every expired context. Caller holds r.mu.
func (r *Registry) sweepLocked() {
	now := r.now()
	removed := false
	for actor, entry := range r.entries {
		if !now.Before(entry.deadline) {
			delete(r.entries, actor)
			removed = true
		}
	}
	if removed {
		SetActiveContexts(len(r.entries))
	}
}

// Reset drops the actor's conversation immediately (logout, "start over").
// Resetting an unknown actor is a no-op.
func (r *Registry) Reset(actor string) {
	actor = actions.NormalizeActor(actor)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[actor]; ok {
		delete(r.entries, actor)
		SetActiveContexts(len(r.entries))
	}
}

// Len reports the number of live contexts after sweeping expired ones.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	return len(r.entries)
}
