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
	"sync"
	"time"
)

// MemoryStore implements Store with an in-process map. Used when no
// persistent action directory is configured, and in tests, where the
// injectable clock makes TTL behavior deterministic.
//
// Eviction is lazy: expired entries are removed when touched by Get, Update,
// or RemainingTTL. Actions are small and short-lived, so no janitor goroutine
// is needed.
//
// Thread Safety: Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry

	// now is the clock; overridden in tests to step time explicitly.
	now func() time.Time
}

type memoryEntry struct {
	action   *Action
	deadline time.Time
}

// NewMemoryStore creates an empty in-memory action store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// Create stores a new planned action with the given TTL.
func (s *MemoryStore) Create(ctx context.Context, owner, tool string, args map[string]any, preview Preview, ttl time.Duration) (*Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	action := &Action{
		ID:        NewActionID(),
		Owner:     NormalizeActor(owner),
		Tool:      tool,
		Args:      cloneMap(args),
		Preview:   preview,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Status:    StatusPlanned,
	}
	s.entries[action.ID] = &memoryEntry{action: action, deadline: action.ExpiresAt}
	RecordActionStoreOp("create", "ok")
	return action.Clone(), nil
}

// Get returns a private copy of the action, or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.live(id)
	if !ok {
		RecordActionStoreOp("get", "miss")
		return nil, ErrNotFound
	}
	RecordActionStoreOp("get", "ok")
	return entry.action.Clone(), nil
}

// Update applies mutate under the store lock. The deadline is left
// untouched: updates never extend an action's lifetime.
func (s *MemoryStore) Update(ctx context.Context, id string, mutate func(*Action) error) (*Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.live(id)
	if !ok {
		RecordActionStoreOp("update", "miss")
		return nil, ErrNotFound
	}

	// Mutate a copy so a failed mutation leaves the stored record intact.
	draft := entry.action.Clone()
	if err := mutate(draft); err != nil {
		RecordActionStoreOp("update", "error")
		return nil, err
	}
	entry.action = draft
	RecordActionStoreOp("update", "ok")
	return draft.Clone(), nil
}

// Delete removes the action. Missing ids are not an error.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	RecordActionStoreOp("delete", "ok")
	return nil
}

// RemainingTTL reports the time until eviction.
func (s *MemoryStore) RemainingTTL(ctx context.Context, id string) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.live(id)
	if !ok {
		return 0, ErrNotFound
	}
	return entry.deadline.Sub(s.now()), nil
}

// live returns the entry for id if it has not expired, evicting it if it
// has. Callers must hold s.mu.
func (s *MemoryStore) live(id string) (*memoryEntry, bool) {
	entry, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	if !s.now().Before(entry.deadline) {
		delete(s.entries, id)
		return nil, false
	}
	return entry, true
}
