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

// =============================================================================
// BadgerStore — Planned-Action Persistence
// =============================================================================
//
// Planned actions survive a service restart: a user who planned a write and
// confirms it thirty seconds later should not lose the action because the
// process rolled. BadgerDB gives that durability without a network hop.
//
// Design choices:
//
//	1. BadgerDB native TTL: eviction is enforced by BadgerDB itself, not by
//	   application code. An expired key returns ErrKeyNotFound, which this
//	   store maps to ErrNotFound — expired and never-existed are
//	   indistinguishable on purpose.
//
//	2. Remaining-TTL preservation on update: BadgerDB exposes the absolute
//	   expiry of an item (Item.ExpiresAt). Update re-writes the record with
//	   WithTTL(time until that expiry), so a status write never restarts the
//	   clock and repeated confirm attempts cannot keep an action alive.
//
//	3. gob encoding: actions are small (<2KB) internal records read and
//	   written by this process only; gob round-trips map[string]any payloads
//	   without the float/int mangling JSON would introduce.
//
// Storage layout:
//
//	assistant/action/v1/{actionID}  →  gob-encoded Action
//	                                    TTL: per-action (default 10 minutes)

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	badgerstore "github.com/PeterGuk540/aristai-sub000/services/assistant/storage/badger"
)

// actionKeyPrefix is prepended to the action id to form the BadgerDB key.
// Versioned (v1) to allow future format changes without collision.
const actionKeyPrefix = "assistant/action/v1/"

// minBadgerTTL is the smallest TTL ever written. BadgerDB expiries have
// second granularity; a sub-second remainder must still expire rather than
// round down to "no TTL" and live forever.
const minBadgerTTL = time.Second

func init() {
	// Action payloads carry any-typed values decoded from JSON.
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// BadgerStore implements Store backed by a BadgerDB instance. The DB is
// expected to be a service-global singleton opened at startup; the caller
// owns its lifecycle.
//
// Thread Safety: Safe for concurrent use. BadgerDB transactions are
// per-goroutine, and Update runs its read-modify-write inside one
// transaction.
type BadgerStore struct {
	db     *badgerstore.DB
	logger *slog.Logger
}

// NewBadgerStore creates a BadgerStore backed by the given DB instance.
//
// Inputs:
//
//   - db: Opened BadgerDB wrapper. Must not be nil.
//   - logger: Logger for store diagnostics. May be nil.
//
// Outputs:
//
//   - *BadgerStore: Ready-to-use store. Never nil.
func NewBadgerStore(db *badgerstore.DB, logger *slog.Logger) *BadgerStore {
	if db == nil {
		panic("NewBadgerStore: db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerStore{db: db, logger: logger}
}

// Create persists a new planned action with the given TTL.
func (s *BadgerStore) Create(ctx context.Context, owner, tool string, args map[string]any, preview Preview, ttl time.Duration) (*Action, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()
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

	raw, err := encodeAction(action)
	if err != nil {
		return nil, fmt.Errorf("action encode: %w", err)
	}

	key := actionKey(action.ID)
	err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry(key, raw).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return nil, fmt.Errorf("action create: %w", err)
	}

	s.logger.Debug("action store: created",
		slog.String("action_id", shortID(action.ID)),
		slog.String("tool", tool),
		slog.Duration("ttl", ttl),
	)
	RecordActionStoreOp("create", "ok")
	return action.Clone(), nil
}

// Get returns a private copy of the action, or ErrNotFound once the key is
// absent or its TTL elapsed.
func (s *BadgerStore) Get(ctx context.Context, id string) (*Action, error) {
	var raw []byte
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(actionKey(id))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get action key: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy value: %w", err)
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		RecordActionStoreOp("get", "miss")
		return nil, ErrNotFound
	}
	if err != nil {
		RecordActionStoreOp("get", "error")
		return nil, fmt.Errorf("action get: %w", err)
	}

	action, err := decodeAction(raw)
	if err != nil {
		RecordActionStoreOp("get", "error")
		return nil, fmt.Errorf("action decode: %w", err)
	}
	RecordActionStoreOp("get", "ok")
	return action, nil
}

// Update applies mutate inside a single transaction and re-persists the
// record with its REMAINING lifetime, never a fresh one.
func (s *BadgerStore) Update(ctx context.Context, id string, mutate func(*Action) error) (*Action, error) {
	var updated *Action
	key := actionKey(id)

	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get action key: %w", err)
		}

		remaining := remainingFromItem(item)
		if remaining <= 0 {
			// Expired between BadgerDB's visibility check and ours.
			return ErrNotFound
		}

		raw, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy value: %w", err)
		}
		action, err := decodeAction(raw)
		if err != nil {
			return fmt.Errorf("action decode: %w", err)
		}

		if err := mutate(action); err != nil {
			return err
		}

		encoded, err := encodeAction(action)
		if err != nil {
			return fmt.Errorf("action encode: %w", err)
		}
		entry := dgbadger.NewEntry(key, encoded).WithTTL(remaining)
		if err := txn.SetEntry(entry); err != nil {
			return fmt.Errorf("set entry: %w", err)
		}
		updated = action
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			RecordActionStoreOp("update", "miss")
			return nil, ErrNotFound
		}
		// Mutation errors (ownership, invalid state) pass through untouched
		// so callers can match them with errors.Is / errors.As.
		RecordActionStoreOp("update", "error")
		return nil, err
	}

	s.logger.Debug("action store: updated",
		slog.String("action_id", shortID(id)),
		slog.String("status", updated.Status.String()),
	)
	RecordActionStoreOp("update", "ok")
	return updated.Clone(), nil
}

// Delete removes the action. Missing ids are not an error.
func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Delete(actionKey(id))
	})
	if err != nil {
		RecordActionStoreOp("delete", "error")
		return fmt.Errorf("action delete: %w", err)
	}
	RecordActionStoreOp("delete", "ok")
	return nil
}

// RemainingTTL reports the time until eviction.
func (s *BadgerStore) RemainingTTL(ctx context.Context, id string) (time.Duration, error) {
	var remaining time.Duration
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(actionKey(id))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get action key: %w", err)
		}
		remaining = remainingFromItem(item)
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("action remaining ttl: %w", err)
	}
	if remaining <= 0 {
		return 0, ErrNotFound
	}
	return remaining, nil
}

// remainingFromItem computes the time left before BadgerDB evicts the item.
// ExpiresAt is an absolute Unix timestamp in seconds; 0 means no TTL was set.
func remainingFromItem(item *dgbadger.Item) time.Duration {
	exp := item.ExpiresAt()
	if exp == 0 {
		return DefaultTTL
	}
	remaining := time.Until(time.Unix(int64(exp), 0))
	if remaining <= 0 {
		return 0
	}
	if remaining < minBadgerTTL {
		return minBadgerTTL
	}
	return remaining
}

func actionKey(id string) []byte {
	return []byte(actionKeyPrefix + id)
}

func encodeAction(a *Action) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(a); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeAction(raw []byte) (*Action, error) {
	var a Action
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

// shortID returns the first 8 characters of an action id for log display.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
