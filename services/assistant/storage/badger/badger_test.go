// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(InMemoryConfig())
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenDB_PersistentRequiresPath(t *testing.T) {
	_, err := OpenDB(DefaultConfig())
	if err == nil {
		t.Fatal("expected error for persistent config without Path")
	}
}

func TestWithTxn_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte("k1"), []byte("v1"))
	})
	if err != nil {
		t.Fatalf("WithTxn set: %v", err)
	}

	var got []byte
	err = db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("k1"))
		if err != nil {
			return err
		}
		got, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		t.Fatalf("WithReadTxn get: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("value = %q, want %q", got, "v1")
	}
}

func TestWithTxn_ErrorDiscards(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set([]byte("k2"), []byte("v2")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTxn error = %v, want boom", err)
	}

	err = db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("k2"))
		return err
	})
	if !errors.Is(err, badger.ErrKeyNotFound) {
		t.Errorf("expected key absent after failed txn, got %v", err)
	}
}

func TestWithTxn_CancelledContext(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := db.WithTxn(ctx, func(txn *badger.Txn) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("WithTxn err = %v, want context.Canceled", err)
	}
	err = db.WithReadTxn(ctx, func(txn *badger.Txn) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("WithReadTxn err = %v, want context.Canceled", err)
	}
}

func TestEntryTTL_Expires(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.WithTxn(ctx, func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte("ttl-key"), []byte("soon gone")).WithTTL(1 * time.Second)
		return txn.SetEntry(entry)
	})
	if err != nil {
		t.Fatalf("set with TTL: %v", err)
	}

	// Visible before expiry.
	err = db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("ttl-key"))
		return err
	})
	if err != nil {
		t.Fatalf("expected key before expiry, got %v", err)
	}

	time.Sleep(1100 * time.Millisecond)

	err = db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("ttl-key"))
		return err
	})
	if !errors.Is(err, badger.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound after expiry, got %v", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	db, err := OpenDB(InMemoryConfig())
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestNewTransaction_ManualCommit(t *testing.T) {
	db := openTestDB(t)

	txn := db.NewTransaction()
	if err := txn.Set([]byte("manual"), []byte("1")); err != nil {
		txn.Discard()
		t.Fatalf("set: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	err := db.WithReadTxn(context.Background(), func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("manual"))
		return err
	})
	if err != nil {
		t.Errorf("expected committed key, got %v", err)
	}
}
