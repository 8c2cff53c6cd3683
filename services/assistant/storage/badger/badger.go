// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps dgraph-io/badger v4 behind a small transactional API.
//
// Description:
//
//	The assistant keeps its durable state (pending write actions, campus
//	records) in BadgerDB. This package owns opening/closing the database,
//	value-log garbage collection, and the transaction helpers the rest of
//	the service uses. Callers never touch badger.DB directly — they run
//	functions inside WithTxn/WithReadTxn so every access is scoped and
//	released on all exit paths.
//
// Thread Safety:
//
//	*DB is safe for concurrent use. BadgerDB provides serializable
//	snapshot isolation per transaction.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

const (
	// defaultGCInterval is how often the value-log garbage collector runs.
	defaultGCInterval = 10 * time.Minute

	// gcDiscardRatio is the badger-recommended discard ratio for value-log GC.
	gcDiscardRatio = 0.5
)

// Config controls how the database is opened.
type Config struct {
	// Path is the directory for the Badger value log and LSM tree.
	// Ignored when InMemory is true.
	Path string

	// InMemory opens a non-persistent database. Used by tests and by the
	// degraded mode when the data volume is unavailable.
	InMemory bool

	// GCInterval is how often value-log GC runs. Zero means the default.
	GCInterval time.Duration

	// Logger receives badger's internal log lines. Nil means slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a persistent-database config with GC enabled.
// The caller sets Path before OpenDB.
func DefaultConfig() Config {
	return Config{GCInterval: defaultGCInterval}
}

// InMemoryConfig returns a config for a throwaway in-memory database.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// DB is an open Badger database plus its GC loop.
type DB struct {
	db     *badger.DB
	logger *slog.Logger

	gcStop chan struct{}
	gcDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// OpenDB opens (or creates) the database described by cfg.
//
// Description:
//
//	Persistent databases require cfg.Path; in-memory databases ignore it.
//	Badger's internal logging is routed through slog at debug/warn level so
//	its chatty compaction lines never hit the default output. A background
//	value-log GC loop starts immediately and stops on Close.
//
// Outputs:
//
//   - *DB: The open database. Never nil on success.
//   - error: Non-nil if the directory cannot be opened or locked.
func OpenDB(cfg Config) (*DB, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger: Config.Path is required for a persistent database")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(&slogAdapter{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %q: %w", cfg.Path, err)
	}

	d := &DB{
		db:     db,
		logger: logger,
		gcStop: make(chan struct{}),
		gcDone: make(chan struct{}),
	}

	interval := cfg.GCInterval
	if interval <= 0 {
		interval = defaultGCInterval
	}
	go d.gcLoop(interval)

	return d, nil
}

// WithTxn runs fn inside a read-write transaction and commits on success.
//
// Description:
//
//	The transaction is discarded if fn returns an error or the context is
//	already cancelled. Commit conflicts surface as badger.ErrConflict for
//	the caller to retry or fail.
//
// Thread Safety: Safe for concurrent use.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
//
// Thread Safety: Safe for concurrent use.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}

// NewTransaction hands out a raw read-write transaction for callers that
// need to hold one open across multiple operations (the unit-of-work path).
// The caller owns the transaction and must Commit or Discard it.
func (d *DB) NewTransaction() *badger.Txn {
	return d.db.NewTransaction(true)
}

// Close stops the GC loop and closes the underlying database.
// Safe to call more than once; later calls return the first result.
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		close(d.gcStop)
		<-d.gcDone
		d.closeErr = d.db.Close()
	})
	return d.closeErr
}

// gcLoop runs value-log GC on a ticker until Close.
//
// badger.ErrNoRewrite means there was nothing worth collecting; anything
// else is logged and the loop keeps going.
func (d *DB) gcLoop(interval time.Duration) {
	defer close(d.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.gcStop:
			return
		case <-ticker.C:
			for {
				err := d.db.RunValueLogGC(gcDiscardRatio)
				if err == nil {
					continue // a file was rewritten; try for another
				}
				if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
					d.logger.Warn("badger value-log GC failed", slog.String("error", err.Error()))
				}
				break
			}
		}
	}
}

// slogAdapter routes badger's internal logger onto slog.
// Compaction/flush chatter goes to Debug; real problems go to Warn/Error.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Errorf(format string, args ...interface{}) {
	a.logger.Error(fmt.Sprintf("badger: "+format, args...))
}

func (a *slogAdapter) Warningf(format string, args ...interface{}) {
	a.logger.Warn(fmt.Sprintf("badger: "+format, args...))
}

func (a *slogAdapter) Infof(format string, args ...interface{}) {
	a.logger.Debug(fmt.Sprintf("badger: "+format, args...))
}

func (a *slogAdapter) Debugf(format string, args ...interface{}) {
	a.logger.Debug(fmt.Sprintf("badger: "+format, args...))
}
