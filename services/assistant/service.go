// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assistant assembles the tool invocation service: the campus tool
// catalog behind a dispatcher, the two-phase write coordinator, and the
// conversation layer, exposed over gin routes (REST + WebSocket).
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/PeterGuk540/aristai-sub000/services/assistant/actions"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/campus"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/catalog"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/conversation"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/coordinator"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/dispatch"
	badgerstore "github.com/PeterGuk540/aristai-sub000/services/assistant/storage/badger"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/tools"
)

// ServiceConfig carries the assembly knobs for the assistant service.
type ServiceConfig struct {
	// ActionTTL bounds how long a planned write stays confirmable.
	ActionTTL time.Duration

	// ContextTTL is the sliding idle window for conversation contexts.
	ContextTTL time.Duration

	// MaxRetries bounds failures per conversation step.
	MaxRetries int

	// Phrases overrides the built-in yes/no/skip phrase sets when non-zero.
	Phrases conversation.Phrases

	// PhraseSource, when set, wins over Phrases and is consulted on every
	// turn. Wire config.CurrentPhrases here to pick up hot-reloaded
	// override files.
	PhraseSource func() conversation.Phrases

	// SeedCampus loads the demo campus data during warmup.
	SeedCampus bool

	// Logger receives structured service logs. Nil means slog.Default().
	Logger *slog.Logger
}

// DefaultServiceConfig returns the production defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ActionTTL:  actions.DefaultTTL,
		ContextTTL: conversation.DefaultContextTTL,
		MaxRetries: conversation.MaxRetries,
	}
}

// Service owns the assembled assistant subsystems. Build one with NewService
// and expose it through Handlers/RegisterRoutes.
//
// Thread Safety: Safe for concurrent use once constructed.
type Service struct {
	registry    *tools.Registry
	dispatcher  *dispatch.Dispatcher
	coordinator *coordinator.Coordinator
	machine     *conversation.Machine
	contexts    *conversation.Registry
	campus      *campus.Store
	actionStore actions.Store
	logger      *slog.Logger
	seedCampus  bool
	ready       atomic.Bool
}

// NewService wires the full stack over the given Badger database and action
// store. The database backs the campus records and unit-of-work
// transactions; the action store may be Badger-backed or in-memory.
func NewService(db *badgerstore.DB, actionStore actions.Store, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ActionTTL <= 0 {
		cfg.ActionTTL = actions.DefaultTTL
	}
	if cfg.ContextTTL <= 0 {
		cfg.ContextTTL = conversation.DefaultContextTTL
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = conversation.MaxRetries
	}

	campusStore := campus.NewStore(db, logger)
	registry := catalog.BuildRegistry(campusStore, logger)
	dispatcher := dispatch.NewDispatcher(registry, campusStore,
		dispatch.WithLogger(logger),
		dispatch.WithLimiter(dispatch.NewToolLimiter()),
	)
	coord := coordinator.New(registry, actionStore, dispatcher, cfg.ActionTTL, logger)

	machineOpts := []conversation.MachineOption{
		conversation.WithLogger(logger),
		conversation.WithMaxRetries(cfg.MaxRetries),
	}
	switch {
	case cfg.PhraseSource != nil:
		machineOpts = append(machineOpts, conversation.WithPhraseSource(cfg.PhraseSource))
	case len(cfg.Phrases.Affirmative) > 0:
		machineOpts = append(machineOpts, conversation.WithPhrases(cfg.Phrases))
	}

	return &Service{
		registry:    registry,
		dispatcher:  dispatcher,
		coordinator: coord,
		machine:     conversation.NewMachine(registry, coord, dispatcher, machineOpts...),
		contexts:    conversation.NewContextRegistry(cfg.ContextTTL),
		campus:      campusStore,
		actionStore: actionStore,
		logger:      logger,
		seedCampus:  cfg.SeedCampus,
	}
}

// Warmup prepares the service for traffic: seeds the campus data when
// configured and flips the readiness gate. Requests arriving before Warmup
// finishes are rejected by the warmup middleware with 503. A failed seed
// degrades to an empty campus rather than holding the gate closed; only
// cancellation aborts warmup.
func (s *Service) Warmup(ctx context.Context) error {
	if s.seedCampus {
		if err := s.campus.Seed(ctx, campus.DefaultSeed()); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("seed campus: %w", err)
			}
			s.logger.Warn("campus seed failed; starting with an empty campus",
				slog.Any("error", err))
		}
	}
	s.ready.Store(true)
	s.logger.Info("assistant service ready",
		slog.Int("tools", s.registry.Count()),
		slog.Bool("seeded", s.seedCampus),
	)
	return nil
}

// Ready reports whether warmup has completed.
func (s *Service) Ready() bool {
	return s.ready.Load()
}

// Registry exposes the tool catalog, mainly for the CLI and tests.
func (s *Service) Registry() *tools.Registry {
	return s.registry
}
