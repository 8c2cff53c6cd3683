// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package campus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Seed is a batch of campus records loaded at startup or in tests. Records
// carry fixed ids so re-seeding is an upsert, not a duplication.
type Seed struct {
	Courses     []Course
	Sessions    []Session
	Enrollments []Enrollment
}

// Seed writes the batch with bounded parallelism. Courses land first since
// sessions and enrollments reference them; the two dependent groups then
// load concurrently.
func (s *Store) Seed(ctx context.Context, seed Seed) error {
	ctx, span := campusTracer.Start(ctx, "campus.Seed",
		trace.WithAttributes(
			attribute.Int("seed.courses", len(seed.Courses)),
			attribute.Int("seed.sessions", len(seed.Sessions)),
			attribute.Int("seed.enrollments", len(seed.Enrollments)),
		))
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, seedConcurrency)
	for _, course := range seed.Courses {
		course := course
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				return gctx.Err()
			}
			return s.writeCourse(gctx, &course)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("campus: seed courses: %w", err)
	}

	g, gctx = errgroup.WithContext(ctx)
	sem = make(chan struct{}, seedConcurrency)
	for _, session := range seed.Sessions {
		session := session
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				return gctx.Err()
			}
			return s.writeSession(gctx, &session)
		})
	}
	for _, enr := range seed.Enrollments {
		enr := enr
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				return gctx.Err()
			}
			return s.writeEnrollment(gctx, &enr)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("campus: seed records: %w", err)
	}

	s.logger.Info("campus seed complete",
		slog.Int("courses", len(seed.Courses)),
		slog.Int("sessions", len(seed.Sessions)),
		slog.Int("enrollments", len(seed.Enrollments)),
	)
	return nil
}

func (s *Store) writeCourse(ctx context.Context, course *Course) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return putCourse(txn, course, s.now)
	})
}

func (s *Store) writeSession(ctx context.Context, session *Session) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return putSession(txn, session, s.now)
	})
}

func (s *Store) writeEnrollment(ctx context.Context, enr *Enrollment) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return putEnrollment(txn, enr, s.now)
	})
}

// DefaultSeed returns the demo campus: three courses, their weekly
// sessions, and a handful of enrollments.
func DefaultSeed() Seed {
	term := time.Date(2025, time.September, 8, 9, 0, 0, 0, time.UTC)
	return Seed{
		Courses: []Course{
			{
				ID:          "crs-hist-101",
				Title:       "World History",
				Subject:     "History",
				Description: "Survey of global history from antiquity to the present.",
				Capacity:    30,
			},
			{
				ID:          "crs-phys-201",
				Title:       "Classical Mechanics",
				Subject:     "Physics",
				Description: "Newtonian mechanics with weekly lab work.",
				Capacity:    24,
			},
			{
				ID:          "crs-chem-110",
				Title:       "Foundations of Chemistry",
				Subject:     "Chemistry",
				Description: "Atomic structure, bonding, and stoichiometry.",
				Capacity:    28,
			},
		},
		Sessions: []Session{
			{
				ID:       "ses-hist-101-mon",
				CourseID: "crs-hist-101",
				Title:    "Lecture",
				StartsAt: term,
				EndsAt:   term.Add(90 * time.Minute),
				Location: "Hall B",
			},
			{
				ID:       "ses-hist-101-thu",
				CourseID: "crs-hist-101",
				Title:    "Seminar",
				StartsAt: term.AddDate(0, 0, 3).Add(2 * time.Hour),
				EndsAt:   term.AddDate(0, 0, 3).Add(3 * time.Hour),
				Location: "Room 12",
			},
			{
				ID:       "ses-phys-201-tue",
				CourseID: "crs-phys-201",
				Title:    "Lecture",
				StartsAt: term.AddDate(0, 0, 1),
				EndsAt:   term.AddDate(0, 0, 1).Add(2 * time.Hour),
				Location: "Hall A",
			},
			{
				ID:       "ses-phys-201-fri",
				CourseID: "crs-phys-201",
				Title:    "Lab",
				StartsAt: term.AddDate(0, 0, 4).Add(4 * time.Hour),
				EndsAt:   term.AddDate(0, 0, 4).Add(7 * time.Hour),
				Location: "Lab 3",
			},
			{
				ID:       "ses-chem-110-wed",
				CourseID: "crs-chem-110",
				Title:    "Lecture",
				StartsAt: term.AddDate(0, 0, 2).Add(time.Hour),
				EndsAt:   term.AddDate(0, 0, 2).Add(2 * time.Hour),
				Location: "Hall C",
			},
		},
		Enrollments: []Enrollment{
			{CourseID: "crs-hist-101", StudentID: "stu-100"},
			{CourseID: "crs-hist-101", StudentID: "stu-101"},
			{CourseID: "crs-phys-201", StudentID: "stu-100"},
			{CourseID: "crs-chem-110", StudentID: "stu-102"},
		},
	}
}
