// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package campus stores the records the built-in tool catalog operates on:
// courses, their scheduled sessions, and student enrollments.
//
// Description:
//
//	The store is the reference collaborator for write tools. Reads go
//	through short-lived read transactions; writes run inside a Txn that a
//	tool invocation exclusively owns — the dispatcher acquires one per
//	invocation, the handler does its work through it, and the dispatcher
//	commits on success or rolls back on every failure path. A tool that
//	half-finishes therefore leaves nothing behind.
//
// Thread Safety:
//
//	*Store is safe for concurrent use. A *Txn belongs to one invocation
//	and must not be shared.
package campus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/PeterGuk540/aristai-sub000/services/assistant/dispatch"
	badgerstore "github.com/PeterGuk540/aristai-sub000/services/assistant/storage/badger"
)

var campusTracer = otel.Tracer("assistant.campus")

// seedConcurrency bounds parallel writes during seeding.
const seedConcurrency = 4

// =============================================================================
// Errors
// =============================================================================

// ErrNotFound is returned when no record exists under the requested key.
var ErrNotFound = errors.New("campus: record not found")

// ErrTxnFinished is returned when a record operation or second Commit is
// attempted on a transaction that was already committed or rolled back.
var ErrTxnFinished = errors.New("campus: transaction already finished")

// =============================================================================
// Store
// =============================================================================

// Store is the Badger-backed campus record store. It doubles as the
// dispatcher's unit-of-work factory: Acquire hands out one fresh write
// transaction per invocation.
type Store struct {
	db     *badgerstore.DB
	logger *slog.Logger

	// now is the clock; tests substitute it for deterministic timestamps.
	now func() time.Time
}

var (
	_ dispatch.UnitOfWorkFactory = (*Store)(nil)
	_ dispatch.UnitOfWork        = (*Txn)(nil)
)

// NewStore builds a Store over an open database.
func NewStore(db *badgerstore.DB, logger *slog.Logger) *Store {
	if db == nil {
		panic("campus: nil database")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger, now: time.Now}
}

// Acquire implements dispatch.UnitOfWorkFactory. Each call returns a fresh
// exclusively owned write transaction.
func (s *Store) Acquire(ctx context.Context) (dispatch.UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Txn{txn: s.db.NewTransaction(), now: s.now}, nil
}

// =============================================================================
// Txn — the unit of work
// =============================================================================

const (
	txnOpen int32 = iota
	txnCommitted
	txnRolledBack
)

// Txn is one exclusively owned read-write transaction over the campus
// records. Handlers receive it as their invocation's unit of work and
// operate on records through it; the dispatcher settles it afterwards.
//
// Commit and Rollback ignore their context: settling a local Badger
// transaction is fast and must not be abandoned half-way because a caller
// disconnected after the handler already succeeded.
type Txn struct {
	txn   *badger.Txn
	now   func() time.Time
	state atomic.Int32
}

// Commit implements dispatch.UnitOfWork.
func (t *Txn) Commit(ctx context.Context) error {
	if !t.state.CompareAndSwap(txnOpen, txnCommitted) {
		return ErrTxnFinished
	}
	if err := t.txn.Commit(); err != nil {
		return fmt.Errorf("campus: commit: %w", err)
	}
	return nil
}

// Rollback implements dispatch.UnitOfWork. It is idempotent, and a rollback
// after Commit is a no-op.
func (t *Txn) Rollback(ctx context.Context) error {
	if t.state.CompareAndSwap(txnOpen, txnRolledBack) {
		t.txn.Discard()
	}
	return nil
}

func (t *Txn) guard() error {
	if t.state.Load() != txnOpen {
		return ErrTxnFinished
	}
	return nil
}

// PutCourse upserts a course, assigning an id and timestamps as needed.
func (t *Txn) PutCourse(course *Course) error {
	if err := t.guard(); err != nil {
		return err
	}
	return putCourse(t.txn, course, t.now)
}

// GetCourse reads one course. The transaction sees its own writes.
func (t *Txn) GetCourse(id string) (*Course, error) {
	if err := t.guard(); err != nil {
		return nil, err
	}
	return getCourse(t.txn, id)
}

// DeleteCourse removes one course, failing with ErrNotFound if it does not
// exist. Sessions and enrollments are separate records; callers that want a
// cascade delete those explicitly.
func (t *Txn) DeleteCourse(id string) error {
	if err := t.guard(); err != nil {
		return err
	}
	if _, err := getCourse(t.txn, id); err != nil {
		return err
	}
	return t.txn.Delete(courseKey(id))
}

// ListCourses returns every course ordered by creation time.
func (t *Txn) ListCourses() ([]*Course, error) {
	if err := t.guard(); err != nil {
		return nil, err
	}
	return listCourses(t.txn)
}

// PutSession upserts a session.
func (t *Txn) PutSession(session *Session) error {
	if err := t.guard(); err != nil {
		return err
	}
	return putSession(t.txn, session, t.now)
}

// GetSession reads one session.
func (t *Txn) GetSession(id string) (*Session, error) {
	if err := t.guard(); err != nil {
		return nil, err
	}
	return getSession(t.txn, id)
}

// DeleteSession removes one session, failing with ErrNotFound if missing.
func (t *Txn) DeleteSession(id string) error {
	if err := t.guard(); err != nil {
		return err
	}
	if _, err := getSession(t.txn, id); err != nil {
		return err
	}
	return t.txn.Delete(sessionKey(id))
}

// ListSessionsByCourse returns a course's sessions ordered by start time.
func (t *Txn) ListSessionsByCourse(courseID string) ([]*Session, error) {
	if err := t.guard(); err != nil {
		return nil, err
	}
	return listSessions(t.txn, courseID)
}

// PutEnrollment upserts an enrollment keyed by (course, student).
func (t *Txn) PutEnrollment(enr *Enrollment) error {
	if err := t.guard(); err != nil {
		return err
	}
	return putEnrollment(t.txn, enr, t.now)
}

// GetEnrollment reads one enrollment.
func (t *Txn) GetEnrollment(courseID, studentID string) (*Enrollment, error) {
	if err := t.guard(); err != nil {
		return nil, err
	}
	return getEnrollment(t.txn, courseID, studentID)
}

// DeleteEnrollment removes one enrollment, failing with ErrNotFound if
// missing.
func (t *Txn) DeleteEnrollment(courseID, studentID string) error {
	if err := t.guard(); err != nil {
		return err
	}
	if _, err := getEnrollment(t.txn, courseID, studentID); err != nil {
		return err
	}
	return t.txn.Delete(enrollmentKey(courseID, studentID))
}

// ListEnrollmentsByCourse returns a course's enrollments ordered by
// enrollment time.
func (t *Txn) ListEnrollmentsByCourse(courseID string) ([]*Enrollment, error) {
	if err := t.guard(); err != nil {
		return nil, err
	}
	return listEnrollments(t.txn, courseID)
}

// CountEnrollments reports how many students a course currently has.
func (t *Txn) CountEnrollments(courseID string) (int, error) {
	if err := t.guard(); err != nil {
		return 0, err
	}
	return countEnrollments(t.txn, courseID)
}

// =============================================================================
// Read-only access
// =============================================================================

// GetCourse reads one course in a short-lived read transaction.
func (s *Store) GetCourse(ctx context.Context, id string) (*Course, error) {
	var course *Course
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		c, err := getCourse(txn, id)
		if err != nil {
			return err
		}
		course = c
		return nil
	})
	return course, err
}

// ListCourses returns every course ordered by creation time.
func (s *Store) ListCourses(ctx context.Context) ([]*Course, error) {
	var courses []*Course
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		cs, err := listCourses(txn)
		if err != nil {
			return err
		}
		courses = cs
		return nil
	})
	return courses, err
}

// GetSession reads one session.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var session *Session
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		sess, err := getSession(txn, id)
		if err != nil {
			return err
		}
		session = sess
		return nil
	})
	return session, err
}

// ListSessionsByCourse returns a course's sessions ordered by start time.
func (s *Store) ListSessionsByCourse(ctx context.Context, courseID string) ([]*Session, error) {
	var sessions []*Session
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		ss, err := listSessions(txn, courseID)
		if err != nil {
			return err
		}
		sessions = ss
		return nil
	})
	return sessions, err
}

// ListEnrollmentsByCourse returns a course's enrollments ordered by
// enrollment time.
func (s *Store) ListEnrollmentsByCourse(ctx context.Context, courseID string) ([]*Enrollment, error) {
	var enrollments []*Enrollment
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		es, err := listEnrollments(txn, courseID)
		if err != nil {
			return err
		}
		enrollments = es
		return nil
	})
	return enrollments, err
}

// CountEnrollments reports how many students a course currently has.
func (s *Store) CountEnrollments(ctx context.Context, courseID string) (int, error) {
	var n int
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		count, err := countEnrollments(txn, courseID)
		if err != nil {
			return err
		}
		n = count
		return nil
	})
	return n, err
}

// =============================================================================
// Shared record helpers
// =============================================================================

func putCourse(txn *badger.Txn, course *Course, now func() time.Time) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	ts := now()
	if course.CreatedAt.IsZero() {
		course.CreatedAt = ts
	}
	course.UpdatedAt = ts
	raw, err := encodeRecord(course)
	if err != nil {
		return err
	}
	return txn.Set(courseKey(course.ID), raw)
}

func getCourse(txn *badger.Txn, id string) (*Course, error) {
	item, err := txn.Get(courseKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("campus: get course: %w", err)
	}
	var course Course
	if err := item.Value(func(val []byte) error {
		return decodeRecord(val, &course)
	}); err != nil {
		return nil, err
	}
	return &course, nil
}

func listCourses(txn *badger.Txn) ([]*Course, error) {
	prefix := []byte(coursePrefix)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	var out []*Course
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		var course Course
		if err := it.Item().Value(func(val []byte) error {
			return decodeRecord(val, &course)
		}); err != nil {
			return nil, err
		}
		out = append(out, &course)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func putSession(txn *badger.Txn, session *Session, now func() time.Time) error {
	if session.CourseID == "" {
		return fmt.Errorf("campus: session requires a course id")
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now()
	}
	raw, err := encodeRecord(session)
	if err != nil {
		return err
	}
	return txn.Set(sessionKey(session.ID), raw)
}

func getSession(txn *badger.Txn, id string) (*Session, error) {
	item, err := txn.Get(sessionKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("campus: get session: %w", err)
	}
	var session Session
	if err := item.Value(func(val []byte) error {
		return decodeRecord(val, &session)
	}); err != nil {
		return nil, err
	}
	return &session, nil
}

// listSessions scans all sessions and filters by course. The session space
// is small enough that a filtered scan beats maintaining a second index.
func listSessions(txn *badger.Txn, courseID string) ([]*Session, error) {
	prefix := []byte(sessionPrefix)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	var out []*Session
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		var session Session
		if err := it.Item().Value(func(val []byte) error {
			return decodeRecord(val, &session)
		}); err != nil {
			return nil, err
		}
		if courseID != "" && session.CourseID != courseID {
			continue
		}
		out = append(out, &session)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.Before(out[j].StartsAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func putEnrollment(txn *badger.Txn, enr *Enrollment, now func() time.Time) error {
	if enr.CourseID == "" || enr.StudentID == "" {
		return fmt.Errorf("campus: enrollment requires course and student ids")
	}
	if enr.EnrolledAt.IsZero() {
		enr.EnrolledAt = now()
	}
	raw, err := encodeRecord(enr)
	if err != nil {
		return err
	}
	return txn.Set(enrollmentKey(enr.CourseID, enr.StudentID), raw)
}

func getEnrollment(txn *badger.Txn, courseID, studentID string) (*Enrollment, error) {
	item, err := txn.Get(enrollmentKey(courseID, studentID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("campus: get enrollment: %w", err)
	}
	var enr Enrollment
	if err := item.Value(func(val []byte) error {
		return decodeRecord(val, &enr)
	}); err != nil {
		return nil, err
	}
	return &enr, nil
}

func listEnrollments(txn *badger.Txn, courseID string) ([]*Enrollment, error) {
	prefix := []byte(enrollmentPrefix + courseID + "/")
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	var out []*Enrollment
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		var enr Enrollment
		if err := it.Item().Value(func(val []byte) error {
			return decodeRecord(val, &enr)
		}); err != nil {
			return nil, err
		}
		out = append(out, &enr)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnrolledAt.Equal(out[j].EnrolledAt) {
			return out[i].EnrolledAt.Before(out[j].EnrolledAt)
		}
		return out[i].StudentID < out[j].StudentID
	})
	return out, nil
}

// countEnrollments is a key-only scan; values are never fetched.
func countEnrollments(txn *badger.Txn, courseID string) (int, error) {
	prefix := []byte(enrollmentPrefix + courseID + "/")
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false

	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		n++
	}
	return n, nil
}
