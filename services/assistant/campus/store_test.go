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
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	badgerstore "github.com/PeterGuk540/aristai-sub000/services/assistant/storage/badger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := badgerstore.OpenDB(badgerstore.Config{
		InMemory: true,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("open in-memory badger: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close badger: %v", err)
		}
	})
	return NewStore(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func acquireTxn(t *testing.T, s *Store) *Txn {
	t.Helper()
	uow, err := s.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire unit of work: %v", err)
	}
	return uow.(*Txn)
}

func TestCourseRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	txn := acquireTxn(t, s)
	course := &Course{Title: "World History", Subject: "History", Capacity: 30}
	if err := txn.PutCourse(course); err != nil {
		t.Fatalf("put course: %v", err)
	}
	if course.ID == "" {
		t.Fatal("put must assign an id")
	}
	if course.CreatedAt.IsZero() || course.UpdatedAt.IsZero() {
		t.Fatal("put must assign timestamps")
	}

	// The transaction sees its own write before commit.
	got, err := txn.GetCourse(course.ID)
	if err != nil {
		t.Fatalf("get inside txn: %v", err)
	}
	if got.Title != "World History" {
		t.Fatalf("got title %q, want %q", got.Title, "World History")
	}

	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err = s.GetCourse(ctx, course.ID)
	if err != nil {
		t.Fatalf("get after commit: %v", err)
	}
	if got.Subject != "History" {
		t.Fatalf("got subject %q, want %q", got.Subject, "History")
	}
}

func TestRollbackDiscardsWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	txn := acquireTxn(t, s)
	course := &Course{Title: "Ghost Course", Subject: "None"}
	if err := txn.PutCourse(course); err != nil {
		t.Fatalf("put course: %v", err)
	}
	if err := txn.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	if _, err := s.GetCourse(ctx, course.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound after rollback", err)
	}
}

func TestTxnSettlementRules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("rollback is idempotent", func(t *testing.T) {
		txn := acquireTxn(t, s)
		if err := txn.Rollback(ctx); err != nil {
			t.Fatalf("first rollback: %v", err)
		}
		if err := txn.Rollback(ctx); err != nil {
			t.Fatalf("second rollback: %v", err)
		}
	})

	t.Run("rollback after commit is a no-op", func(t *testing.T) {
		txn := acquireTxn(t, s)
		course := &Course{Title: "Kept", Subject: "History"}
		if err := txn.PutCourse(course); err != nil {
			t.Fatalf("put: %v", err)
		}
		if err := txn.Commit(ctx); err != nil {
			t.Fatalf("commit: %v", err)
		}
		if err := txn.Rollback(ctx); err != nil {
			t.Fatalf("rollback after commit: %v", err)
		}
		if _, err := s.GetCourse(ctx, course.ID); err != nil {
			t.Fatalf("record must survive a post-commit rollback: %v", err)
		}
	})

	t.Run("second commit fails", func(t *testing.T) {
		txn := acquireTxn(t, s)
		if err := txn.Commit(ctx); err != nil {
			t.Fatalf("commit: %v", err)
		}
		if err := txn.Commit(ctx); !errors.Is(err, ErrTxnFinished) {
			t.Fatalf("got %v, want ErrTxnFinished", err)
		}
	})

	t.Run("operations after settle fail", func(t *testing.T) {
		txn := acquireTxn(t, s)
		if err := txn.Rollback(ctx); err != nil {
			t.Fatalf("rollback: %v", err)
		}
		if err := txn.PutCourse(&Course{Title: "Late"}); !errors.Is(err, ErrTxnFinished) {
			t.Fatalf("got %v, want ErrTxnFinished", err)
		}
		if _, err := txn.ListCourses(); !errors.Is(err, ErrTxnFinished) {
			t.Fatalf("got %v, want ErrTxnFinished", err)
		}
	})
}

func TestAcquireHandsOutIsolatedTxns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := acquireTxn(t, s)
	second := acquireTxn(t, s)
	if first == second {
		t.Fatal("acquire must return distinct transactions")
	}

	course := &Course{Title: "Isolated", Subject: "Physics"}
	if err := first.PutCourse(course); err != nil {
		t.Fatalf("put in first txn: %v", err)
	}
	if err := first.Commit(ctx); err != nil {
		t.Fatalf("commit first: %v", err)
	}

	// The second transaction's snapshot predates the commit.
	if _, err := second.GetCourse(course.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound under snapshot isolation", err)
	}
	if err := second.Rollback(ctx); err != nil {
		t.Fatalf("rollback second: %v", err)
	}
}

func TestDeleteCourse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	txn := acquireTxn(t, s)
	course := &Course{Title: "Doomed", Subject: "History"}
	if err := txn.PutCourse(course); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := txn.DeleteCourse(course.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if _, err := s.GetCourse(ctx, course.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}

	txn = acquireTxn(t, s)
	defer txn.Rollback(ctx)
	if err := txn.DeleteCourse("no-such-course"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound for missing course", err)
	}
}

func TestListCoursesOrderedByCreation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	txn := acquireTxn(t, s)
	later := &Course{ID: "crs-b", Title: "Later", Subject: "History", CreatedAt: base.Add(time.Hour)}
	earlier := &Course{ID: "crs-a", Title: "Earlier", Subject: "History", CreatedAt: base}
	if err := txn.PutCourse(later); err != nil {
		t.Fatalf("put later: %v", err)
	}
	if err := txn.PutCourse(earlier); err != nil {
		t.Fatalf("put earlier: %v", err)
	}
	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	courses, err := s.ListCourses(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(courses) != 2 {
		t.Fatalf("got %d courses, want 2", len(courses))
	}
	if courses[0].ID != "crs-a" || courses[1].ID != "crs-b" {
		t.Fatalf("got order [%s %s], want [crs-a crs-b]", courses[0].ID, courses[1].ID)
	}
}

func TestSessionsByCourse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2025, 9, 8, 9, 0, 0, 0, time.UTC)
	txn := acquireTxn(t, s)
	sessions := []*Session{
		{ID: "ses-2", CourseID: "crs-1", Title: "Seminar", StartsAt: start.Add(2 * time.Hour)},
		{ID: "ses-1", CourseID: "crs-1", Title: "Lecture", StartsAt: start},
		{ID: "ses-3", CourseID: "crs-2", Title: "Lab", StartsAt: start},
	}
	for _, sess := range sessions {
		if err := txn.PutSession(sess); err != nil {
			t.Fatalf("put session %s: %v", sess.ID, err)
		}
	}
	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := s.ListSessionsByCourse(ctx, "crs-1")
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d sessions, want 2", len(got))
	}
	if got[0].ID != "ses-1" || got[1].ID != "ses-2" {
		t.Fatalf("got order [%s %s], want start-time order [ses-1 ses-2]", got[0].ID, got[1].ID)
	}

	t.Run("session requires a course", func(t *testing.T) {
		txn := acquireTxn(t, s)
		defer txn.Rollback(ctx)
		if err := txn.PutSession(&Session{Title: "Orphan"}); err == nil {
			t.Fatal("expected an error for a session without a course id")
		}
	})
}

func TestEnrollmentIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	txn := acquireTxn(t, s)
	first := &Enrollment{CourseID: "crs-1", StudentID: "stu-1"}
	if err := txn.PutEnrollment(first); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	// Same (course, student) pair: an upsert, not a second seat.
	if err := txn.PutEnrollment(&Enrollment{CourseID: "crs-1", StudentID: "stu-1"}); err != nil {
		t.Fatalf("re-enroll: %v", err)
	}
	if err := txn.PutEnrollment(&Enrollment{CourseID: "crs-1", StudentID: "stu-2"}); err != nil {
		t.Fatalf("enroll second student: %v", err)
	}
	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	n, err := s.CountEnrollments(ctx, "crs-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("got %d enrollments, want 2", n)
	}

	txn = acquireTxn(t, s)
	if err := txn.DeleteEnrollment("crs-1", "stu-1"); err != nil {
		t.Fatalf("delete enrollment: %v", err)
	}
	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("commit delete: %v", err)
	}

	if _, err := s.ListEnrollmentsByCourse(ctx, "crs-1"); err != nil {
		t.Fatalf("list enrollments: %v", err)
	}
	n, err = s.CountEnrollments(ctx, "crs-1")
	if err != nil {
		t.Fatalf("recount: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d enrollments after delete, want 1", n)
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Seed(ctx, DefaultSeed()); err != nil {
		t.Fatalf("first seed: %v", err)
	}
	if err := s.Seed(ctx, DefaultSeed()); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	courses, err := s.ListCourses(ctx)
	if err != nil {
		t.Fatalf("list courses: %v", err)
	}
	if len(courses) != 3 {
		t.Fatalf("got %d courses after double seed, want 3", len(courses))
	}

	sessions, err := s.ListSessionsByCourse(ctx, "crs-hist-101")
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d history sessions, want 2", len(sessions))
	}
	if sessions[0].ID != "ses-hist-101-mon" {
		t.Fatalf("got first session %s, want the Monday lecture", sessions[0].ID)
	}

	n, err := s.CountEnrollments(ctx, "crs-hist-101")
	if err != nil {
		t.Fatalf("count enrollments: %v", err)
	}
	if n != 2 {
		t.Fatalf("got %d history enrollments, want 2", n)
	}
}
