// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/PeterGuk540/aristai-sub000/services/assistant/campus"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/tools"
)

// EnrollmentTools serves roster reads and the enroll/drop writes. Enroll is
// where the unit of work earns its keep: the capacity check and the insert
// see the same snapshot, so two racing enrolls can't both squeeze into the
// last seat of a committed roster.
type EnrollmentTools struct {
	store  *campus.Store
	logger *slog.Logger
}

// List returns a course's roster.
func (t *EnrollmentTools) List(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	courseID, _ := tools.TrimmedStringParam(inv.Args, "course_id")

	course, err := t.store.GetCourse(ctx, courseID)
	if errors.Is(err, campus.ErrNotFound) {
		return fail("no course with id %s", courseID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get course %s: %w", courseID, err)
	}

	enrollments, err := t.store.ListEnrollmentsByCourse(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("list enrollments for %s: %w", courseID, err)
	}

	students := make([]any, 0, len(enrollments))
	for _, e := range enrollments {
		students = append(students, map[string]any{
			"student_id":  e.StudentID,
			"enrolled_at": e.EnrolledAt,
		})
	}
	return ok(map[string]any{
		"message":  fmt.Sprintf("%s has %s enrolled.", course.Title, plural(len(students), "student")),
		"students": students,
		"count":    len(students),
		"path":     coursePath(courseID),
	}), nil
}

// Enroll adds a student to a course if there is a seat left.
func (t *EnrollmentTools) Enroll(_ context.Context, inv *tools.Invocation) (*tools.Result, error) {
	txn, err := campusTxn(inv)
	if err != nil {
		return nil, err
	}

	courseID, _ := tools.TrimmedStringParam(inv.Args, "course_id")
	studentID, _ := tools.TrimmedStringParam(inv.Args, "student_id")

	course, err := txn.GetCourse(courseID)
	if errors.Is(err, campus.ErrNotFound) {
		return fail("no course with id %s", courseID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load course %s: %w", courseID, err)
	}

	_, err = txn.GetEnrollment(courseID, studentID)
	if err == nil {
		return fail("%s is already enrolled in %q", studentID, course.Title), nil
	}
	if !errors.Is(err, campus.ErrNotFound) {
		return nil, fmt.Errorf("check enrollment %s/%s: %w", courseID, studentID, err)
	}

	if course.Capacity > 0 {
		enrolled, cerr := txn.CountEnrollments(courseID)
		if cerr != nil {
			return nil, fmt.Errorf("count enrollments for %s: %w", courseID, cerr)
		}
		if enrolled >= course.Capacity {
			return fail("%q is full (%d seats)", course.Title, course.Capacity), nil
		}
	}

	if err := txn.PutEnrollment(&campus.Enrollment{CourseID: courseID, StudentID: studentID}); err != nil {
		return nil, fmt.Errorf("enroll %s in %s: %w", studentID, courseID, err)
	}

	t.logger.Info("student enrolled", "course_id", courseID, "student_id", studentID, "actor", inv.Actor)
	return ok(map[string]any{
		"message":    fmt.Sprintf("Enrolled %s in %q.", studentID, course.Title),
		"course_id":  courseID,
		"student_id": studentID,
		"path":       coursePath(courseID),
	}), nil
}

// Drop removes a student from a course.
func (t *EnrollmentTools) Drop(_ context.Context, inv *tools.Invocation) (*tools.Result, error) {
	txn, err := campusTxn(inv)
	if err != nil {
		return nil, err
	}

	courseID, _ := tools.TrimmedStringParam(inv.Args, "course_id")
	studentID, _ := tools.TrimmedStringParam(inv.Args, "student_id")

	course, err := txn.GetCourse(courseID)
	if errors.Is(err, campus.ErrNotFound) {
		return fail("no course with id %s", courseID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load course %s: %w", courseID, err)
	}

	if _, err := txn.GetEnrollment(courseID, studentID); errors.Is(err, campus.ErrNotFound) {
		return fail("%s isn't enrolled in %q", studentID, course.Title), nil
	} else if err != nil {
		return nil, fmt.Errorf("check enrollment %s/%s: %w", courseID, studentID, err)
	}

	if err := txn.DeleteEnrollment(courseID, studentID); err != nil {
		return nil, fmt.Errorf("drop %s from %s: %w", studentID, courseID, err)
	}

	t.logger.Info("student dropped", "course_id", courseID, "student_id", studentID, "actor", inv.Actor)
	return ok(map[string]any{
		"message":    fmt.Sprintf("Dropped %s from %q.", studentID, course.Title),
		"course_id":  courseID,
		"student_id": studentID,
	}), nil
}
