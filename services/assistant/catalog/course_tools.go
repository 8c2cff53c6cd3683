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
	"strings"

	"github.com/PeterGuk540/aristai-sub000/services/assistant/campus"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/tools"
)

// CourseTools serves the course CRUD tools. Reads go straight to the store;
// writes operate on the invocation's transaction.
type CourseTools struct {
	store  *campus.Store
	logger *slog.Logger
}

// List returns all courses, optionally narrowed to one subject.
func (t *CourseTools) List(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	courses, err := t.store.ListCourses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}

	subject, _ := tools.TrimmedStringParam(inv.Args, "subject")
	items := make([]any, 0, len(courses))
	for _, c := range courses {
		if subject != "" && !strings.EqualFold(c.Subject, subject) {
			continue
		}
		items = append(items, courseMap(c))
	}

	msg := fmt.Sprintf("You have %s.", plural(len(items), "course"))
	if subject != "" {
		msg = fmt.Sprintf("You have %s in %s.", plural(len(items), "course"), subject)
	}
	return ok(map[string]any{
		"message": msg,
		"courses": items,
		"count":   len(items),
	}), nil
}

// Get shows one course with its fill level.
func (t *CourseTools) Get(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	id, _ := tools.TrimmedStringParam(inv.Args, "course_id")

	course, err := t.store.GetCourse(ctx, id)
	if errors.Is(err, campus.ErrNotFound) {
		return fail("no course with id %s", id), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get course %s: %w", id, err)
	}

	enrolled, err := t.store.CountEnrollments(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count enrollments for %s: %w", id, err)
	}

	msg := fmt.Sprintf("%s (%s): %s enrolled.", course.Title, course.Subject, plural(enrolled, "student"))
	if course.Capacity > 0 {
		msg = fmt.Sprintf("%s (%s): %d of %d seats filled.", course.Title, course.Subject, enrolled, course.Capacity)
	}
	return ok(map[string]any{
		"message":  msg,
		"course":   courseMap(course),
		"enrolled": enrolled,
		"path":     coursePath(course.ID),
	}), nil
}

// Create adds a new course inside the invocation's transaction.
func (t *CourseTools) Create(_ context.Context, inv *tools.Invocation) (*tools.Result, error) {
	txn, err := campusTxn(inv)
	if err != nil {
		return nil, err
	}

	title, _ := tools.TrimmedStringParam(inv.Args, "title")
	subject, _ := tools.TrimmedStringParam(inv.Args, "subject")
	capacity, _ := tools.IntParam(inv.Args, "capacity")
	description, _ := tools.TrimmedStringParam(inv.Args, "description")

	if capacity < 0 {
		return fail("capacity can't be negative"), nil
	}

	course := &campus.Course{
		Title:       title,
		Subject:     subject,
		Capacity:    capacity,
		Description: description,
	}
	if err := txn.PutCourse(course); err != nil {
		return nil, fmt.Errorf("create course: %w", err)
	}

	t.logger.Info("course created", "course_id", course.ID, "title", course.Title, "actor", inv.Actor)
	return ok(map[string]any{
		"message":   fmt.Sprintf("Created %q.", course.Title),
		"course_id": course.ID,
		"course":    courseMap(course),
		"path":      coursePath(course.ID),
	}), nil
}

// Update rewrites the provided fields of an existing course.
func (t *CourseTools) Update(_ context.Context, inv *tools.Invocation) (*tools.Result, error) {
	txn, err := campusTxn(inv)
	if err != nil {
		return nil, err
	}

	id, _ := tools.TrimmedStringParam(inv.Args, "course_id")
	course, err := txn.GetCourse(id)
	if errors.Is(err, campus.ErrNotFound) {
		return fail("no course with id %s", id), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load course %s: %w", id, err)
	}

	changed := 0
	if title, okParam := tools.TrimmedStringParam(inv.Args, "title"); okParam && title != "" {
		course.Title = title
		changed++
	}
	if subject, okParam := tools.TrimmedStringParam(inv.Args, "subject"); okParam && subject != "" {
		course.Subject = subject
		changed++
	}
	if capacity, okParam := tools.IntParam(inv.Args, "capacity"); okParam {
		if capacity < 0 {
			return fail("capacity can't be negative"), nil
		}
		course.Capacity = capacity
		changed++
	}
	if description, okParam := tools.TrimmedStringParam(inv.Args, "description"); okParam {
		course.Description = description
		changed++
	}
	if changed == 0 {
		return fail("nothing to change: pass a new title, subject, capacity, or description"), nil
	}

	if err := txn.PutCourse(course); err != nil {
		return nil, fmt.Errorf("update course %s: %w", id, err)
	}

	t.logger.Info("course updated", "course_id", course.ID, "fields", changed, "actor", inv.Actor)
	return ok(map[string]any{
		"message":   fmt.Sprintf("Updated %q.", course.Title),
		"course_id": course.ID,
		"course":    courseMap(course),
		"path":      coursePath(course.ID),
	}), nil
}

// Delete removes a course and cascades to its sessions and enrollments so
// nothing is left pointing at a missing course.
func (t *CourseTools) Delete(_ context.Context, inv *tools.Invocation) (*tools.Result, error) {
	txn, err := campusTxn(inv)
	if err != nil {
		return nil, err
	}

	id, _ := tools.TrimmedStringParam(inv.Args, "course_id")
	course, err := txn.GetCourse(id)
	if errors.Is(err, campus.ErrNotFound) {
		return fail("no course with id %s", id), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load course %s: %w", id, err)
	}

	sessions, err := txn.ListSessionsByCourse(id)
	if err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", id, err)
	}
	for _, s := range sessions {
		if err := txn.DeleteSession(s.ID); err != nil {
			return nil, fmt.Errorf("delete session %s: %w", s.ID, err)
		}
	}

	enrollments, err := txn.ListEnrollmentsByCourse(id)
	if err != nil {
		return nil, fmt.Errorf("list enrollments for %s: %w", id, err)
	}
	for _, e := range enrollments {
		if err := txn.DeleteEnrollment(e.CourseID, e.StudentID); err != nil {
			return nil, fmt.Errorf("delete enrollment %s/%s: %w", e.CourseID, e.StudentID, err)
		}
	}

	if err := txn.DeleteCourse(id); err != nil {
		return nil, fmt.Errorf("delete course %s: %w", id, err)
	}

	t.logger.Info("course deleted",
		"course_id", id,
		"sessions_removed", len(sessions),
		"enrollments_removed", len(enrollments),
		"actor", inv.Actor)
	return ok(map[string]any{
		"message": fmt.Sprintf("Deleted %q along with %s and %s.",
			course.Title, plural(len(sessions), "session"), plural(len(enrollments), "enrollment")),
		"course_id":           id,
		"sessions_removed":    len(sessions),
		"enrollments_removed": len(enrollments),
	}), nil
}
