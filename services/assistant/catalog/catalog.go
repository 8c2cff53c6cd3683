// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog registers the built-in campus tools: course, session, and
// enrollment management plus navigation. Reads execute immediately against
// the campus store; writes run inside the unit-of-work transaction the
// dispatcher acquires for the invocation, so they stage through the
// two-phase confirmation protocol and commit only on success.
package catalog

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/PeterGuk540/aristai-sub000/services/assistant/campus"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/tools"
)

const (
	readRatePerMinute  = 120
	writeRatePerMinute = 30

	readTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
)

// BuildRegistry returns a registry holding the complete built-in catalog.
func BuildRegistry(store *campus.Store, logger *slog.Logger) *tools.Registry {
	reg := tools.NewRegistry()
	Register(reg, store, logger)
	return reg
}

// Register adds the built-in campus tools to reg.
func Register(reg *tools.Registry, store *campus.Store, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	courses := &CourseTools{store: store, logger: logger}
	sessions := &SessionTools{store: store, logger: logger}
	enrollments := &EnrollmentTools{store: store, logger: logger}
	nav := &NavigationTools{store: store}

	reg.MustRegister(tools.Descriptor{
		Name:        "list_courses",
		Description: "List campus courses, optionally filtered by subject.",
		Schema: tools.NewSchema(
			tools.Field{Name: "subject", Type: tools.FieldTypeString, Prompt: "Which subject? (optional)"},
		),
		Mode:          tools.ModeRead,
		Category:      "courses",
		RatePerMinute: readRatePerMinute,
		Timeout:       readTimeout,
		Handler:       tools.HandlerFunc(courses.List),
	})

	reg.MustRegister(tools.Descriptor{
		Name:        "get_course",
		Description: "Show one course with its enrollment count.",
		Schema: tools.NewSchema(
			tools.Field{Name: "course_id", Type: tools.FieldTypeString, Required: true, Prompt: "Which course id?"},
		),
		Mode:          tools.ModeRead,
		Category:      "courses",
		RatePerMinute: readRatePerMinute,
		Timeout:       readTimeout,
		Handler:       tools.HandlerFunc(courses.Get),
	})

	reg.MustRegister(tools.Descriptor{
		Name:        "create_course",
		Description: "Create a new course.",
		Schema: tools.NewSchema(
			tools.Field{Name: "title", Type: tools.FieldTypeString, Required: true, Prompt: "What is the course title?"},
			tools.Field{Name: "subject", Type: tools.FieldTypeString, Required: true, Prompt: "Which subject is it under?"},
			tools.Field{Name: "capacity", Type: tools.FieldTypeInt, Prompt: "How many seats? (optional)"},
			tools.Field{Name: "description", Type: tools.FieldTypeString, Prompt: "Add a short description? (optional)"},
		),
		Mode:           tools.ModeWrite,
		Category:       "courses",
		UsesUnitOfWork: true,
		RatePerMinute:  writeRatePerMinute,
		Timeout:        writeTimeout,
		Handler:        tools.HandlerFunc(courses.Create),
	})

	reg.MustRegister(tools.Descriptor{
		Name:        "update_course",
		Description: "Update a course's title, subject, capacity, or description.",
		Schema: tools.NewSchema(
			tools.Field{Name: "course_id", Type: tools.FieldTypeString, Required: true, Prompt: "Which course id should I update?"},
			tools.Field{Name: "title", Type: tools.FieldTypeString, Prompt: "New title? (optional)"},
			tools.Field{Name: "subject", Type: tools.FieldTypeString, Prompt: "New subject? (optional)"},
			tools.Field{Name: "capacity", Type: tools.FieldTypeInt, Prompt: "New seat count? (optional)"},
			tools.Field{Name: "description", Type: tools.FieldTypeString, Prompt: "New description? (optional)"},
		),
		Mode:           tools.ModeWrite,
		Category:       "courses",
		UsesUnitOfWork: true,
		RatePerMinute:  writeRatePerMinute,
		Timeout:        writeTimeout,
		Handler:        tools.HandlerFunc(courses.Update),
	})

	reg.MustRegister(tools.Descriptor{
		Name:        "delete_course",
		Description: "Delete a course along with its sessions and enrollments.",
		Schema: tools.NewSchema(
			tools.Field{Name: "course_id", Type: tools.FieldTypeString, Required: true, Prompt: "Which course id should I delete?"},
		),
		Mode:           tools.ModeWrite,
		Category:       "courses",
		UsesUnitOfWork: true,
		RatePerMinute:  writeRatePerMinute,
		Timeout:        writeTimeout,
		Handler:        tools.HandlerFunc(courses.Delete),
	})

	reg.MustRegister(tools.Descriptor{
		Name:        "list_sessions",
		Description: "List a course's scheduled sessions.",
		Schema: tools.NewSchema(
			tools.Field{Name: "course_id", Type: tools.FieldTypeString, Required: true, Prompt: "Which course id?"},
		),
		Mode:          tools.ModeRead,
		Category:      "sessions",
		RatePerMinute: readRatePerMinute,
		Timeout:       readTimeout,
		Handler:       tools.HandlerFunc(sessions.List),
	})

	reg.MustRegister(tools.Descriptor{
		Name:        "schedule_session",
		Description: "Schedule a session for a course.",
		Schema: tools.NewSchema(
			tools.Field{Name: "course_id", Type: tools.FieldTypeString, Required: true, Prompt: "Which course id?"},
			tools.Field{Name: "starts_at", Type: tools.FieldTypeString, Required: true, Prompt: "When does it start? (e.g. 2025-09-08 09:00)"},
			tools.Field{Name: "duration_minutes", Type: tools.FieldTypeInt, Prompt: "How long in minutes? (optional, default 60)"},
			tools.Field{Name: "title", Type: tools.FieldTypeString, Prompt: "Session title? (optional)"},
			tools.Field{Name: "location", Type: tools.FieldTypeString, Prompt: "Where is it held? (optional)"},
		),
		Mode:           tools.ModeWrite,
		Category:       "sessions",
		UsesUnitOfWork: true,
		RatePerMinute:  writeRatePerMinute,
		Timeout:        writeTimeout,
		Handler:        tools.HandlerFunc(sessions.Schedule),
	})

	reg.MustRegister(tools.Descriptor{
		Name:        "cancel_session",
		Description: "Cancel one scheduled session.",
		Schema: tools.NewSchema(
			tools.Field{Name: "session_id", Type: tools.FieldTypeString, Required: true, Prompt: "Which session id should I cancel?"},
		),
		Mode:           tools.ModeWrite,
		Category:       "sessions",
		UsesUnitOfWork: true,
		RatePerMinute:  writeRatePerMinute,
		Timeout:        writeTimeout,
		Handler:        tools.HandlerFunc(sessions.Cancel),
	})

	reg.MustRegister(tools.Descriptor{
		Name:        "cancel_sessions",
		Description: "Cancel several sessions at once.",
		Schema: tools.NewSchema(
			tools.Field{Name: "ids", Type: tools.FieldTypeArray, Required: true, Prompt: "Which session ids should I cancel? (comma-separated)"},
		),
		Mode:           tools.ModeWrite,
		Category:       "sessions",
		UsesUnitOfWork: true,
		RatePerMinute:  writeRatePerMinute,
		Timeout:        writeTimeout,
		Handler:        tools.HandlerFunc(sessions.CancelMany),
	})

	reg.MustRegister(tools.Descriptor{
		Name:        "list_enrollments",
		Description: "List the students enrolled in a course.",
		Schema: tools.NewSchema(
			tools.Field{Name: "course_id", Type: tools.FieldTypeString, Required: true, Prompt: "Which course id?"},
		),
		Mode:          tools.ModeRead,
		Category:      "enrollments",
		RatePerMinute: readRatePerMinute,
		Timeout:       readTimeout,
		Handler:       tools.HandlerFunc(enrollments.List),
	})

	reg.MustRegister(tools.Descriptor{
		Name:        "enroll_student",
		Description: "Enroll a student in a course, respecting capacity.",
		Schema: tools.NewSchema(
			tools.Field{Name: "course_id", Type: tools.FieldTypeString, Required: true, Prompt: "Which course id?"},
			tools.Field{Name: "student_id", Type: tools.FieldTypeString, Required: true, Prompt: "Which student id?"},
		),
		Mode:           tools.ModeWrite,
		Category:       "enrollments",
		UsesUnitOfWork: true,
		RatePerMinute:  writeRatePerMinute,
		Timeout:        writeTimeout,
		Handler:        tools.HandlerFunc(enrollments.Enroll),
	})

	reg.MustRegister(tools.Descriptor{
		Name:        "drop_student",
		Description: "Drop a student from a course.",
		Schema: tools.NewSchema(
			tools.Field{Name: "course_id", Type: tools.FieldTypeString, Required: true, Prompt: "Which course id?"},
			tools.Field{Name: "student_id", Type: tools.FieldTypeString, Required: true, Prompt: "Which student id?"},
		),
		Mode:           tools.ModeWrite,
		Category:       "enrollments",
		UsesUnitOfWork: true,
		RatePerMinute:  writeRatePerMinute,
		Timeout:        writeTimeout,
		Handler:        tools.HandlerFunc(enrollments.Drop),
	})

	reg.MustRegister(tools.Descriptor{
		Name:        "open_course",
		Description: "Open a course page.",
		Schema: tools.NewSchema(
			tools.Field{Name: "course_id", Type: tools.FieldTypeString, Required: true, Prompt: "Which course id?"},
		),
		Mode:          tools.ModeRead,
		Category:      "navigation",
		RatePerMinute: readRatePerMinute,
		Timeout:       readTimeout,
		Handler:       tools.HandlerFunc(nav.OpenCourse),
	})

	reg.MustRegister(tools.Descriptor{
		Name:        "navigate",
		Description: "Go to a named area of the app.",
		Schema: tools.NewSchema(
			tools.Field{Name: "destination", Type: tools.FieldTypeString, Required: true, Prompt: "Where to? (home, courses, calendar, enrollments, settings)"},
		),
		Mode:          tools.ModeRead,
		Category:      "navigation",
		RatePerMinute: readRatePerMinute,
		Timeout:       readTimeout,
		Handler:       tools.HandlerFunc(nav.Navigate),
	})
}

// =============================================================================
// Shared helpers
// =============================================================================

// campusTxn extracts the invocation's unit of work. Write handlers are only
// dispatched with one attached; a miss here is a wiring fault, not a user
// error.
func campusTxn(inv *tools.Invocation) (*campus.Txn, error) {
	txn, ok := inv.UnitOfWork.(*campus.Txn)
	if !ok || txn == nil {
		return nil, fmt.Errorf("catalog: invocation %s carries no campus transaction", inv.ID)
	}
	return txn, nil
}

// fail reports an expected tool-level failure. The normalizer surfaces it
// as an ok:false envelope; the dispatcher rolls the unit of work back.
func fail(format string, args ...any) *tools.Result {
	return &tools.Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// ok wraps a successful payload.
func ok(output map[string]any) *tools.Result {
	return &tools.Result{Success: true, Output: output}
}

func courseMap(c *campus.Course) map[string]any {
	return map[string]any{
		"id":          c.ID,
		"title":       c.Title,
		"subject":     c.Subject,
		"capacity":    c.Capacity,
		"description": c.Description,
	}
}

func sessionMap(s *campus.Session) map[string]any {
	return map[string]any{
		"id":        s.ID,
		"course_id": s.CourseID,
		"title":     s.Title,
		"starts_at": s.StartsAt.Format(time.RFC3339),
		"ends_at":   s.EndsAt.Format(time.RFC3339),
		"location":  s.Location,
	}
}

func coursePath(id string) string {
	return "/courses/" + id
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
