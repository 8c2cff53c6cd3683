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
	"time"

	"github.com/PeterGuk540/aristai-sub000/services/assistant/campus"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/tools"
)

const defaultSessionMinutes = 60

// sessionTimeLayouts are the accepted spellings for starts_at, tried in
// order. RFC 3339 covers API callers; the second form covers what people
// actually type in chat.
var sessionTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04",
}

// SessionTools serves session scheduling and cancellation.
type SessionTools struct {
	store  *campus.Store
	logger *slog.Logger
}

// List returns a course's sessions in start order.
func (t *SessionTools) List(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	courseID, _ := tools.TrimmedStringParam(inv.Args, "course_id")

	course, err := t.store.GetCourse(ctx, courseID)
	if errors.Is(err, campus.ErrNotFound) {
		return fail("no course with id %s", courseID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get course %s: %w", courseID, err)
	}

	sessions, err := t.store.ListSessionsByCourse(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", courseID, err)
	}

	items := make([]any, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, sessionMap(s))
	}
	return ok(map[string]any{
		"message":  fmt.Sprintf("%s has %s.", course.Title, plural(len(items), "session")),
		"sessions": items,
		"count":    len(items),
		"path":     coursePath(courseID),
	}), nil
}

// Schedule adds a session to a course.
func (t *SessionTools) Schedule(_ context.Context, inv *tools.Invocation) (*tools.Result, error) {
	txn, err := campusTxn(inv)
	if err != nil {
		return nil, err
	}

	courseID, _ := tools.TrimmedStringParam(inv.Args, "course_id")
	course, err := txn.GetCourse(courseID)
	if errors.Is(err, campus.ErrNotFound) {
		return fail("no course with id %s", courseID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load course %s: %w", courseID, err)
	}

	rawStart, _ := tools.TrimmedStringParam(inv.Args, "starts_at")
	startsAt, err := parseSessionTime(rawStart)
	if err != nil {
		return fail("I couldn't read %q as a time; try 2025-09-08 09:00", rawStart), nil
	}

	minutes, okParam := tools.IntParam(inv.Args, "duration_minutes")
	if !okParam {
		minutes = defaultSessionMinutes
	}
	if minutes <= 0 {
		return fail("duration must be a positive number of minutes"), nil
	}

	title, _ := tools.TrimmedStringParam(inv.Args, "title")
	if title == "" {
		title = course.Title + " session"
	}
	location, _ := tools.TrimmedStringParam(inv.Args, "location")

	session := &campus.Session{
		CourseID: courseID,
		Title:    title,
		StartsAt: startsAt,
		EndsAt:   startsAt.Add(time.Duration(minutes) * time.Minute),
		Location: location,
	}
	if err := txn.PutSession(session); err != nil {
		return nil, fmt.Errorf("schedule session: %w", err)
	}

	t.logger.Info("session scheduled",
		"session_id", session.ID,
		"course_id", courseID,
		"starts_at", session.StartsAt,
		"actor", inv.Actor)
	return ok(map[string]any{
		"message":    fmt.Sprintf("Scheduled %q for %s.", session.Title, session.StartsAt.Format("Mon Jan 2 at 3:04 PM")),
		"session_id": session.ID,
		"session":    sessionMap(session),
		"path":       coursePath(courseID),
	}), nil
}

// Cancel removes one session.
func (t *SessionTools) Cancel(_ context.Context, inv *tools.Invocation) (*tools.Result, error) {
	txn, err := campusTxn(inv)
	if err != nil {
		return nil, err
	}

	id, _ := tools.TrimmedStringParam(inv.Args, "session_id")
	session, err := txn.GetSession(id)
	if errors.Is(err, campus.ErrNotFound) {
		return fail("no session with id %s", id), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	if err := txn.DeleteSession(id); err != nil {
		return nil, fmt.Errorf("cancel session %s: %w", id, err)
	}

	t.logger.Info("session cancelled", "session_id", id, "course_id", session.CourseID, "actor", inv.Actor)
	return ok(map[string]any{
		"message":    fmt.Sprintf("Cancelled %q on %s.", session.Title, session.StartsAt.Format("Mon Jan 2")),
		"session_id": id,
		"course_id":  session.CourseID,
	}), nil
}

// CancelMany removes a batch of sessions. Unknown ids are reported back
// rather than failing the whole batch.
func (t *SessionTools) CancelMany(_ context.Context, inv *tools.Invocation) (*tools.Result, error) {
	txn, err := campusTxn(inv)
	if err != nil {
		return nil, err
	}

	ids, _ := tools.StringSliceParam(inv.Args, "ids")
	if len(ids) == 0 {
		return fail("pass at least one session id"), nil
	}

	cancelled := 0
	missing := make([]string, 0)
	for _, id := range ids {
		serr := txn.DeleteSession(id)
		switch {
		case errors.Is(serr, campus.ErrNotFound):
			missing = append(missing, id)
		case serr != nil:
			return nil, fmt.Errorf("cancel session %s: %w", id, serr)
		default:
			cancelled++
		}
	}

	msg := fmt.Sprintf("Cancelled %s.", plural(cancelled, "session"))
	if len(missing) > 0 {
		msg = fmt.Sprintf("Cancelled %s; %s not found.", plural(cancelled, "session"), plural(len(missing), "id"))
	}

	t.logger.Info("sessions cancelled", "cancelled", cancelled, "missing", len(missing), "actor", inv.Actor)
	return ok(map[string]any{
		"message":   msg,
		"cancelled": cancelled,
		"missing":   missing,
	}), nil
}

// parseSessionTime tries the accepted layouts in order. Times without a
// zone are taken as local campus time.
func parseSessionTime(raw string) (time.Time, error) {
	for _, layout := range sessionTimeLayouts {
		if ts, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", raw)
}
