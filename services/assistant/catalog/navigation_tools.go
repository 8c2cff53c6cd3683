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
	"sort"
	"strings"

	"github.com/PeterGuk540/aristai-sub000/services/assistant/campus"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/tools"
)

// destinations maps spoken area names to client routes. The normalizer
// turns the returned path into a navigate ui_action.
var destinations = map[string]string{
	"home":        "/",
	"courses":     "/courses",
	"calendar":    "/calendar",
	"enrollments": "/enrollments",
	"settings":    "/settings",
}

// NavigationTools serves the tools that move the client around the app.
type NavigationTools struct {
	store *campus.Store
}

// OpenCourse points the client at one course's page.
func (t *NavigationTools) OpenCourse(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	id, _ := tools.TrimmedStringParam(inv.Args, "course_id")

	course, err := t.store.GetCourse(ctx, id)
	if errors.Is(err, campus.ErrNotFound) {
		return fail("no course with id %s", id), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get course %s: %w", id, err)
	}

	return ok(map[string]any{
		"message":        fmt.Sprintf("Opening %q.", course.Title),
		"voice_response": fmt.Sprintf("Here's %s.", course.Title),
		"course":         courseMap(course),
		"path":           coursePath(course.ID),
	}), nil
}

// Navigate points the client at a named area.
func (t *NavigationTools) Navigate(_ context.Context, inv *tools.Invocation) (*tools.Result, error) {
	raw, _ := tools.TrimmedStringParam(inv.Args, "destination")
	dest := strings.ToLower(raw)

	path, found := destinations[dest]
	if !found {
		return fail("I don't know %q; try one of %s", raw, strings.Join(destinationNames(), ", ")), nil
	}

	return ok(map[string]any{
		"message": fmt.Sprintf("Taking you to %s.", dest),
		"path":    path,
	}), nil
}

func destinationNames() []string {
	names := make([]string, 0, len(destinations))
	for name := range destinations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
