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
	"bytes"
	"encoding/gob"
	"fmt"
	"time"
)

// Storage layout (all values gob-encoded):
//
//	campus/course/v1/{courseID}               → Course
//	campus/session/v1/{sessionID}             → Session
//	campus/enrollment/v1/{courseID}/{student} → Enrollment
//
// Enrollments key on (course, student) so a student can hold at most one
// enrollment per course; the key itself is the uniqueness constraint.
const (
	coursePrefix     = "campus/course/v1/"
	sessionPrefix    = "campus/session/v1/"
	enrollmentPrefix = "campus/enrollment/v1/"
)

// Course is one offering in the campus catalog.
type Course struct {
	ID          string
	Title       string
	Subject     string
	Description string

	// Capacity caps enrollments. Zero means unlimited.
	Capacity int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session is one scheduled meeting of a course.
type Session struct {
	ID       string
	CourseID string
	Title    string
	StartsAt time.Time
	EndsAt   time.Time
	Location string

	CreatedAt time.Time
}

// Enrollment ties a student to a course. The (CourseID, StudentID) pair is
// the identity; there is no separate enrollment id.
type Enrollment struct {
	CourseID   string
	StudentID  string
	EnrolledAt time.Time
}

func courseKey(id string) []byte {
	return []byte(coursePrefix + id)
}

func sessionKey(id string) []byte {
	return []byte(sessionPrefix + id)
}

func enrollmentKey(courseID, studentID string) []byte {
	return []byte(enrollmentPrefix + courseID + "/" + studentID)
}

func encodeRecord(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("campus: encode record: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRecord(raw []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(v); err != nil {
		return fmt.Errorf("campus: decode record: %w", err)
	}
	return nil
}
