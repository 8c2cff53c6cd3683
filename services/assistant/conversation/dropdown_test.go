// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveSelection(t *testing.T) {
	options := []string{"Biology", "Chemistry", "Physics"}

	tests := []struct {
		name      string
		input     string
		want      string
		wantMatch bool
	}{
		{name: "ordinal", input: "2", want: "Chemistry", wantMatch: true},
		{name: "first ordinal", input: "1", want: "Biology", wantMatch: true},
		{name: "ordinal with spaces", input: " 3 ", want: "Physics", wantMatch: true},
		{name: "ordinal zero", input: "0", wantMatch: false},
		{name: "ordinal out of range", input: "4", wantMatch: false},
		{name: "negative ordinal", input: "-1", wantMatch: false},
		{name: "exact label", input: "Physics", want: "Physics", wantMatch: true},
		{name: "exact label case-insensitive", input: "pHySiCs", want: "Physics", wantMatch: true},
		{name: "unique substring", input: "chem", want: "Chemistry", wantMatch: true},
		{name: "unique substring mixed case", input: "BIO", want: "Biology", wantMatch: true},
		{name: "ambiguous substring", input: "i", wantMatch: false},
		{name: "no match", input: "Math", wantMatch: false},
		{name: "empty input", input: "   ", wantMatch: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := resolveSelection(tc.input, options)
			assert.Equal(t, tc.wantMatch, ok)
			if tc.wantMatch {
				assert.Equal(t, tc.want, got)
			}
		})
	}

	t.Run("empty options never resolve", func(t *testing.T) {
		_, ok := resolveSelection("1", nil)
		assert.False(t, ok)
	})
}

func TestFormatOptions(t *testing.T) {
	got := formatOptions([]string{"Biology", "Chemistry"})
	assert.Equal(t, "1. Biology\n2. Chemistry", got)
}

func TestSplitOptions(t *testing.T) {
	got := splitOptions(" Biology , Chemistry ,, Physics ")
	assert.Equal(t, []string{"Biology", "Chemistry", "Physics"}, got)

	assert.Empty(t, splitOptions("  ,  "))
}
