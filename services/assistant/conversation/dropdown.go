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
	"fmt"
	"strconv"
	"strings"
)

// resolveSelection maps a user reply onto one of the presented options.
//
// Resolution order:
//  1. A 1-based ordinal: "2" selects the second option. Out-of-range
//     ordinals do not resolve.
//  2. A case-insensitive exact label match.
//  3. A case-insensitive substring match, accepted only when exactly one
//     label contains the reply. Zero or multiple hits leave the selection
//     unresolved and the caller re-presents the unchanged list.
func resolveSelection(utterance string, options []string) (string, bool) {
	reply := strings.TrimSpace(utterance)
	if reply == "" || len(options) == 0 {
		return "", false
	}

	if n, err := strconv.Atoi(reply); err == nil {
		if n >= 1 && n <= len(options) {
			return options[n-1], true
		}
		return "", false
	}

	lower := strings.ToLower(reply)
	for _, opt := range options {
		if strings.ToLower(opt) == lower {
			return opt, true
		}
	}

	var hit string
	var hits int
	for _, opt := range options {
		if strings.Contains(strings.ToLower(opt), lower) {
			hit = opt
			hits++
		}
	}
	if hits == 1 {
		return hit, true
	}
	return "", false
}

// splitOptions parses a comma-separated option list, trimming whitespace
// and dropping empties.
func splitOptions(raw string) []string {
	parts := strings.Split(raw, ",")
	options := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			options = append(options, p)
		}
	}
	return options
}

// formatOptions renders an enumerated list for presentation, one numbered
// label per line.
func formatOptions(options []string) string {
	var b strings.Builder
	for i, opt := range options {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, opt)
	}
	return b.String()
}
