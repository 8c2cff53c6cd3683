// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import "strings"

// =============================================================================
// Shared Argument Extraction Helpers
// =============================================================================
//
// Handlers receive arguments as map[string]any after JSON decoding, so all
// numbers arrive as float64 and arrays as []any. These helpers normalize the
// common cases so each tool does not repeat the type switches.

// StringParam extracts a string argument by key.
//
// Thread Safety: Safe for concurrent use.
func StringParam(args map[string]any, key string) (string, bool) {
	s, ok := args[key].(string)
	return s, ok
}

// TrimmedStringParam extracts a string argument and trims surrounding
// whitespace. Returns false for missing, non-string, or all-whitespace
// values.
//
// Thread Safety: Safe for concurrent use.
func TrimmedStringParam(args map[string]any, key string) (string, bool) {
	s, ok := args[key].(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

// IntParam extracts an integer argument by key.
//
// Handles both int and float64 (from JSON unmarshaling).
//
// Thread Safety: Safe for concurrent use.
func IntParam(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// FloatParam extracts a float64 argument by key.
//
// Thread Safety: Safe for concurrent use.
func FloatParam(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// BoolParam extracts a boolean argument by key.
//
// Thread Safety: Safe for concurrent use.
func BoolParam(args map[string]any, key string) (bool, bool) {
	b, ok := args[key].(bool)
	return b, ok
}

// StringSliceParam extracts a string array argument by key.
//
// Handles both []string and []interface{} (from JSON unmarshaling).
// Non-string elements inside an []interface{} are skipped.
//
// Thread Safety: Safe for concurrent use.
func StringSliceParam(args map[string]any, key string) ([]string, bool) {
	switch v := args[key].(type) {
	case []string:
		return v, true
	case []interface{}:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result, true
	default:
		return nil, false
	}
}
