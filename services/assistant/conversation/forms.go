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

	"github.com/PeterGuk540/aristai-sub000/services/assistant/tools"
)

// fieldPrompt is the line asking for a field. The same field always yields
// the same line, so a rejected answer is re-prompted identically.
func fieldPrompt(f tools.Field) string {
	if f.Prompt != "" {
		return f.Prompt
	}
	label := strings.ReplaceAll(f.Name, "_", " ")
	if f.Required {
		return fmt.Sprintf("What should the %s be?", label)
	}
	return fmt.Sprintf("What should the %s be? (optional, say \"skip\" to leave it out)", label)
}

// parseFieldValue converts a raw utterance into the field's declared type.
// It returns a human hint instead of a value when the utterance does not
// parse, so the caller can re-prompt with guidance.
func parseFieldValue(f tools.Field, utterance string, phrases Phrases) (any, string) {
	raw := strings.TrimSpace(utterance)

	switch f.Type {
	case tools.FieldTypeString:
		return raw, ""

	case tools.FieldTypeInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, "a whole number"
		}
		return n, ""

	case tools.FieldTypeNumber:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, "a number"
		}
		return v, ""

	case tools.FieldTypeBool:
		if phrases.IsAffirmative(raw) {
			return true, ""
		}
		if phrases.IsNegative(raw) {
			return false, ""
		}
		if b, err := strconv.ParseBool(strings.ToLower(raw)); err == nil {
			return b, ""
		}
		return nil, "yes or no"

	case tools.FieldTypeArray:
		parts := strings.Split(raw, ",")
		items := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		if len(items) == 0 {
			return nil, "a comma-separated list"
		}
		return items, ""

	default:
		return raw, ""
	}
}
