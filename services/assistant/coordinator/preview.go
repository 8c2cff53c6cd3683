// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package coordinator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/PeterGuk540/aristai-sub000/services/assistant/actions"
	"github.com/PeterGuk540/aristai-sub000/services/assistant/tools"
)

// BuildPreview derives the deterministic, human-readable preview of a
// planned write from the tool name and arguments alone — the same
// name+args always produce the same preview.
//
// Description:
//
//	Tool names follow the verb_entity convention (create_course,
//	update_session, enroll_student). The verb and entity seed a summary
//	sentence such as `will create 1 course titled "History"`, the affected
//	map counts the records the write would touch, and the argument
//	snapshot is echoed back so the user confirms against exactly what
//	will run.
//
// Inputs:
//
//   - desc: The write tool's descriptor.
//   - args: Validated arguments. Never mutated.
//
// Thread Safety: Stateless. Safe for concurrent use.
func BuildPreview(desc tools.Descriptor, args map[string]any) actions.Preview {
	verb, entity := splitToolName(desc.Name)
	count := affectedCount(args)

	noun := entity
	if count != 1 {
		noun = pluralize(entity)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "will %s %d %s", verb, count, noun)
	if detail := subjectDetail(args); detail != "" {
		b.WriteByte(' ')
		b.WriteString(detail)
	}

	echo := make(map[string]any, len(args))
	for k, v := range args {
		echo[k] = v
	}

	return actions.Preview{
		Summary:  b.String(),
		Affected: map[string]int{pluralize(entity): count},
		Args:     echo,
	}
}

// splitToolName separates the leading verb from the entity, turning
// remaining underscores into spaces: "create_course_session" → ("create",
// "course session"). A name with no underscore is its own verb with a
// generic "record" entity.
func splitToolName(name string) (verb, entity string) {
	verb, entity, found := strings.Cut(name, "_")
	if !found || entity == "" {
		return name, "record"
	}
	return verb, strings.ReplaceAll(entity, "_", " ")
}

// affectedCount is 1 unless the arguments carry an explicit id batch.
func affectedCount(args map[string]any) int {
	ids, ok := args["ids"]
	if !ok {
		return 1
	}
	switch v := ids.(type) {
	case []any:
		if len(v) > 0 {
			return len(v)
		}
	case []string:
		if len(v) > 0 {
			return len(v)
		}
	}
	return 1
}

// subjectDetail picks the most descriptive argument to name the subject:
// title, then name, then the alphabetically first *_id argument. Arguments
// are consulted in a fixed order so the preview is stable.
func subjectDetail(args map[string]any) string {
	if title, ok := args["title"].(string); ok && title != "" {
		return fmt.Sprintf("titled %q", title)
	}
	if name, ok := args["name"].(string); ok && name != "" {
		return fmt.Sprintf("named %q", name)
	}

	idKeys := make([]string, 0, 2)
	for k := range args {
		if k == "id" || strings.HasSuffix(k, "_id") {
			idKeys = append(idKeys, k)
		}
	}
	if len(idKeys) == 0 {
		return ""
	}
	sort.Strings(idKeys)
	key := idKeys[0]
	return fmt.Sprintf("with %s %q", key, fmt.Sprintf("%v", args[key]))
}

// pluralize maps an entity to its affected-map key. Domain entities are
// regular nouns, so a trailing s/x/ch gets "es" and everything else "s".
func pluralize(entity string) string {
	words := strings.Fields(entity)
	if len(words) == 0 {
		return entity
	}
	last := words[len(words)-1]
	switch {
	case strings.HasSuffix(last, "s"), strings.HasSuffix(last, "x"), strings.HasSuffix(last, "ch"):
		last += "es"
	default:
		last += "s"
	}
	words[len(words)-1] = last
	return strings.Join(words, " ")
}
