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

import (
	"fmt"
	"math"
)

// =============================================================================
// Field Types
// =============================================================================

// FieldType is the declared primitive type of a schema field.
type FieldType string

const (
	// FieldTypeString accepts any string value.
	FieldTypeString FieldType = "string"

	// FieldTypeInt accepts integers. JSON numbers arrive as float64; an
	// integral float64 passes, a fractional one does not.
	FieldTypeInt FieldType = "integer"

	// FieldTypeNumber accepts any numeric value.
	FieldTypeNumber FieldType = "number"

	// FieldTypeBool accepts booleans.
	FieldTypeBool FieldType = "boolean"

	// FieldTypeArray accepts slices ([]any from JSON, []string from Go
	// callers).
	FieldTypeArray FieldType = "array"
)

// Valid reports whether t is one of the declared field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldTypeString, FieldTypeInt, FieldTypeNumber, FieldTypeBool, FieldTypeArray:
		return true
	}
	return false
}

// Matches reports whether value conforms to the field type.
//
// The loose cases mirror encoding/json decoding into map[string]any:
// all numbers arrive as float64, arrays as []any.
func (t FieldType) Matches(value any) bool {
	switch t {
	case FieldTypeString:
		_, ok := value.(string)
		return ok
	case FieldTypeInt:
		switch v := value.(type) {
		case int, int32, int64:
			return true
		case float64:
			return v == math.Trunc(v)
		case float32:
			return float64(v) == math.Trunc(float64(v))
		}
		return false
	case FieldTypeNumber:
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case FieldTypeBool:
		_, ok := value.(bool)
		return ok
	case FieldTypeArray:
		switch value.(type) {
		case []any, []string, []int, []float64:
			return true
		}
		return false
	}
	return false
}

// =============================================================================
// Schema
// =============================================================================

// Field declares one argument of a tool.
type Field struct {
	// Name is the argument key.
	Name string

	// Type is the declared primitive type.
	Type FieldType

	// Required fields must be present; optional fields may be omitted or
	// explicitly skipped during form filling.
	Required bool

	// Prompt is the question the conversation layer asks when collecting
	// this field interactively. Empty means a generated default prompt.
	Prompt string
}

// Schema is an ordered list of fields with a name index. The declared order
// drives form filling and determines which offending field a validation
// error names first.
//
// Thread Safety: Immutable after NewSchema. Safe for concurrent use.
type Schema struct {
	fields []Field
	index  map[string]int
}

// NewSchema builds a schema from fields in prompt order.
// Duplicate or invalid fields panic: schemas are startup-time constants and
// a malformed one is programmer error.
func NewSchema(fields ...Field) Schema {
	index := make(map[string]int, len(fields))
	for i, f := range fields {
		if f.Name == "" {
			panic("tools: schema field with empty name")
		}
		if !f.Type.Valid() {
			panic(fmt.Sprintf("tools: schema field %q has invalid type %q", f.Name, f.Type))
		}
		if _, dup := index[f.Name]; dup {
			panic(fmt.Sprintf("tools: duplicate schema field %q", f.Name))
		}
		index[f.Name] = i
	}
	return Schema{fields: fields, index: index}
}

// Fields returns the declared fields in order. Callers must not mutate the
// returned slice.
func (s Schema) Fields() []Field {
	return s.fields
}

// Field looks up a field by name.
func (s Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Len returns the number of declared fields.
func (s Schema) Len() int {
	return len(s.fields)
}

// Validate checks args against the schema.
//
// Description:
//
//	Every required field must be present; present fields must match their
//	declared type. Unknown extra keys are ignored for forward
//	compatibility. Validation fails fast: the returned *ValidationError
//	names the first offending field in declared order, and no handler is
//	ever invoked on a failed validation.
//
// Inputs:
//
//   - tool: Tool name used in the error message.
//   - args: Argument map. Nil is treated as empty.
//
// Outputs:
//
//   - error: Nil if args conform; otherwise a *ValidationError.
//
// Thread Safety: Safe for concurrent use.
func (s Schema) Validate(tool string, args map[string]any) error {
	for _, f := range s.fields {
		value, present := args[f.Name]
		if !present {
			if f.Required {
				return &ValidationError{Tool: tool, Field: f.Name, Reason: "is required"}
			}
			continue
		}
		if value == nil {
			if f.Required {
				return &ValidationError{Tool: tool, Field: f.Name, Reason: "is required"}
			}
			continue
		}
		if !f.Type.Matches(value) {
			return &ValidationError{
				Tool:   tool,
				Field:  f.Name,
				Reason: fmt.Sprintf("must be of type %s", f.Type),
			}
		}
	}
	return nil
}
