// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai/jsonschema"
)

var schemaCache sync.Map // reflect.Type -> *jsonschema.Definition

// DecodeError means the provider answered but the payload did not match the
// requested schema.
type DecodeError struct {
	Schema string
	Raw    string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("response does not match schema %q: %v", e.Schema, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// SchemaFor returns the JSON schema for the type pointed to by out.
// Schemas are cached per type.
func SchemaFor(out any) (*jsonschema.Definition, error) {
	t := reflect.TypeOf(out)
	if t == nil || t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("structured output must be a pointer to a struct, got %T", out)
	}
	if cached, ok := schemaCache.Load(t.Elem()); ok {
		return cached.(*jsonschema.Definition), nil
	}
	def, err := jsonschema.GenerateSchemaForType(reflect.New(t.Elem()).Elem().Interface())
	if err != nil {
		return nil, fmt.Errorf("generate schema for %s: %w", t.Elem().Name(), err)
	}
	schemaCache.Store(t.Elem(), def)
	return def, nil
}

// decodeStructured validates raw against schema and decodes it into out.
//
// Markdown code fences are stripped and explicit nulls are dropped before
// validation so optional fields the model sets to null are treated as absent.
func decodeStructured(schemaName string, schema *jsonschema.Definition, raw string, out any) error {
	cleaned := stripCodeFence(raw)
	var data any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return &DecodeError{Schema: schemaName, Raw: raw, Err: err}
	}
	normalized, err := json.Marshal(dropNulls(data))
	if err != nil {
		return &DecodeError{Schema: schemaName, Raw: raw, Err: err}
	}
	if err := schema.Unmarshal(string(normalized), out); err != nil {
		return &DecodeError{Schema: schemaName, Raw: raw, Err: err}
	}
	return nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func dropNulls(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			if item == nil {
				delete(val, k)
				continue
			}
			val[k] = dropNulls(item)
		}
		return val
	case []any:
		out := val[:0]
		for _, item := range val {
			if item == nil {
				continue
			}
			out = append(out, dropNulls(item))
		}
		return out
	default:
		return v
	}
}

// schemaInstruction renders the schema as a prompt suffix for providers
// without native schema enforcement.
func schemaInstruction(schema *jsonschema.Definition) (string, error) {
	b, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("marshal schema: %w", err)
	}
	return "Respond with a single JSON object that conforms to this JSON schema. " +
		"Output only the JSON object, with no prose and no code fences.\n\n" + string(b), nil
}
