package llm

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"google.golang.org/genai"
)

// Validator is implemented by structured outputs that carry constraints a
// provider may not enforce natively.
type Validator interface {
	Validate() error
}

// DecodeObject parses a structured completion and validates it. out is a
// non-nil pointer; it is only written once the value has decoded and
// validated, so a rejected completion leaves it untouched.
func DecodeObject(raw string, out any) error {
	raw = stripCodeFence(raw)
	if raw == "" {
		return fmt.Errorf("empty structured output")
	}

	dst := reflect.ValueOf(out)
	if dst.Kind() != reflect.Pointer || dst.IsNil() {
		return fmt.Errorf("decode target must be a non-nil pointer, got %T", out)
	}

	// Decode over a copy of the caller's value so unexported settings on it
	// (such as limits) are kept, but nothing from an earlier attempt is.
	fresh := reflect.New(dst.Elem().Type())
	fresh.Elem().Set(dst.Elem())
	if err := json.Unmarshal([]byte(raw), fresh.Interface()); err != nil {
		return fmt.Errorf("json parse error: %w", err)
	}
	if v, ok := fresh.Interface().(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("schema violation: %w", err)
		}
	}

	dst.Elem().Set(fresh.Elem())
	return nil
}

// DecodeSchemaObject is DecodeObject plus a check that every top-level
// property schema marks as required is present and not null.
func DecodeSchemaObject(raw string, schema *genai.Schema, out any) error {
	if schema != nil && len(schema.Required) > 0 {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal([]byte(stripCodeFence(raw)), &fields); err != nil {
			return fmt.Errorf("json parse error: %w", err)
		}
		var missing []string
		for _, name := range schema.Required {
			if v, ok := fields[name]; !ok || string(v) == "null" {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("schema violation: missing required %s", strings.Join(missing, ", "))
		}
	}
	return DecodeObject(raw, out)
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// JSONSchema renders a genai schema as a plain JSON Schema document, for
// providers that take tool parameters or response formats in that dialect.
func JSONSchema(s *genai.Schema) map[string]any {
	if s == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}

	out := map[string]any{}
	if s.Type != "" {
		out["type"] = strings.ToLower(string(s.Type))
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, prop := range s.Properties {
			props[name] = JSONSchema(prop)
		}
		out["properties"] = props
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	if s.Items != nil {
		out["items"] = JSONSchema(s.Items)
	}
	if s.MinItems != nil {
		out["minItems"] = *s.MinItems
	}
	if s.MaxItems != nil {
		out["maxItems"] = *s.MaxItems
	}
	if s.Minimum != nil {
		out["minimum"] = *s.Minimum
	}
	if s.Maximum != nil {
		out["maximum"] = *s.Maximum
	}
	return out
}

// SchemaInstruction is appended to prompts for providers without native
// structured output.
func SchemaInstruction(s *genai.Schema) string {
	data, err := json.MarshalIndent(JSONSchema(s), "", "  ")
	if err != nil {
		data = []byte("{}")
	}
	return "Return the JSON object directly without any formatting or additional text. " +
		"The JSON object should have the following structure as defined in the schema. " +
		"Make sure to answer in valid json and include all necessary properties:" + string(data)
}
