package router

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/relay/internal/toolerr"
)

// Validate checks args against a tool's input schema. It covers the
// subset of JSON Schema tool definitions use: required fields, JSON
// types, enums, array items, nested object properties and
// additionalProperties: false. The error names the offending field.
func Validate(schema mcp.ToolInputSchema, args map[string]any) error {
	return checkObject("", schema.Properties, schema.Required, schema.AdditionalProperties, args)
}

// schemaOf returns the effective input schema of t.
func schemaOf(t mcp.Tool) mcp.ToolInputSchema {
	if len(t.RawInputSchema) == 0 {
		return t.InputSchema
	}
	var s mcp.ToolInputSchema
	if err := json.Unmarshal(t.RawInputSchema, &s); err != nil {
		return t.InputSchema
	}
	return s
}

func checkObject(path string, props map[string]any, required any, additional any, obj map[string]any) error {
	for _, name := range stringList(required) {
		if v, ok := obj[name]; !ok || v == nil {
			return toolerr.Invalid(join(path, name), "missing required argument %q", join(path, name))
		}
	}
	names := make([]string, 0, len(obj))
	for name := range obj {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := obj[name]
		field := join(path, name)
		prop, ok := props[name].(map[string]any)
		if !ok {
			if b, isBool := additional.(bool); isBool && !b {
				return toolerr.Invalid(field, "unexpected argument %q", field)
			}
			continue
		}
		if v == nil {
			continue
		}
		if err := checkValue(field, prop, v); err != nil {
			return err
		}
	}
	return nil
}

func checkValue(field string, schema map[string]any, v any) error {
	types := stringList(schema["type"])
	if len(types) > 0 {
		matched := false
		for _, t := range types {
			if hasType(t, v) {
				matched = true
				break
			}
		}
		if !matched {
			return toolerr.Invalid(field, "argument %q must be of type %s, got %s",
				field, strings.Join(types, " or "), jsonType(v))
		}
	}

	if enum := anyList(schema["enum"]); len(enum) > 0 {
		found := false
		for _, e := range enum {
			if equalJSON(e, v) {
				found = true
				break
			}
		}
		if !found {
			return toolerr.Invalid(field, "argument %q must be one of %v", field, enum)
		}
	}

	switch val := v.(type) {
	case []any:
		items, ok := schema["items"].(map[string]any)
		if !ok {
			return nil
		}
		for i, item := range val {
			if err := checkValue(fmt.Sprintf("%s[%d]", field, i), items, item); err != nil {
				return err
			}
		}
	case map[string]any:
		props, _ := schema["properties"].(map[string]any)
		return checkObject(field, props, schema["required"], schema["additionalProperties"], val)
	}
	return nil
}

func hasType(t string, v any) bool {
	switch t {
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "number":
		_, ok := toFloat(v)
		return ok
	case "integer":
		f, ok := toFloat(v)
		return ok && f == math.Trunc(f)
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "null":
		return v == nil
	}
	// unknown type keywords are not enforced
	return true
}

func jsonType(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case nil:
		return "null"
	}
	if _, ok := toFloat(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func equalJSON(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

// stringList reads a schema keyword that may be a string, []string or a
// decoded []any.
func stringList(v any) []string {
	switch l := v.(type) {
	case string:
		return []string{l}
	case []string:
		return l
	case []any:
		out := make([]string, 0, len(l))
		for _, e := range l {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func anyList(v any) []any {
	switch l := v.(type) {
	case []any:
		return l
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out
	}
	return nil
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
