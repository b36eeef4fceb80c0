// Package connector defines the contract every capability backend
// implements, so the router can dispatch to any of them without knowing
// what sits behind it.
package connector

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// Connector is a capability backend: vector memory, web research or the
// IDE proxy.
//
// Invoke returns errors from the toolerr taxonomy where it can; anything
// else is normalized to BackendError by the router.
type Connector interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	Invoke(ctx context.Context, tool string, args map[string]any) (Result, error)
}

// Result is a backend's successful response. Text is what a human reads;
// Data, when set, is the JSON-compatible structured payload.
type Result struct {
	Text string
	Data any
}

// TextResult builds a Result with text only.
func TextResult(text string) Result {
	return Result{Text: text}
}

// Func adapts a plain function to a dispatch target.
type Func func(ctx context.Context, args map[string]any) (Result, error)

// --- Argument helpers ---
//
// Arguments arrive as decoded JSON, so numbers are float64 and nested
// values are map[string]any / []any.

// String returns args[key] as a string, or def when absent or not a string.
func String(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return def
}

// Bool returns args[key] as a bool, or def.
func Bool(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

// Int returns args[key] as an int, or def.
func Int(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

// Object returns args[key] as an object, or nil.
func Object(args map[string]any, key string) map[string]any {
	if v, ok := args[key].(map[string]any); ok {
		return v
	}
	return nil
}

// Has reports whether key is present in args.
func Has(args map[string]any, key string) bool {
	_, ok := args[key]
	return ok
}
