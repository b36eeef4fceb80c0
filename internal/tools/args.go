// Package tools implements the planner's MCP tool handlers.
//
// Each tool receives the planner store via its struct (DIP) and exposes a
// Definition for registration plus a Call the router dispatches to.
//
// Design principles:
// - SRP: each file = one tool
// - OCP: new tools are added without modifying existing ones
package tools

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/relay/internal/connector"
	"github.com/HendryAvila/relay/internal/planner"
	"github.com/HendryAvila/relay/internal/toolerr"
)

// Tool is a planner tool: a definition plus the call that serves it.
type Tool interface {
	Definition() mcp.Tool
	Call(ctx context.Context, args map[string]any) (connector.Result, error)
}

// PlannerTools returns every planner tool bound to the store, in the
// order they are listed to clients.
func PlannerTools(store *planner.Store) []Tool {
	return []Tool{
		NewRequestPlanningTool(store),
		NewGetNextTaskTool(store),
		NewMarkTaskDoneTool(store),
		NewApproveTaskCompletionTool(store),
		NewApproveRequestCompletionTool(store),
		NewOpenTaskDetailsTool(store),
		NewListRequestsTool(store),
		NewAddTasksToRequestTool(store),
		NewUpdateTaskTool(store),
		NewDeleteTaskTool(store),
		NewDeleteRequestTool(store),
	}
}

// taskItemSchema is the JSON schema for one entry of a tasks array: an
// object with a title, or a plain string used as the title.
var taskItemSchema = map[string]any{
	"type": []string{"object", "string"},
	"properties": map[string]any{
		"title":       map[string]any{"type": "string", "description": "Short task title"},
		"description": map[string]any{"type": "string", "description": "What the task involves"},
	},
	"required": []string{"title"},
}

// requireString returns a non-blank string argument.
func requireString(args map[string]any, key string) (string, error) {
	v := strings.TrimSpace(connector.String(args, key, ""))
	if v == "" {
		return "", toolerr.Invalid(key, "%s is required", key)
	}
	return v, nil
}

// parseTasks reads a tasks array. Plain strings are accepted as titles.
func parseTasks(args map[string]any, key string) ([]planner.TaskInput, error) {
	raw, ok := args[key].([]any)
	if !ok || len(raw) == 0 {
		return nil, toolerr.Invalid(key, "%s must be a non-empty array", key)
	}
	out := make([]planner.TaskInput, 0, len(raw))
	for i, item := range raw {
		switch v := item.(type) {
		case string:
			out = append(out, planner.TaskInput{Title: v, Description: v})
		case map[string]any:
			out = append(out, planner.TaskInput{
				Title:       connector.String(v, "title", ""),
				Description: connector.String(v, "description", ""),
			})
		default:
			return nil, toolerr.Invalid(key, "%s[%d] must be an object with a title", key, i)
		}
	}
	return out, nil
}

// optionalString returns a pointer to args[key] when it was supplied.
func optionalString(args map[string]any, key string) *string {
	if v, ok := args[key].(string); ok {
		return &v
	}
	return nil
}
