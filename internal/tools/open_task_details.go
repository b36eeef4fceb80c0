package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/relay/internal/connector"
	"github.com/HendryAvila/relay/internal/planner"
)

// OpenTaskDetailsTool handles the open_task_details tool.
type OpenTaskDetailsTool struct {
	store *planner.Store
}

// NewOpenTaskDetailsTool creates an OpenTaskDetailsTool.
func NewOpenTaskDetailsTool(store *planner.Store) *OpenTaskDetailsTool {
	return &OpenTaskDetailsTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *OpenTaskDetailsTool) Definition() mcp.Tool {
	return mcp.NewTool("open_task_details",
		mcp.WithDescription("Show a task's full details. requestId is optional; without it every request is searched."),
		mcp.WithString("taskId", mcp.Required(), mcp.Description("ID of the task")),
		mcp.WithString("requestId", mcp.Description("ID of the request that owns the task")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)
}

// Call looks the task up.
func (t *OpenTaskDetailsTool) Call(_ context.Context, args map[string]any) (connector.Result, error) {
	taskID, err := requireString(args, "taskId")
	if err != nil {
		return connector.Result{}, err
	}
	d, err := t.store.OpenTaskDetails(connector.String(args, "requestId", ""), taskID)
	if err != nil {
		return connector.Result{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Task %s\n\n", d.Task.ID)
	fmt.Fprintf(&b, "**Request:** `%s` (%s)\n", d.RequestID, d.RequestStatus)
	fmt.Fprintf(&b, "**Original request:** %s\n", d.OriginalRequest)
	fmt.Fprintf(&b, "**Position:** %d of %d\n", d.Position, d.TotalTasks)
	fmt.Fprintf(&b, "**Title:** %s\n", d.Task.Title)
	fmt.Fprintf(&b, "**Description:** %s\n", d.Task.Description)
	fmt.Fprintf(&b, "**Status:** %s\n", d.Task.Status)
	if d.Task.CompletedDetails != "" {
		fmt.Fprintf(&b, "\n## Completed Details\n\n%s\n", d.Task.CompletedDetails)
	}
	return connector.Result{Text: b.String(), Data: d}, nil
}
