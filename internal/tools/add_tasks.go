package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/relay/internal/connector"
	"github.com/HendryAvila/relay/internal/planner"
)

// AddTasksToRequestTool handles the add_tasks_to_request tool.
type AddTasksToRequestTool struct {
	store *planner.Store
}

// NewAddTasksToRequestTool creates an AddTasksToRequestTool.
func NewAddTasksToRequestTool(store *planner.Store) *AddTasksToRequestTool {
	return &AddTasksToRequestTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *AddTasksToRequestTool) Definition() mcp.Tool {
	return mcp.NewTool("add_tasks_to_request",
		mcp.WithDescription("Append new pending tasks to the end of an open request."),
		mcp.WithString("requestId", mcp.Required(), mcp.Description("ID of the request")),
		mcp.WithArray("tasks",
			mcp.Required(),
			mcp.Description("Tasks to append, each an object with a title and optional description, or a plain title string"),
			mcp.Items(taskItemSchema),
			mcp.MinItems(1),
		),
	)
}

// Call appends the tasks.
func (t *AddTasksToRequestTool) Call(_ context.Context, args map[string]any) (connector.Result, error) {
	reqID, err := requireString(args, "requestId")
	if err != nil {
		return connector.Result{}, err
	}
	tasks, err := parseTasks(args, "tasks")
	if err != nil {
		return connector.Result{}, err
	}

	ids, r, err := t.store.AddTasksToRequest(reqID, tasks)
	if err != nil {
		return connector.Result{}, err
	}

	text := fmt.Sprintf("# Tasks Added\n\nAdded %s to `%s`.\n\n%s",
		strings.Join(ids, ", "), reqID, planner.RenderProgress(r))
	return connector.Result{
		Text: text,
		Data: map[string]any{"status": "tasks_added", "requestId": reqID, "taskIds": ids},
	}, nil
}
