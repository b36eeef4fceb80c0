package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/relay/internal/connector"
	"github.com/HendryAvila/relay/internal/planner"
)

// UpdateTaskTool handles the update_task tool.
type UpdateTaskTool struct {
	store *planner.Store
}

// NewUpdateTaskTool creates an UpdateTaskTool.
func NewUpdateTaskTool(store *planner.Store) *UpdateTaskTool {
	return &UpdateTaskTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *UpdateTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("update_task",
		mcp.WithDescription("Update the title and/or description of a task that is still pending."),
		mcp.WithString("requestId", mcp.Required(), mcp.Description("ID of the request")),
		mcp.WithString("taskId", mcp.Required(), mcp.Description("ID of the task")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("description", mcp.Description("New description")),
	)
}

// Call applies the update.
func (t *UpdateTaskTool) Call(_ context.Context, args map[string]any) (connector.Result, error) {
	reqID, err := requireString(args, "requestId")
	if err != nil {
		return connector.Result{}, err
	}
	taskID, err := requireString(args, "taskId")
	if err != nil {
		return connector.Result{}, err
	}

	r, err := t.store.UpdateTask(reqID, taskID, planner.TaskUpdate{
		Title:       optionalString(args, "title"),
		Description: optionalString(args, "description"),
	})
	if err != nil {
		return connector.Result{}, err
	}

	return connector.Result{
		Text: fmt.Sprintf("# Task Updated\n\n%s", planner.RenderProgress(r)),
		Data: map[string]any{"status": "task_updated", "requestId": reqID, "taskId": taskID},
	}, nil
}
