package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/relay/internal/connector"
	"github.com/HendryAvila/relay/internal/planner"
)

// DeleteTaskTool handles the delete_task tool.
type DeleteTaskTool struct {
	store *planner.Store
}

// NewDeleteTaskTool creates a DeleteTaskTool.
func NewDeleteTaskTool(store *planner.Store) *DeleteTaskTool {
	return &DeleteTaskTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *DeleteTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("delete_task",
		mcp.WithDescription("Delete a pending task. Done or approved tasks cannot be deleted."),
		mcp.WithString("requestId", mcp.Required(), mcp.Description("ID of the request")),
		mcp.WithString("taskId", mcp.Required(), mcp.Description("ID of the task")),
	)
}

// Call removes the task.
func (t *DeleteTaskTool) Call(_ context.Context, args map[string]any) (connector.Result, error) {
	reqID, err := requireString(args, "requestId")
	if err != nil {
		return connector.Result{}, err
	}
	taskID, err := requireString(args, "taskId")
	if err != nil {
		return connector.Result{}, err
	}

	r, err := t.store.DeleteTask(reqID, taskID)
	if err != nil {
		return connector.Result{}, err
	}
	return connector.Result{
		Text: fmt.Sprintf("# Task Deleted\n\nRemoved `%s`.\n\n%s", taskID, planner.RenderProgress(r)),
		Data: map[string]any{"status": "task_deleted", "requestId": reqID, "taskId": taskID},
	}, nil
}

// DeleteRequestTool handles the delete_request tool.
type DeleteRequestTool struct {
	store *planner.Store
}

// NewDeleteRequestTool creates a DeleteRequestTool.
func NewDeleteRequestTool(store *planner.Store) *DeleteRequestTool {
	return &DeleteRequestTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *DeleteRequestTool) Definition() mcp.Tool {
	return mcp.NewTool("delete_request",
		mcp.WithDescription("Delete a request and all of its tasks."),
		mcp.WithString("requestId", mcp.Required(), mcp.Description("ID of the request")),
	)
}

// Call removes the request.
func (t *DeleteRequestTool) Call(_ context.Context, args map[string]any) (connector.Result, error) {
	reqID, err := requireString(args, "requestId")
	if err != nil {
		return connector.Result{}, err
	}
	if err := t.store.DeleteRequest(reqID); err != nil {
		return connector.Result{}, err
	}
	return connector.Result{
		Text: fmt.Sprintf("# Request Deleted\n\nRemoved `%s` and its tasks.", reqID),
		Data: map[string]any{"status": "request_deleted", "requestId": reqID},
	}, nil
}
