package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/relay/internal/connector"
	"github.com/HendryAvila/relay/internal/planner"
)

// ApproveTaskCompletionTool handles the approve_task_completion tool.
// It is the first of the two approval gates.
type ApproveTaskCompletionTool struct {
	store *planner.Store
}

// NewApproveTaskCompletionTool creates an ApproveTaskCompletionTool.
func NewApproveTaskCompletionTool(store *planner.Store) *ApproveTaskCompletionTool {
	return &ApproveTaskCompletionTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *ApproveTaskCompletionTool) Definition() mcp.Tool {
	return mcp.NewTool("approve_task_completion",
		mcp.WithDescription(
			"Record the user's approval of a task that was marked done. "+
				"Only call this after the user has explicitly approved the task.",
		),
		mcp.WithString("requestId", mcp.Required(), mcp.Description("ID of the request")),
		mcp.WithString("taskId", mcp.Required(), mcp.Description("ID of the task to approve")),
	)
}

// Call moves the task from done to approved.
func (t *ApproveTaskCompletionTool) Call(_ context.Context, args map[string]any) (connector.Result, error) {
	reqID, err := requireString(args, "requestId")
	if err != nil {
		return connector.Result{}, err
	}
	taskID, err := requireString(args, "taskId")
	if err != nil {
		return connector.Result{}, err
	}

	r, err := t.store.ApproveTaskCompletion(reqID, taskID)
	if err != nil {
		return connector.Result{}, err
	}

	next := "Call `get_next_task` to continue."
	if r.AllTasksApprovedForCompletion {
		next = "Every task is approved. Ask the user to approve the request with `approve_request_completion`."
	}
	text := fmt.Sprintf("# ✅ Task Approved\n\nTask `%s` is approved. %s\n\n%s",
		taskID, next, planner.RenderProgress(r))

	return connector.Result{
		Text: text,
		Data: map[string]any{
			"status":                        "task_approved",
			"requestId":                     reqID,
			"taskId":                        taskID,
			"allTasksApprovedForCompletion": r.AllTasksApprovedForCompletion,
		},
	}, nil
}
