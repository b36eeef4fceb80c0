package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/relay/internal/connector"
	"github.com/HendryAvila/relay/internal/planner"
)

// MarkTaskDoneTool handles the mark_task_done tool.
type MarkTaskDoneTool struct {
	store *planner.Store
}

// NewMarkTaskDoneTool creates a MarkTaskDoneTool.
func NewMarkTaskDoneTool(store *planner.Store) *MarkTaskDoneTool {
	return &MarkTaskDoneTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *MarkTaskDoneTool) Definition() mcp.Tool {
	return mcp.NewTool("mark_task_done",
		mcp.WithDescription(
			"Mark a pending task as done and record what was done. "+
				"This does not approve the task: the user must confirm it with "+
				"`approve_task_completion` before the next task is started.",
		),
		mcp.WithString("requestId", mcp.Required(), mcp.Description("ID of the request")),
		mcp.WithString("taskId", mcp.Required(), mcp.Description("ID of the task")),
		mcp.WithString("completedDetails",
			mcp.Description("Summary of the work done for this task"),
		),
	)
}

// Call moves the task from pending to done.
func (t *MarkTaskDoneTool) Call(_ context.Context, args map[string]any) (connector.Result, error) {
	reqID, err := requireString(args, "requestId")
	if err != nil {
		return connector.Result{}, err
	}
	taskID, err := requireString(args, "taskId")
	if err != nil {
		return connector.Result{}, err
	}

	r, err := t.store.MarkTaskDone(reqID, taskID, connector.String(args, "completedDetails", ""))
	if err != nil {
		return connector.Result{}, err
	}

	text := fmt.Sprintf(
		"# 🔄 Task Done, Awaiting Approval\n\n"+
			"Task `%s` is marked done. Ask the user to review it and call "+
			"`approve_task_completion` before continuing.\n\n%s",
		taskID, planner.RenderProgress(r),
	)
	return connector.Result{
		Text: text,
		Data: map[string]any{"status": "task_marked_done", "requestId": reqID, "taskId": taskID},
	}, nil
}
