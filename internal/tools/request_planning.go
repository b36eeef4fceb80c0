package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/relay/internal/connector"
	"github.com/HendryAvila/relay/internal/planner"
)

// RequestPlanningTool handles the request_planning tool.
// It registers a new request together with its initial task breakdown.
type RequestPlanningTool struct {
	store *planner.Store
}

// NewRequestPlanningTool creates a RequestPlanningTool.
func NewRequestPlanningTool(store *planner.Store) *RequestPlanningTool {
	return &RequestPlanningTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *RequestPlanningTool) Definition() mcp.Tool {
	return mcp.NewTool("request_planning",
		mcp.WithDescription(
			"Register a new user request and plan its associated tasks. "+
				"Tasks are worked in the given order. After each task is marked done "+
				"it must be approved by the user with `approve_task_completion` "+
				"before moving on, and the whole request needs `approve_request_completion` "+
				"once every task is approved.",
		),
		mcp.WithString("originalRequest",
			mcp.Required(),
			mcp.Description("The user's request, verbatim or summarized"),
		),
		mcp.WithString("splitDetails",
			mcp.Description("How the request was split into tasks. Defaults to originalRequest."),
		),
		mcp.WithArray("tasks",
			mcp.Required(),
			mcp.Description("Ordered list of tasks, each an object with a title and optional description, or a plain title string"),
			mcp.Items(taskItemSchema),
			mcp.MinItems(1),
		),
	)
}

// Call creates the request.
func (t *RequestPlanningTool) Call(_ context.Context, args map[string]any) (connector.Result, error) {
	desc, err := requireString(args, "originalRequest")
	if err != nil {
		return connector.Result{}, err
	}
	tasks, err := parseTasks(args, "tasks")
	if err != nil {
		return connector.Result{}, err
	}

	r, err := t.store.PlanRequest(desc, connector.String(args, "splitDetails", ""), tasks)
	if err != nil {
		return connector.Result{}, err
	}

	text := fmt.Sprintf(
		"# ✅ Request Planned\n\n"+
			"**Request ID:** `%s`\n"+
			"**Tasks:** %d\n\n"+
			"%s\n"+
			"## Next Step\n\n"+
			"Call `get_next_task` with requestId `%s` to start on the first task.\n",
		r.ID, len(r.Tasks), planner.RenderProgress(r), r.ID,
	)
	return connector.Result{
		Text: text,
		Data: map[string]any{
			"status":     "planned",
			"requestId":  r.ID,
			"totalTasks": len(r.Tasks),
			"tasks":      r.Tasks,
		},
	}, nil
}
