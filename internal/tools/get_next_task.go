package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/relay/internal/connector"
	"github.com/HendryAvila/relay/internal/planner"
)

// GetNextTaskTool handles the get_next_task tool.
type GetNextTaskTool struct {
	store *planner.Store
}

// NewGetNextTaskTool creates a GetNextTaskTool.
func NewGetNextTaskTool(store *planner.Store) *GetNextTaskTool {
	return &GetNextTaskTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *GetNextTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("get_next_task",
		mcp.WithDescription(
			"Get the next pending task of a request. When nothing is pending the "+
				"response says whether tasks still await approval or the request is "+
				"ready for `approve_request_completion`.",
		),
		mcp.WithString("requestId",
			mcp.Required(),
			mcp.Description("ID of the request, e.g. req-1"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)
}

// Call returns the next pending task or the no_pending_tasks outcome.
func (t *GetNextTaskTool) Call(_ context.Context, args map[string]any) (connector.Result, error) {
	reqID, err := requireString(args, "requestId")
	if err != nil {
		return connector.Result{}, err
	}
	next, err := t.store.GetNextTask(reqID)
	if err != nil {
		return connector.Result{}, err
	}

	var b strings.Builder
	if next.Outcome == planner.OutcomeNextTask {
		fmt.Fprintf(&b, "# 🔄 Next Task: %s\n\n", next.Task.Title)
		fmt.Fprintf(&b, "**Task ID:** `%s`\n", next.Task.ID)
		if next.Task.Description != "" {
			fmt.Fprintf(&b, "**Description:** %s\n", next.Task.Description)
		}
		b.WriteString("\nWhen finished, call `mark_task_done` and wait for the user to approve it.\n\n")
	} else {
		b.WriteString("# No Pending Tasks\n\n")
		switch {
		case next.ReadyForCompletion:
			b.WriteString("Every task is approved. Ask the user to approve the whole request " +
				"with `approve_request_completion`.\n\n")
		case len(next.AwaitingApproval) > 0:
			fmt.Fprintf(&b, "Waiting on user approval for: %s\n\n",
				strings.Join(next.AwaitingApproval, ", "))
		}
	}
	b.WriteString(next.Progress)

	return connector.Result{Text: b.String(), Data: next}, nil
}
