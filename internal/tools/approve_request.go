package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/relay/internal/connector"
	"github.com/HendryAvila/relay/internal/planner"
)

// ApproveRequestCompletionTool handles the approve_request_completion tool.
// It is the second gate, above the per-task approvals.
type ApproveRequestCompletionTool struct {
	store *planner.Store
}

// NewApproveRequestCompletionTool creates an ApproveRequestCompletionTool.
func NewApproveRequestCompletionTool(store *planner.Store) *ApproveRequestCompletionTool {
	return &ApproveRequestCompletionTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *ApproveRequestCompletionTool) Definition() mcp.Tool {
	return mcp.NewTool("approve_request_completion",
		mcp.WithDescription(
			"Record the user's approval that a whole request is finished. "+
				"Fails while any task is not yet approved.",
		),
		mcp.WithString("requestId", mcp.Required(), mcp.Description("ID of the request")),
	)
}

// Call completes the request.
func (t *ApproveRequestCompletionTool) Call(_ context.Context, args map[string]any) (connector.Result, error) {
	reqID, err := requireString(args, "requestId")
	if err != nil {
		return connector.Result{}, err
	}

	r, err := t.store.ApproveRequestCompletion(reqID)
	if err != nil {
		return connector.Result{}, err
	}

	text := fmt.Sprintf("# ✅ Request Completed\n\nRequest `%s` is approved and closed.\n\n%s",
		reqID, planner.RenderProgress(r))
	return connector.Result{
		Text: text,
		Data: map[string]any{"status": "request_approved_complete", "requestId": reqID},
	}, nil
}
