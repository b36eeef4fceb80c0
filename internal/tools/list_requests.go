package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/relay/internal/connector"
	"github.com/HendryAvila/relay/internal/planner"
)

// ListRequestsTool handles the list_requests tool.
type ListRequestsTool struct {
	store *planner.Store
}

// NewListRequestsTool creates a ListRequestsTool.
func NewListRequestsTool(store *planner.Store) *ListRequestsTool {
	return &ListRequestsTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *ListRequestsTool) Definition() mcp.Tool {
	return mcp.NewTool("list_requests",
		mcp.WithDescription("List every request with its status and task counts."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)
}

// Call renders the request table.
func (t *ListRequestsTool) Call(_ context.Context, _ map[string]any) (connector.Result, error) {
	rows := t.store.ListRequests()
	return connector.Result{
		Text: "# Requests\n\n" + planner.RenderRequestList(rows),
		Data: map[string]any{"requests": rows},
	}, nil
}
