package ideproxy

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/relay/internal/connector"
	"github.com/HendryAvila/relay/internal/toolerr"
)

// The meta tools are always registered, so a client can reach the IDE
// even before its tools have been synced into the catalog. They report
// BackendUnavailable while no IDE is bound.

// ListToolsDefinition describes ide_list_tools.
func ListToolsDefinition() mcp.Tool {
	return mcp.NewTool("ide_list_tools",
		mcp.WithDescription("List the tools exposed by the running JetBrains IDE."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)
}

// CallToolDefinition describes ide_call_tool.
func CallToolDefinition() mcp.Tool {
	return mcp.NewTool("ide_call_tool",
		mcp.WithDescription("Call a tool of the running JetBrains IDE by name."),
		mcp.WithString("tool_name",
			mcp.Required(),
			mcp.Description("Name of the IDE tool, as returned by ide_list_tools"),
		),
		mcp.WithObject("tool_args",
			mcp.Description("Arguments for the IDE tool"),
		),
	)
}

// HandleListTools serves ide_list_tools.
func (c *Client) HandleListTools(ctx context.Context, _ map[string]any) (connector.Result, error) {
	tools, err := c.ListTools(ctx)
	if err != nil {
		return connector.Result{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# IDE Tools (%d)\n\n", len(tools))
	rows := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		fmt.Fprintf(&b, "- `%s`: %s\n", t.Name, firstLine(t.Description))
		rows = append(rows, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"inputSchema": t.InputSchema,
		})
	}
	return connector.Result{Text: b.String(), Data: map[string]any{"tools": rows}}, nil
}

// HandleCallTool serves ide_call_tool.
func (c *Client) HandleCallTool(ctx context.Context, args map[string]any) (connector.Result, error) {
	name := strings.TrimSpace(connector.String(args, "tool_name", ""))
	if name == "" {
		return connector.Result{}, toolerr.Invalid("tool_name", "tool_name is required")
	}
	return c.Invoke(ctx, name, connector.Object(args, "tool_args"))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
