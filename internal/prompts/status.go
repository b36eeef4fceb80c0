package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the relay-status MCP prompt.
// It instructs the AI to read and present the state of planned requests.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("relay-status",
		mcp.WithPromptDescription(
			"Show the progress of planned requests and what needs approval next.",
		),
		mcp.WithArgument("requestId",
			mcp.ArgumentDescription("Only report on this request (default: all)"),
		),
	)
}

// Handle processes the relay-status prompt request.
func (p *StatusPrompt) Handle(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	first := "Please run `list_requests` to see every request."
	if id := req.Params.Arguments["requestId"]; id != "" {
		first = fmt.Sprintf("Please run `get_next_task` with requestId='%s'.", id)
	}

	return &mcp.GetPromptResult{
		Description: "Request Status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(first + "\n\n" +
					"Then:\n" +
					"1. Show me the progress in a clear, visual format\n" +
					"2. List the tasks that are done and waiting on my approval\n" +
					"3. Tell me exactly what I should do next",
				),
			},
		},
	}, nil
}
