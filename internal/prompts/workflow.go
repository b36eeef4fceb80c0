// Package prompts implements MCP prompt handlers for the planning workflow.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// WorkflowPrompt handles the relay-workflow MCP prompt.
// It walks the AI through planning a request and the two-level approval cycle.
type WorkflowPrompt struct{}

// NewWorkflowPrompt creates a WorkflowPrompt.
func NewWorkflowPrompt() *WorkflowPrompt {
	return &WorkflowPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *WorkflowPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("relay-workflow",
		mcp.WithPromptDescription(
			"Plan a request as ordered tasks and work through them one at a time, "+
				"stopping for user approval after every task and once more at the end.",
		),
		mcp.WithArgument("request",
			mcp.ArgumentDescription("What you want done. Leave empty to be asked."),
		),
	)
}

// Handle processes the relay-workflow prompt request.
func (p *WorkflowPrompt) Handle(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	request := req.Params.Arguments["request"]

	opening := "Ask me what I want done, then plan it."
	description := "Plan and work a new request"
	if request != "" {
		opening = fmt.Sprintf("Here is my request:\n\n> %s", request)
		description = fmt.Sprintf("Plan and work: %s", request)
	}

	return &mcp.GetPromptResult{
		Description: description,
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(opening + "\n\n" +
					"Please:\n" +
					"1. Split the request into small ordered tasks and register them with `request_planning`\n" +
					"2. Call `get_next_task` and work only on the task it returns\n" +
					"3. When the task is finished, call `mark_task_done` with a short summary of what changed\n" +
					"4. Show me the progress table and STOP. Do not continue until I approve the task\n" +
					"5. After I approve, call `approve_task_completion`, then go back to step 2\n" +
					"6. When `get_next_task` reports that every task is approved, ask me to approve the whole request " +
					"and only then call `approve_request_completion`\n\n" +
					"Use `memory_find` before starting to recall anything relevant, and `web_search` / `visit_page` " +
					"when a task needs outside information.",
				),
			},
		},
	}, nil
}
