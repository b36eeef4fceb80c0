package planner

import (
	"fmt"
	"strings"
)

// RenderProgress renders a request's tasks as a markdown table.
func RenderProgress(r *Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Progress for %s\n\n", r.ID)
	fmt.Fprintf(&b, "**Request:** %s\n", r.OriginalRequest)
	fmt.Fprintf(&b, "**Status:** %s\n\n", r.Status)
	b.WriteString("| Task ID | Title | Description | Status | Approval |\n")
	b.WriteString("|---------|-------|-------------|--------|----------|\n")
	for _, t := range r.Tasks {
		marker := "⬜"
		approval := "⏳ Pending"
		switch t.Status {
		case TaskDone:
			marker = "🔄"
		case TaskApproved:
			marker = "✅"
			approval = "✅ Approved"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s %s | %s |\n",
			t.ID, cell(t.Title), cell(t.Description), marker, t.Status, approval)
	}
	return b.String()
}

// RenderRequestList renders request summaries as a markdown table.
func RenderRequestList(rows []RequestSummary) string {
	if len(rows) == 0 {
		return "No requests in the system.\n"
	}
	var b strings.Builder
	b.WriteString("| Request ID | Request | Status | Total | Done | Approved |\n")
	b.WriteString("|------------|---------|--------|-------|------|----------|\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "| %s | %s | %s | %d | %d | %d |\n",
			r.ID, cell(truncate(r.OriginalRequest, 30)), r.Status,
			r.TotalTasks, r.DoneTasks, r.ApprovedTasks)
	}
	return b.String()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// cell keeps a value on one table row.
func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
