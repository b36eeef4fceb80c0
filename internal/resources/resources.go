// Package resources implements MCP resource handlers for research
// results, planned requests and memory collections.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (research://..., relay://..., memory://...)
// following MCP conventions.
package resources

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/relay/internal/memory"
	"github.com/HendryAvila/relay/internal/planner"
	"github.com/HendryAvila/relay/internal/research"
)

// Research is the part of the research connector the handlers read.
type Research interface {
	Session() *research.Session
	ReadScreenshot(index int) ([]byte, error)
}

// Requests is the part of the planner store the handlers read.
type Requests interface {
	ListRequests() []planner.RequestSummary
	Get(requestID string) (*planner.Request, error)
}

// Collections is the part of the memory store the handlers read.
type Collections interface {
	Collections(ctx context.Context) ([]memory.CollectionStat, error)
}

// Handler manages resource endpoints. Research and memory may be nil when
// their backend is disabled; the matching resources are then not listed.
type Handler struct {
	research Research
	requests Requests
	memory   Collections
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(r Research, reqs Requests, mem Collections) *Handler {
	return &Handler{research: r, requests: reqs, memory: mem}
}

// --- Research ---

// SummaryResource returns the resource definition for the research summary.
func (h *Handler) SummaryResource() mcp.Resource {
	return mcp.NewResource(
		"research://current/summary",
		"Research Summary",
		mcp.WithResourceDescription("Current research session: query, results and screenshots"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleSummary returns the research session as JSON.
func (h *Handler) HandleSummary(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if h.research == nil {
		return errorResource(req.Params.URI, "web research is disabled"), nil
	}
	data, err := json.MarshalIndent(h.research.Session().Summary(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling research summary: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// ScreenshotTemplate returns the template for screenshot resources.
func (h *Handler) ScreenshotTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		"research://screenshots/{index}",
		"Research Screenshot",
		mcp.WithTemplateDescription("PNG screenshot taken during the research session"),
		mcp.WithTemplateMIMEType("image/png"),
	)
}

// HandleScreenshot returns a saved screenshot as a base64 PNG blob.
func (h *Handler) HandleScreenshot(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if h.research == nil {
		return errorResource(req.Params.URI, "web research is disabled"), nil
	}
	raw := templateVar(req, "index", "research://screenshots/")
	index, err := strconv.Atoi(raw)
	if err != nil {
		return errorResource(req.Params.URI, fmt.Sprintf("invalid screenshot index %q", raw)), nil
	}
	png, err := h.research.ReadScreenshot(index)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	return []mcp.ResourceContents{
		mcp.BlobResourceContents{
			URI:      req.Params.URI,
			MIMEType: "image/png",
			Blob:     base64.StdEncoding.EncodeToString(png),
		},
	}, nil
}

// --- Requests ---

// RequestsResource returns the resource definition for the request list.
func (h *Handler) RequestsResource() mcp.Resource {
	return mcp.NewResource(
		"relay://requests",
		"Planned Requests",
		mcp.WithResourceDescription("Every planned request with its task counts"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleRequests returns the request summaries as JSON.
func (h *Handler) HandleRequests(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	rows := h.requests.ListRequests()
	if rows == nil {
		rows = []planner.RequestSummary{}
	}
	data, err := json.MarshalIndent(map[string]any{"requests": rows}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling requests: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// RequestTemplate returns the template for per-request progress.
func (h *Handler) RequestTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		"relay://requests/{requestId}",
		"Request Progress",
		mcp.WithTemplateDescription("Progress table of one request"),
		mcp.WithTemplateMIMEType("text/markdown"),
	)
}

// HandleRequest returns one request's progress as markdown.
func (h *Handler) HandleRequest(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id := templateVar(req, "requestId", "relay://requests/")
	r, err := h.requests.Get(id)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "text/markdown",
			Text:     planner.RenderProgress(r),
		},
	}, nil
}

// --- Memory ---

// CollectionsResource returns the resource definition for memory collections.
func (h *Handler) CollectionsResource() mcp.Resource {
	return mcp.NewResource(
		"memory://collections",
		"Memory Collections",
		mcp.WithResourceDescription("Memory collections and how many entries each holds"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleCollections returns the memory collections as JSON.
func (h *Handler) HandleCollections(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if h.memory == nil {
		return errorResource(req.Params.URI, "memory is disabled"), nil
	}
	stats, err := h.memory.Collections(ctx)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	if stats == nil {
		stats = []memory.CollectionStat{}
	}
	data, err := json.MarshalIndent(map[string]any{"collections": stats}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling collections: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// --- Helpers ---

// templateVar reads a URI template variable, falling back to the URI
// suffix after prefix when the server did not fill Arguments.
func templateVar(req mcp.ReadResourceRequest, name, prefix string) string {
	switch v := req.Params.Arguments[name].(type) {
	case string:
		return v
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	}
	return strings.TrimPrefix(req.Params.URI, prefix)
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
