// Package ideproxy forwards tool calls to the tool server built into a
// running JetBrains IDE.
//
// The IDE's port is found through the discovery service. Any transport
// failure against a bound endpoint demotes it, so the next call
// rediscovers rather than hammering a dead port.
package ideproxy

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/HendryAvila/relay/internal/connector"
	"github.com/HendryAvila/relay/internal/discovery"
	"github.com/HendryAvila/relay/internal/toolerr"
)

// maxResponseBytes caps how much of an IDE response is read.
const maxResponseBytes = 8 << 20

// Endpointer resolves the IDE endpoint and accepts demotions.
// *discovery.Service satisfies it.
type Endpointer interface {
	Endpoint(ctx context.Context) (string, error)
	Demote(endpoint string, cause error)
}

var _ Endpointer = (*discovery.Service)(nil)

// Client is the IDE proxy connector.
type Client struct {
	disc   Endpointer
	http   *http.Client
	logger *zap.Logger

	mu       sync.Mutex
	digest   string
	onChange func(tools []mcp.Tool)
}

var _ connector.Connector = (*Client)(nil)

// New creates a Client.
func New(disc Endpointer, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{disc: disc, http: httpClient, logger: logger}
}

// OnToolsChanged registers a callback fired when the IDE's tool list
// differs from the previous successful listing.
func (c *Client) OnToolsChanged(fn func(tools []mcp.Tool)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// ideTool is the wire shape of one entry of GET /mcp/list_tools.
type ideTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ideResponse is the wire shape of POST /mcp/{tool}.
type ideResponse struct {
	Status any    `json:"status"`
	Error  string `json:"error"`
}

// ListTools fetches the IDE's tools.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	body, err := c.do(ctx, http.MethodGet, discovery.ProbePath, nil)
	if err != nil {
		return nil, err
	}

	var raw []ideTool
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, toolerr.Wrap(toolerr.BackendError, err, "decoding IDE tool list")
	}

	tools := make([]mcp.Tool, 0, len(raw))
	for _, t := range raw {
		if t.Name == "" {
			continue
		}
		tools = append(tools, toMCPTool(t))
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	c.noteTools(body, tools)
	return tools, nil
}

// Invoke calls one IDE tool.
func (c *Client) Invoke(ctx context.Context, tool string, args map[string]any) (connector.Result, error) {
	if tool == "" {
		return connector.Result{}, toolerr.Invalid("tool_name", "tool name is required")
	}
	if args == nil {
		args = map[string]any{}
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return connector.Result{}, toolerr.Wrap(toolerr.InvalidArgument, err, "encoding arguments")
	}

	body, err := c.do(ctx, http.MethodPost, "/mcp/"+url.PathEscape(tool), payload)
	if err != nil {
		return connector.Result{}, err
	}

	var resp ideResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		// Some IDE tools answer with plain text.
		return connector.TextResult(string(body)), nil
	}
	if resp.Error != "" {
		return connector.Result{}, toolerr.New(toolerr.BackendError, "%s", resp.Error)
	}

	text := ""
	switch v := resp.Status.(type) {
	case nil:
	case string:
		text = v
	default:
		b, _ := json.MarshalIndent(v, "", "  ")
		text = string(b)
	}
	return connector.Result{Text: text, Data: map[string]any{"status": resp.Status}}, nil
}

// Refresh lists tools to keep discovery warm and surface tool changes.
func (c *Client) Refresh(ctx context.Context) {
	if _, err := c.ListTools(ctx); err != nil {
		c.logger.Debug("IDE refresh failed", zap.Error(err))
	}
}

// do resolves the endpoint and performs one HTTP exchange. Transport
// failures and 5xx answers demote the endpoint.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	ep, err := c.disc.Endpoint(ctx)
	if err != nil {
		return nil, err
	}

	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, ep+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("building IDE request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.disc.Demote(ep, err)
		return nil, toolerr.Wrap(toolerr.BackendUnavailable, err, "IDE request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.disc.Demote(ep, err)
		return nil, toolerr.Wrap(toolerr.BackendUnavailable, err, "reading IDE response: %v", err)
	}

	switch {
	case resp.StatusCode >= 500:
		cause := fmt.Errorf("IDE answered %d", resp.StatusCode)
		c.disc.Demote(ep, cause)
		return nil, toolerr.Wrap(toolerr.BackendUnavailable, cause, "%v: %s", cause, snippet(body))
	case resp.StatusCode == http.StatusNotFound:
		return nil, toolerr.New(toolerr.BackendError, "IDE has no handler for %s", path)
	case resp.StatusCode >= 400:
		return nil, toolerr.New(toolerr.BackendError, "IDE answered %d: %s", resp.StatusCode, snippet(body))
	}
	return body, nil
}

func (c *Client) noteTools(body []byte, tools []mcp.Tool) {
	sum := sha256.Sum256(body)
	digest := hex.EncodeToString(sum[:])

	c.mu.Lock()
	changed := c.digest != "" && c.digest != digest
	first := c.digest == ""
	c.digest = digest
	fn := c.onChange
	c.mu.Unlock()

	if first {
		c.logger.Info("IDE tools listed", zap.Int("count", len(tools)))
	}
	if changed {
		c.logger.Info("IDE tool list changed", zap.Int("count", len(tools)))
		if fn != nil {
			fn(tools)
		}
	}
}

func toMCPTool(t ideTool) mcp.Tool {
	tool := mcp.Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{}},
	}
	if len(t.InputSchema) > 0 && !bytes.Equal(t.InputSchema, []byte("null")) {
		var schema mcp.ToolInputSchema
		if err := json.Unmarshal(t.InputSchema, &schema); err == nil {
			if schema.Type == "" {
				schema.Type = "object"
			}
			if schema.Properties == nil {
				schema.Properties = map[string]any{}
			}
			tool.InputSchema = schema
		}
	}
	return tool
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
