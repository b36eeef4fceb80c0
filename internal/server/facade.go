package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/HendryAvila/relay/internal/connector"
	"github.com/HendryAvila/relay/internal/router"
	"github.com/HendryAvila/relay/internal/toolerr"
)

// facade adapts the router to mcp-go: it shapes results, keeps the
// server's tool list in step with dynamic sources and reports sources
// that could not be listed.
type facade struct {
	router      *router.Router
	listTimeout time.Duration
	logger      *zap.Logger

	mcp *server.MCPServer

	mu      sync.Mutex
	dynamic map[string]struct{} // dynamic tool names registered with mcp
	digest  string

	// warnings from BeforeListTools, keyed by the *mcp.ListToolsRequest
	// mcp-go passes to both hooks of one call. Request ids repeat across
	// sessions, the pointer does not.
	warnings sync.Map
}

func newFacade(rt *router.Router, listTimeout time.Duration, logger *zap.Logger) *facade {
	return &facade{
		router:      rt,
		listTimeout: listTimeout,
		logger:      logger.Named("facade"),
		dynamic:     make(map[string]struct{}),
	}
}

func (f *facade) attach(s *server.MCPServer) { f.mcp = s }

// --- Tool calls ---

// handle is the single mcp-go handler behind every tool.
func (f *facade) handle(ctx context.Context, req mcp.CallToolRequest) (res *mcp.CallToolResult, err error) {
	name := req.Params.Name
	defer func() {
		if p := recover(); p != nil {
			f.logger.Error("tool call panicked",
				zap.String("tool", name), zap.Any("panic", p), zap.Stack("stack"))
			res, err = errorResult(toolerr.New(toolerr.BackendError, "internal error while running %s", name)), nil
		}
	}()

	out, callErr := f.router.CallTool(ctx, name, req.GetArguments())
	if callErr != nil {
		return errorResult(callErr), nil
	}
	return successResult(out), nil
}

// successResult carries the structured payload when there is one, with
// the text as the fallback content.
func successResult(r connector.Result) *mcp.CallToolResult {
	if r.Data == nil {
		return mcp.NewToolResultText(r.Text)
	}
	text := r.Text
	if text == "" {
		if b, err := json.Marshal(r.Data); err == nil {
			text = string(b)
		}
	}
	return mcp.NewToolResultStructured(r.Data, text)
}

// errorResult renders any error as {"error": envelope} with IsError set.
func errorResult(err error) *mcp.CallToolResult {
	env := toolerr.Normalize(err).Envelope()
	res := mcp.NewToolResultStructured(
		map[string]any{"error": env},
		fmt.Sprintf("%s: %s", env.Kind, env.Message),
	)
	res.IsError = true
	return res
}

// toolCall is the part of a tools/call message needed to route it.
type toolCall struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Method  string `json:"method"`
	Params  struct {
		Name      string `json:"name"`
		Arguments any    `json:"arguments"`
	} `json:"params"`
}

// unroutedCall answers a tools/call for a name mcp-go has no handler for.
// The router decides what such a name is: unknown, or a dynamic tool that
// already left the server's list. Either way the client gets a tool
// result instead of an INVALID_PARAMS protocol error. ok is false for
// every other message.
func (f *facade) unroutedCall(ctx context.Context, raw []byte) (resp mcp.JSONRPCMessage, ok bool) {
	var msg toolCall
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, false
	}
	if msg.JSONRPC != mcp.JSONRPC_VERSION || msg.Method != string(mcp.MethodToolsCall) || msg.ID == nil {
		return nil, false
	}
	if f.mcp == nil || f.mcp.GetTool(msg.Params.Name) != nil {
		return nil, false
	}

	var req mcp.CallToolRequest
	req.Params.Name = msg.Params.Name
	req.Params.Arguments = msg.Params.Arguments
	res, _ := f.handle(ctx, req)
	return mcp.JSONRPCResponse{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      mcp.NewRequestId(msg.ID),
		Result:  res,
	}, true
}

// --- Dynamic tools ---

func (f *facade) hooks() *server.Hooks {
	hooks := &server.Hooks{}

	hooks.AddBeforeListTools(func(ctx context.Context, _ any, req *mcp.ListToolsRequest) {
		lctx, cancel := context.WithTimeout(ctx, f.listTimeout)
		defer cancel()

		cat := f.router.ListTools(lctx)
		f.syncDynamic(cat.Dynamic)
		if len(cat.Warnings) > 0 && req != nil {
			f.warnings.Store(req, cat.Warnings)
		}
	})

	hooks.AddAfterListTools(func(_ context.Context, _ any, req *mcp.ListToolsRequest, result *mcp.ListToolsResult) {
		if req == nil {
			return
		}
		v, ok := f.warnings.LoadAndDelete(req)
		if !ok || result == nil {
			return
		}
		if result.Meta == nil {
			result.Meta = &mcp.Meta{}
		}
		if result.Meta.AdditionalFields == nil {
			result.Meta.AdditionalFields = make(map[string]any)
		}
		result.Meta.AdditionalFields["warnings"] = v
	})

	hooks.AddOnError(func(_ context.Context, id any, method mcp.MCPMethod, message any, err error) {
		if req, ok := message.(*mcp.ListToolsRequest); ok {
			f.warnings.Delete(req)
		}
		f.logger.Warn("request failed", zap.String("method", string(method)), zap.Any("id", id), zap.Error(err))
	})

	return hooks
}

// onIDEToolsChanged is called by the IDE proxy when its tool list changes
// outside a tools/list request (the refresher, a proxied call).
func (f *facade) onIDEToolsChanged(tools []mcp.Tool) {
	f.syncDynamic(f.router.SetSourceTools(backendIDE, tools))
}

// syncDynamic makes the server's dynamic tools match tools. mcp-go sends
// tools/list_changed on every AddTools/DeleteTools, so nothing is touched
// when the set is unchanged.
func (f *facade) syncDynamic(tools []mcp.Tool) {
	digest := toolsDigest(tools)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mcp == nil || digest == f.digest {
		return
	}
	f.digest = digest

	next := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		next[t.Name] = struct{}{}
	}
	var stale []string
	for name := range f.dynamic {
		if _, ok := next[name]; !ok {
			stale = append(stale, name)
		}
	}
	sort.Strings(stale)

	if len(stale) > 0 {
		f.mcp.DeleteTools(stale...)
	}
	if len(tools) > 0 {
		st := make([]server.ServerTool, 0, len(tools))
		for _, t := range tools {
			st = append(st, server.ServerTool{Tool: t, Handler: f.handle})
		}
		f.mcp.AddTools(st...)
	}
	f.dynamic = next

	f.logger.Info("dynamic tools synced", zap.Int("tools", len(tools)), zap.Int("removed", len(stale)))
}

func toolsDigest(tools []mcp.Tool) string {
	sorted := append([]mcp.Tool(nil), tools...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	b, err := json.Marshal(sorted)
	if err != nil {
		// unmarshalable schemas still need a stable key
		names := make([]string, len(sorted))
		for i, t := range sorted {
			names[i] = t.Name
		}
		b = []byte(fmt.Sprint(names))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
