package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/HendryAvila/relay/internal/config"
	"github.com/HendryAvila/relay/internal/connector"
	"github.com/HendryAvila/relay/internal/router"
)

// --- Helpers ---

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Server:  config.ServerConfig{Transport: config.TransportStdio},
		Planner: config.PlannerConfig{DataDir: ""},
		Memory: config.MemoryConfig{
			Enabled:     true,
			DataDir:     dir,
			SearchLimit: 10,
		},
		Research: config.ResearchConfig{
			Enabled:      true,
			SearchURL:    "http://127.0.0.1:1/html/",
			FetchTimeout: time.Second,
			MaxResults:   10,
			Retries:      1,
		},
		IDE: config.IDEConfig{
			Enabled:      false,
			Host:         "127.0.0.1",
			PortMin:      63342,
			PortMax:      63352,
			PathPrefix:   "/api",
			Freshness:    10 * time.Second,
			ProbeTimeout: 300 * time.Millisecond,
			ScanTimeout:  2 * time.Second,
			ToolPrefix:   "ide_",
		},
	}
}

func newServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, cleanup, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(cleanup)
	return s
}

var rpcID atomic.Int64

// rpc sends one JSON-RPC request and returns its decoded result.
func rpc(t *testing.T, s *Server, method string, params any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      rpcID.Add(1),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(s.HandleMessage(context.Background(), raw))
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	var resp struct {
		Result map[string]any `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(b, &resp); err != nil {
		t.Fatalf("decode response %s: %v", b, err)
	}
	if resp.Error != nil {
		t.Fatalf("%s: JSON-RPC error: %s", method, resp.Error.Message)
	}
	return resp.Result
}

func callTool(t *testing.T, s *Server, name string, args map[string]any) map[string]any {
	t.Helper()
	return rpc(t, s, "tools/call", map[string]any{"name": name, "arguments": args})
}

func listToolNames(t *testing.T, s *Server) (map[string]bool, map[string]any) {
	t.Helper()
	res := rpc(t, s, "tools/list", map[string]any{})
	names := map[string]bool{}
	list, _ := res["tools"].([]any)
	for _, raw := range list {
		if tool, ok := raw.(map[string]any); ok {
			names[tool["name"].(string)] = true
		}
	}
	return names, res
}

func isError(res map[string]any) bool {
	b, _ := res["isError"].(bool)
	return b
}

func structured(t *testing.T, res map[string]any) map[string]any {
	t.Helper()
	sc, ok := res["structuredContent"].(map[string]any)
	if !ok {
		t.Fatalf("structuredContent = %T in %v", res["structuredContent"], res)
	}
	return sc
}

func errorEnvelope(t *testing.T, res map[string]any) map[string]any {
	t.Helper()
	if !isError(res) {
		t.Fatalf("expected isError result, got %v", res)
	}
	env, ok := structured(t, res)["error"].(map[string]any)
	if !ok {
		t.Fatalf("missing error envelope in %v", res)
	}
	return env
}

func firstText(res map[string]any) string {
	content, _ := res["content"].([]any)
	if len(content) == 0 {
		return ""
	}
	c, _ := content[0].(map[string]any)
	s, _ := c["text"].(string)
	return s
}

// --- Registration ---

func TestNew_RegistersStaticTools(t *testing.T) {
	s := newServer(t, testConfig(t))

	tools := s.ListTools()
	for _, want := range []string{
		"request_planning", "get_next_task", "mark_task_done",
		"approve_task_completion", "approve_request_completion",
		"memory_store", "memory_find",
		"web_search", "visit_page", "take_screenshot",
	} {
		if _, ok := tools[want]; !ok {
			t.Errorf("tool %q not registered", want)
		}
	}
	if _, ok := tools["ide_call_tool"]; ok {
		t.Error("ide_call_tool registered with the IDE disabled")
	}
}

func TestNew_ReadOnlyMemoryHidesStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Memory.ReadOnly = true
	s := newServer(t, cfg)

	tools := s.ListTools()
	if _, ok := tools["memory_store"]; ok {
		t.Error("memory_store registered in read-only mode")
	}
	if _, ok := tools["memory_find"]; !ok {
		t.Error("memory_find missing in read-only mode")
	}
}

func resourceURIs(t *testing.T, s *Server) map[string]bool {
	t.Helper()
	res := rpc(t, s, "resources/list", map[string]any{})
	uris := map[string]bool{}
	list, _ := res["resources"].([]any)
	for _, raw := range list {
		if r, ok := raw.(map[string]any); ok {
			uris[r["uri"].(string)] = true
		}
	}
	return uris
}

func TestNew_RegistersResources(t *testing.T) {
	uris := resourceURIs(t, newServer(t, testConfig(t)))
	for _, want := range []string{"research://current/summary", "relay://requests", "memory://collections"} {
		if !uris[want] {
			t.Errorf("resource %q not registered, got %v", want, uris)
		}
	}

	cfg := testConfig(t)
	cfg.Memory.Enabled = false
	cfg.Research.Enabled = false
	uris = resourceURIs(t, newServer(t, cfg))
	if uris["memory://collections"] || uris["research://current/summary"] {
		t.Errorf("disabled backends still list resources: %v", uris)
	}
	if !uris["relay://requests"] {
		t.Error("relay://requests missing")
	}
}

// --- Result envelope ---

func TestCallTool_Success(t *testing.T) {
	s := newServer(t, testConfig(t))

	res := callTool(t, s, "request_planning", map[string]any{
		"originalRequest": "ship v1",
		"tasks":           []any{map[string]any{"title": "code"}},
	})
	if isError(res) {
		t.Fatalf("request_planning failed: %v", res)
	}
	sc := structured(t, res)
	if sc["requestId"] != "req-1" || sc["status"] != "planned" {
		t.Errorf("structuredContent = %v, want planned req-1", sc)
	}
	if !strings.Contains(firstText(res), "Request Planned") {
		t.Errorf("text = %q", firstText(res))
	}
}

func TestCallTool_Errors(t *testing.T) {
	s := newServer(t, testConfig(t))

	tests := []struct {
		name  string
		tool  string
		args  map[string]any
		kind  string
		field string
	}{
		{"missing argument", "get_next_task", map[string]any{}, "InvalidArgument", "requestId"},
		{"wrong type", "get_next_task", map[string]any{"requestId": 7}, "InvalidArgument", "requestId"},
		{"unknown request", "get_next_task", map[string]any{"requestId": "req-9"}, "NotFound", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := callTool(t, s, tt.tool, tt.args)
			env := errorEnvelope(t, res)
			if env["kind"] != tt.kind {
				t.Errorf("kind = %v, want %s", env["kind"], tt.kind)
			}
			if tt.field != "" && env["field"] != tt.field {
				t.Errorf("field = %v, want %s", env["field"], tt.field)
			}
			if !strings.HasPrefix(firstText(res), tt.kind+": ") {
				t.Errorf("text = %q, want %s prefix", firstText(res), tt.kind)
			}
		})
	}
}

func TestCallTool_PendingTasksRemain(t *testing.T) {
	s := newServer(t, testConfig(t))

	callTool(t, s, "request_planning", map[string]any{
		"originalRequest": "ship v1",
		"tasks":           []any{map[string]any{"title": "a"}, map[string]any{"title": "b"}},
	})
	next := structured(t, callTool(t, s, "get_next_task", map[string]any{"requestId": "req-1"}))
	task := next["task"].(map[string]any)
	callTool(t, s, "mark_task_done", map[string]any{"requestId": "req-1", "taskId": task["id"]})

	env := errorEnvelope(t, callTool(t, s, "approve_request_completion", map[string]any{"requestId": "req-1"}))
	if env["kind"] != "PendingTasksRemain" {
		t.Fatalf("kind = %v, want PendingTasksRemain", env["kind"])
	}
	ids, _ := env["taskIds"].([]any)
	if len(ids) != 2 {
		t.Errorf("taskIds = %v, want both tasks", env["taskIds"])
	}
}

func TestHandle_PanicBecomesBackendError(t *testing.T) {
	rt := router.New(zap.NewNop())
	err := rt.Register(router.Route{
		Backend: "test",
		Tool:    mcp.NewTool("boom"),
		Dispatch: func(context.Context, map[string]any) (connector.Result, error) {
			panic("kaboom")
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	f := newFacade(rt, time.Second, zap.NewNop())

	var req mcp.CallToolRequest
	req.Params.Name = "boom"
	res, err := f.handle(context.Background(), req)
	if err != nil {
		t.Fatalf("handle returned error: %v", err)
	}
	if !res.IsError {
		t.Fatal("IsError = false, want true")
	}
	env := res.StructuredContent.(map[string]any)["error"]
	b, _ := json.Marshal(env)
	if !strings.Contains(string(b), `"kind":"BackendError"`) {
		t.Errorf("envelope = %s, want BackendError", b)
	}
}

func TestCallTool_UnknownToolThroughProtocol(t *testing.T) {
	s := newServer(t, testConfig(t))

	// Unknown names never reach validation, even with bad arguments.
	for _, args := range []map[string]any{{}, {"requestId": 42}} {
		res := callTool(t, s, "no_such_tool", args)
		env := errorEnvelope(t, res)
		if env["kind"] != "UnknownTool" {
			t.Errorf("args %v: kind = %v, want UnknownTool", args, env["kind"])
		}
		if !strings.HasPrefix(firstText(res), "UnknownTool: ") {
			t.Errorf("text = %q, want UnknownTool prefix", firstText(res))
		}
	}
}

func TestServeStdio(t *testing.T) {
	s := newServer(t, testConfig(t))

	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"no_such_tool","arguments":{}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"request_planning","arguments":{"originalRequest":"ship v1","tasks":["write tests","update docs"]}}}`,
	}, "\n") + "\n"
	var out bytes.Buffer
	if err := s.ServeStdio(context.Background(), strings.NewReader(in), &out, zap.NewNop()); err != nil {
		t.Fatalf("ServeStdio: %v", err)
	}

	byID := map[float64]map[string]any{}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var msg struct {
			ID     float64        `json:"id"`
			Result map[string]any `json:"result"`
		}
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		byID[msg.ID] = msg.Result
	}
	if len(byID) != 2 {
		t.Fatalf("got %d replies, want 2:\n%s", len(byID), out.String())
	}
	if env := errorEnvelope(t, byID[1]); env["kind"] != "UnknownTool" {
		t.Errorf("id 1 kind = %v, want UnknownTool", env["kind"])
	}
	if res := byID[2]; isError(res) || structured(t, res)["totalTasks"] != float64(2) {
		t.Errorf("id 2 = %v, want a planned request with two tasks", res)
	}
}

// --- List warnings ---

// failingSource is a dynamic source whose listing always fails.
type failingSource struct{}

func (failingSource) ListTools(context.Context) ([]mcp.Tool, error) {
	return nil, errors.New("connection refused")
}

func (failingSource) Invoke(context.Context, string, map[string]any) (connector.Result, error) {
	return connector.Result{}, errors.New("connection refused")
}

func TestListTools_WarningsSurviveRepeatedIDs(t *testing.T) {
	rt := router.New(zap.NewNop())
	rt.AddSource(backendIDE, "ide_", failingSource{})
	hooks := newFacade(rt, time.Second, zap.NewNop()).hooks()

	// Two sessions list tools with the same JSON-RPC id; their hooks interleave.
	ctx := context.Background()
	reqA, reqB := &mcp.ListToolsRequest{}, &mcp.ListToolsRequest{}
	resA, resB := &mcp.ListToolsResult{}, &mcp.ListToolsResult{}
	for _, h := range hooks.OnBeforeListTools {
		h(ctx, 1, reqA)
		h(ctx, 1, reqB)
	}
	for _, h := range hooks.OnAfterListTools {
		h(ctx, 1, reqA, resA)
		h(ctx, 1, reqB, resB)
	}

	for name, res := range map[string]*mcp.ListToolsResult{"A": resA, "B": resB} {
		if res.Meta == nil {
			t.Errorf("session %s: no _meta", name)
			continue
		}
		ws, _ := res.Meta.AdditionalFields["warnings"].([]router.Warning)
		if len(ws) != 1 || ws[0].Backend != backendIDE {
			t.Errorf("session %s: warnings = %v, want one ide warning", name, res.Meta.AdditionalFields["warnings"])
		}
	}
}

// --- IDE tools ---

// fakeIDE serves the IDE wire contract under /api.
type fakeIDE struct {
	srv   *httptest.Server
	tools atomic.Value // []map[string]any
}

func newFakeIDE(t *testing.T) *fakeIDE {
	t.Helper()
	ide := &fakeIDE{}
	ide.tools.Store([]map[string]any{
		{"name": "get_open_files", "description": "List open files", "inputSchema": map[string]any{"type": "object"}},
	})

	r := chi.NewRouter()
	r.Get("/api/mcp/list_tools", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(ide.tools.Load())
	})
	r.Post("/api/mcp/{tool}", func(w http.ResponseWriter, r *http.Request) {
		tool := chi.URLParam(r, "tool")
		if tool == "broken" {
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "tool exploded"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ran " + tool})
	})
	ide.srv = httptest.NewServer(r)
	t.Cleanup(ide.srv.Close)
	return ide
}

func (f *fakeIDE) port(t *testing.T) int {
	t.Helper()
	_, p, err := net.SplitHostPort(strings.TrimPrefix(f.srv.URL, "http://"))
	if err != nil {
		t.Fatal(err)
	}
	n, _ := strconv.Atoi(p)
	return n
}

func TestListTools_SyncsIDETools(t *testing.T) {
	ide := newFakeIDE(t)
	cfg := testConfig(t)
	cfg.IDE.Enabled = true
	cfg.IDE.Port = ide.port(t)
	s := newServer(t, cfg)

	names, res := listToolNames(t, s)
	for _, want := range []string{"ide_get_open_files", "ide_list_tools", "ide_call_tool", "request_planning"} {
		if !names[want] {
			t.Errorf("tools/list missing %q", want)
		}
	}
	if _, ok := res["_meta"]; ok {
		t.Errorf("unexpected _meta with a reachable IDE: %v", res["_meta"])
	}

	out := callTool(t, s, "ide_get_open_files", map[string]any{})
	if isError(out) || firstText(out) != "ran get_open_files" {
		t.Errorf("ide_get_open_files = %v", out)
	}

	out = callTool(t, s, "ide_call_tool", map[string]any{"tool_name": "broken"})
	if env := errorEnvelope(t, out); env["kind"] != "BackendError" || env["message"] != "tool exploded" {
		t.Errorf("envelope = %v, want BackendError passthrough", env)
	}

	ide.tools.Store([]map[string]any{
		{"name": "run_configuration", "description": "Run a configuration"},
	})
	names, _ = listToolNames(t, s)
	if names["ide_get_open_files"] {
		t.Error("removed IDE tool still listed")
	}
	if !names["ide_run_configuration"] {
		t.Error("new IDE tool not listed")
	}
}

func TestListTools_WarnsWhenIDEUnreachable(t *testing.T) {
	ide := newFakeIDE(t)
	port := ide.port(t)
	ide.srv.Close()

	cfg := testConfig(t)
	cfg.IDE.Enabled = true
	cfg.IDE.Port = port
	s := newServer(t, cfg)

	names, res := listToolNames(t, s)
	if !names["request_planning"] || !names["ide_call_tool"] {
		t.Errorf("static tools missing from degraded catalog: %v", names)
	}
	meta, ok := res["_meta"].(map[string]any)
	if !ok {
		t.Fatalf("_meta missing from %v", res)
	}
	warnings, _ := meta["warnings"].([]any)
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want one", meta["warnings"])
	}
	if w := warnings[0].(map[string]any); w["backend"] != "ide" {
		t.Errorf("warning backend = %v, want ide", w["backend"])
	}

	env := errorEnvelope(t, callTool(t, s, "ide_list_tools", map[string]any{}))
	if env["kind"] != "BackendUnavailable" {
		t.Errorf("kind = %v, want BackendUnavailable", env["kind"])
	}
}

// --- HTTP ---

func TestHTTPHandler_Healthz(t *testing.T) {
	s := newServer(t, testConfig(t))
	srv := httptest.NewServer(NewHTTPHandler(s, zap.NewNop()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["version"] != Version {
		t.Errorf("body = %v", body)
	}
}

func TestHTTPHandler_MCPInitialize(t *testing.T) {
	s := newServer(t, testConfig(t))
	srv := httptest.NewServer(NewHTTPHandler(s, zap.NewNop()))
	defer srv.Close()

	payload := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+MCPPath, strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", MCPPath, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Result struct {
			ServerInfo struct {
				Name string `json:"name"`
			} `json:"serverInfo"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Result.ServerInfo.Name != "relay" {
		t.Errorf("serverInfo.name = %q, want relay", body.Result.ServerInfo.Name)
	}
}

func TestHTTPHandler_UnknownTool(t *testing.T) {
	s := newServer(t, testConfig(t))
	srv := httptest.NewServer(NewHTTPHandler(s, zap.NewNop()))
	defer srv.Close()

	payload := `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"no_such_tool","arguments":{}}}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+MCPPath, strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set(server.HeaderKeySessionID, "session-1")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", MCPPath, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get(server.HeaderKeySessionID); got != "session-1" {
		t.Errorf("session header = %q, want session-1", got)
	}
	var body struct {
		ID     float64        `json:"id"`
		Result map[string]any `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ID != 7 {
		t.Errorf("id = %v, want 7", body.ID)
	}
	if env := errorEnvelope(t, body.Result); env["kind"] != "UnknownTool" {
		t.Errorf("kind = %v, want UnknownTool", env["kind"])
	}
}
