package ideproxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/relay/internal/discovery"
	"github.com/HendryAvila/relay/internal/toolerr"
)

// --- Fake IDE ---

type fakeIDE struct {
	mu    sync.Mutex
	tools string
	calls []string
}

func newFakeIDE(t *testing.T) (*fakeIDE, *httptest.Server) {
	t.Helper()
	ide := &fakeIDE{tools: `[
		{"name":"get_open_files","description":"Open files","inputSchema":{"type":"object","properties":{}}},
		{"name":"run_config","description":"Run a configuration\nwith details","inputSchema":{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}}
	]`}

	r := chi.NewRouter()
	r.Get("/api/mcp/list_tools", func(w http.ResponseWriter, _ *http.Request) {
		ide.mu.Lock()
		defer ide.mu.Unlock()
		_, _ = w.Write([]byte(ide.tools))
	})
	r.Post("/api/mcp/{tool}", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "tool")
		var args map[string]any
		_ = json.NewDecoder(r.Body).Decode(&args)

		ide.mu.Lock()
		ide.calls = append(ide.calls, name)
		ide.mu.Unlock()

		switch name {
		case "get_open_files":
			_, _ = w.Write([]byte(`{"status":"main.go\nserver.go"}`))
		case "run_config":
			_, _ = w.Write([]byte(`{"error":"configuration ` + args["name"].(string) + ` not found"}`))
		case "explode":
			http.Error(w, "internal", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return ide, srv
}

func (f *fakeIDE) setTools(js string) {
	f.mu.Lock()
	f.tools = js
	f.mu.Unlock()
}

// stubEndpoint always resolves to a fixed endpoint and records demotions.
type stubEndpoint struct {
	endpoint string
	err      error
	demoted  atomic.Int64
}

func (s *stubEndpoint) Endpoint(context.Context) (string, error) {
	return s.endpoint, s.err
}

func (s *stubEndpoint) Demote(string, error) { s.demoted.Add(1) }

// --- ListTools ---

func TestListTools(t *testing.T) {
	_, srv := newFakeIDE(t)
	c := New(&stubEndpoint{endpoint: srv.URL + "/api"}, srv.Client(), nil)

	tools, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("len = %d, want 2", len(tools))
	}
	if tools[1].Name != "run_config" {
		t.Errorf("tools[1] = %s, want run_config", tools[1].Name)
	}
	if req := tools[1].InputSchema.Required; len(req) != 1 || req[0] != "name" {
		t.Errorf("Required = %v, want [name]", req)
	}
}

func TestListTools_ChangeCallback(t *testing.T) {
	ide, srv := newFakeIDE(t)
	c := New(&stubEndpoint{endpoint: srv.URL + "/api"}, srv.Client(), nil)

	var fired atomic.Int64
	var last []mcp.Tool
	c.OnToolsChanged(func(tools []mcp.Tool) {
		fired.Add(1)
		last = tools
	})

	ctx := context.Background()
	if _, err := c.ListTools(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ListTools(ctx); err != nil {
		t.Fatal(err)
	}
	if fired.Load() != 0 {
		t.Fatalf("callback fired %d times for an unchanged list", fired.Load())
	}

	ide.setTools(`[{"name":"only_one"}]`)
	c.Refresh(ctx)
	if fired.Load() != 1 {
		t.Fatalf("callback fired %d times, want 1", fired.Load())
	}
	if len(last) != 1 || last[0].Name != "only_one" || last[0].InputSchema.Type != "object" {
		t.Errorf("last = %+v", last)
	}
}

// --- Invoke ---

func TestInvoke(t *testing.T) {
	_, srv := newFakeIDE(t)
	stub := &stubEndpoint{endpoint: srv.URL + "/api"}
	c := New(stub, srv.Client(), nil)
	ctx := context.Background()

	res, err := c.Invoke(ctx, "get_open_files", nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Text != "main.go\nserver.go" {
		t.Errorf("Text = %q", res.Text)
	}

	_, err = c.Invoke(ctx, "run_config", map[string]any{"name": "app"})
	if !toolerr.IsKind(err, toolerr.BackendError) {
		t.Fatalf("err = %v, want BackendError", err)
	}
	if te, _ := toolerr.As(err); te.Message != "configuration app not found" {
		t.Errorf("message = %q, want passthrough", te.Message)
	}

	_, err = c.Invoke(ctx, "missing", nil)
	if !toolerr.IsKind(err, toolerr.BackendError) {
		t.Errorf("404 err = %v, want BackendError", err)
	}
	if stub.demoted.Load() != 0 {
		t.Errorf("demotions = %d, want 0 for answered calls", stub.demoted.Load())
	}

	_, err = c.Invoke(ctx, "explode", nil)
	if !toolerr.IsKind(err, toolerr.BackendUnavailable) {
		t.Errorf("500 err = %v, want BackendUnavailable", err)
	}
	if stub.demoted.Load() != 1 {
		t.Errorf("demotions = %d, want 1 after 5xx", stub.demoted.Load())
	}
}

func TestInvoke_DiscoveryFailure(t *testing.T) {
	stub := &stubEndpoint{err: toolerr.New(toolerr.BackendUnavailable, "no IDE")}
	c := New(stub, nil, nil)

	_, err := c.Invoke(context.Background(), "get_open_files", nil)
	if !toolerr.IsKind(err, toolerr.BackendUnavailable) {
		t.Errorf("err = %v, want BackendUnavailable", err)
	}
}

// A bound endpoint that stops answering is demoted, and the next call
// rediscovers instead of reusing it.
func TestInvoke_DemotesDeadEndpoint(t *testing.T) {
	_, srv := newFakeIDE(t)
	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())

	cfg := discovery.DefaultConfig()
	cfg.Port = port
	cfg.Freshness = time.Minute
	cfg.ProbeTimeout = time.Second
	disc := discovery.New(cfg, discovery.NewHTTPProber(srv.Client()))
	c := New(disc, srv.Client(), nil)
	ctx := context.Background()

	if _, err := c.Invoke(ctx, "get_open_files", nil); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if st := disc.Snapshot().State; st != discovery.StateBound {
		t.Fatalf("state = %s, want BOUND", st)
	}

	srv.Close()
	_, err := c.Invoke(ctx, "get_open_files", nil)
	if !toolerr.IsKind(err, toolerr.BackendUnavailable) {
		t.Fatalf("err = %v, want BackendUnavailable", err)
	}
	if st := disc.Snapshot().State; st != discovery.StateUnknown {
		t.Errorf("state = %s, want UNKNOWN after failed invoke", st)
	}

	// Next call scans again and lands in UNREACHABLE.
	_, err = c.Invoke(ctx, "get_open_files", nil)
	if !toolerr.IsKind(err, toolerr.BackendUnavailable) {
		t.Fatalf("err = %v, want BackendUnavailable", err)
	}
	if disc.Scans() != 2 {
		t.Errorf("scans = %d, want 2", disc.Scans())
	}
}

// --- Meta tools ---

func TestMetaTools(t *testing.T) {
	ide, srv := newFakeIDE(t)
	c := New(&stubEndpoint{endpoint: srv.URL + "/api"}, srv.Client(), nil)
	ctx := context.Background()

	res, err := c.HandleListTools(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Text == "" || res.Data == nil {
		t.Error("expected text and data from ide_list_tools")
	}

	_, err = c.HandleCallTool(ctx, map[string]any{})
	if !toolerr.IsKind(err, toolerr.InvalidArgument) {
		t.Errorf("err = %v, want InvalidArgument", err)
	}

	if _, err := c.HandleCallTool(ctx, map[string]any{"tool_name": "get_open_files"}); err != nil {
		t.Fatal(err)
	}
	ide.mu.Lock()
	defer ide.mu.Unlock()
	if len(ide.calls) != 1 || ide.calls[0] != "get_open_files" {
		t.Errorf("calls = %v", ide.calls)
	}
}

// --- Refresher ---

func TestRefresher_RejectsZeroInterval(t *testing.T) {
	r := NewRefresher(New(&stubEndpoint{err: errors.New("x")}, nil, nil), 0, time.Second, nil)
	if err := r.Start(context.Background()); err == nil {
		t.Error("expected error for zero interval")
	}
	r.Stop()
}

func TestRefresher_Runs(t *testing.T) {
	_, srv := newFakeIDE(t)
	stub := &countingEndpoint{stubEndpoint: stubEndpoint{endpoint: srv.URL + "/api"}}
	r := NewRefresher(New(stub, srv.Client(), nil), time.Second, time.Second, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for stub.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if stub.calls.Load() == 0 {
		t.Error("refresher never resolved the endpoint")
	}
}

type countingEndpoint struct {
	stubEndpoint
	calls atomic.Int64
}

func (c *countingEndpoint) Endpoint(ctx context.Context) (string, error) {
	c.calls.Add(1)
	return c.stubEndpoint.Endpoint(ctx)
}
