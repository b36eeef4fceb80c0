package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/relay/internal/connector"
	"github.com/HendryAvila/relay/internal/discovery"
	"github.com/HendryAvila/relay/internal/ideproxy"
	"github.com/HendryAvila/relay/internal/toolerr"
)

// --- Fakes ---

// fakeConnector serves a fixed tool list and records invocations.
type fakeConnector struct {
	mu      sync.Mutex
	tools   []mcp.Tool
	listErr error
	invoked []string
}

func (f *fakeConnector) ListTools(context.Context) ([]mcp.Tool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]mcp.Tool(nil), f.tools...), nil
}

func (f *fakeConnector) Invoke(_ context.Context, tool string, args map[string]any) (connector.Result, error) {
	f.mu.Lock()
	f.invoked = append(f.invoked, tool)
	f.mu.Unlock()
	return connector.Result{Text: "ran " + tool, Data: args}, nil
}

func (f *fakeConnector) set(tools []mcp.Tool, err error) {
	f.mu.Lock()
	f.tools, f.listErr = tools, err
	f.mu.Unlock()
}

func echoRoute(backend string, tool mcp.Tool) Route {
	return Route{
		Backend: backend,
		Tool:    tool,
		Dispatch: func(_ context.Context, args map[string]any) (connector.Result, error) {
			return connector.Result{Text: "ok", Data: args}, nil
		},
	}
}

func mustRegister(t *testing.T, r *Router, route Route) {
	t.Helper()
	if err := r.Register(route); err != nil {
		t.Fatalf("Register(%s): %v", route.Tool.Name, err)
	}
}

// --- Register / CallTool ---

func TestRegister_Duplicate(t *testing.T) {
	r := New(nil)
	mustRegister(t, r, echoRoute("a", mcp.NewTool("x")))
	if err := r.Register(echoRoute("b", mcp.NewTool("x"))); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestCallTool_UnknownTool(t *testing.T) {
	r := New(nil)
	mustRegister(t, r, echoRoute("a", mcp.NewTool("known", mcp.WithString("q", mcp.Required()))))

	// Unknown names never reach validation, even with bad arguments.
	for _, args := range []map[string]any{nil, {}, {"q": 42}} {
		_, err := r.CallTool(context.Background(), "unknown", args)
		if !toolerr.IsKind(err, toolerr.UnknownTool) {
			t.Errorf("args %v: err = %v, want UnknownTool", args, err)
		}
	}
}

func TestCallTool_Dispatch(t *testing.T) {
	r := New(nil)
	mustRegister(t, r, echoRoute("a", mcp.NewTool("echo", mcp.WithString("msg", mcp.Required()))))

	res, err := r.CallTool(context.Background(), "echo", map[string]any{"msg": "hi"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.Data.(map[string]any)["msg"] != "hi" {
		t.Errorf("Data = %v", res.Data)
	}
}

func TestCallTool_NormalizesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want toolerr.Kind
	}{
		{"plain error", errors.New("disk on fire"), toolerr.BackendError},
		{"deadline", context.DeadlineExceeded, toolerr.BackendUnavailable},
		{"typed passes through", toolerr.New(toolerr.InvalidState, "not pending"), toolerr.InvalidState},
		{"wrapped typed", errors.Join(errors.New("ctx"), toolerr.New(toolerr.NotFound, "gone")), toolerr.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(nil)
			mustRegister(t, r, Route{
				Backend: "a",
				Tool:    mcp.NewTool("fail"),
				Dispatch: func(context.Context, map[string]any) (connector.Result, error) {
					return connector.Result{}, tt.err
				},
			})
			_, err := r.CallTool(context.Background(), "fail", nil)
			if _, ok := err.(*toolerr.Error); !ok {
				t.Fatalf("err = %T, want *toolerr.Error", err)
			}
			if got := toolerr.KindOf(err); got != tt.want {
				t.Errorf("kind = %s, want %s", got, tt.want)
			}
		})
	}
}

// --- Validation ---

func TestCallTool_InvalidArgumentNamesField(t *testing.T) {
	tool := mcp.NewTool("plan",
		mcp.WithString("title", mcp.Required()),
		mcp.WithString("mode", mcp.Enum("fast", "slow")),
		mcp.WithNumber("count"),
		mcp.WithBoolean("dry"),
		mcp.WithArray("tags", mcp.Items(map[string]any{"type": "string"})),
		mcp.WithObject("opts", mcp.Properties(map[string]any{
			"depth": map[string]any{"type": "integer"},
		})),
	)
	tool.InputSchema.AdditionalProperties = false

	r := New(nil)
	mustRegister(t, r, echoRoute("a", tool))

	tests := []struct {
		name  string
		args  map[string]any
		field string
	}{
		{"missing required", map[string]any{}, "title"},
		{"null required", map[string]any{"title": nil}, "title"},
		{"wrong type", map[string]any{"title": 7}, "title"},
		{"enum", map[string]any{"title": "t", "mode": "medium"}, "mode"},
		{"number", map[string]any{"title": "t", "count": "3"}, "count"},
		{"boolean", map[string]any{"title": "t", "dry": "yes"}, "dry"},
		{"array item", map[string]any{"title": "t", "tags": []any{"a", 2.0}}, "tags[1]"},
		{"nested integer", map[string]any{"title": "t", "opts": map[string]any{"depth": 1.5}}, "opts.depth"},
		{"additional property", map[string]any{"title": "t", "extra": true}, "extra"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.CallTool(context.Background(), "plan", tt.args)
			te, ok := toolerr.As(err)
			if !ok || te.Kind != toolerr.InvalidArgument {
				t.Fatalf("err = %v, want InvalidArgument", err)
			}
			if te.Field != tt.field {
				t.Errorf("Field = %q, want %q", te.Field, tt.field)
			}
		})
	}

	ok := map[string]any{
		"title": "t", "mode": "fast", "count": 3.0, "dry": true,
		"tags": []any{"x"}, "opts": map[string]any{"depth": 2.0},
	}
	if _, err := r.CallTool(context.Background(), "plan", ok); err != nil {
		t.Errorf("valid args rejected: %v", err)
	}
}

func TestValidate_DecodedSchema(t *testing.T) {
	// Schemas decoded from JSON carry []any where Go-built ones carry []string.
	schema := mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]any{
			"level": map[string]any{"type": []any{"string", "null"}, "enum": []any{"a", "b"}},
		},
		Required: []string{"level"},
	}
	if err := Validate(schema, map[string]any{"level": "a"}); err != nil {
		t.Errorf("valid: %v", err)
	}
	if err := Validate(schema, map[string]any{"level": "c"}); !toolerr.IsKind(err, toolerr.InvalidArgument) {
		t.Errorf("enum: err = %v", err)
	}
	if err := Validate(schema, map[string]any{"level": 1.0}); err == nil || !strings.Contains(err.Error(), "string or null") {
		t.Errorf("union type: err = %v", err)
	}
}

func TestValidate_ReportsFirstFieldInOrder(t *testing.T) {
	schema := mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]any{
			"alpha": map[string]any{"type": "string"},
			"beta":  map[string]any{"type": "string"},
			"gamma": map[string]any{"type": "string"},
		},
	}
	args := map[string]any{"gamma": 3, "beta": 2, "alpha": 1}
	for i := 0; i < 50; i++ {
		err := Validate(schema, args)
		var te *toolerr.Error
		if !errors.As(err, &te) || te.Field != "alpha" {
			t.Fatalf("run %d: err = %v, want InvalidArgument on alpha", i, err)
		}
	}
}

// --- Mount / sources ---

func TestMount(t *testing.T) {
	fc := &fakeConnector{tools: []mcp.Tool{mcp.NewTool("memory_find"), mcp.NewTool("memory_store")}}
	r := New(nil)
	if err := r.Mount(context.Background(), "memory", fc); err != nil {
		t.Fatal(err)
	}
	if _, err := r.CallTool(context.Background(), "memory_store", nil); err != nil {
		t.Fatal(err)
	}
	if len(fc.invoked) != 1 || fc.invoked[0] != "memory_store" {
		t.Errorf("invoked = %v", fc.invoked)
	}
	if routes := r.Routes(); len(routes) != 2 || routes[0].Backend != "memory" {
		t.Errorf("routes = %+v", routes)
	}
}

func TestDynamicSource(t *testing.T) {
	ctx := context.Background()
	ide := &fakeConnector{tools: []mcp.Tool{mcp.NewTool("get_open_files"), mcp.NewTool("list_tools")}}

	r := New(nil)
	mustRegister(t, r, echoRoute("ide", mcp.NewTool("ide_list_tools")))
	r.AddSource("ide", "ide_", ide)

	// Not listed yet: unknown.
	if _, err := r.CallTool(ctx, "ide_get_open_files", nil); !toolerr.IsKind(err, toolerr.UnknownTool) {
		t.Fatalf("before listing: err = %v, want UnknownTool", err)
	}

	cat := r.ListTools(ctx)
	if len(cat.Static) != 1 || len(cat.Dynamic) != 1 || cat.Dynamic[0].Name != "ide_get_open_files" {
		t.Fatalf("catalog = %+v (ide_list_tools must not be shadowed)", cat)
	}
	if _, err := r.CallTool(ctx, "ide_get_open_files", nil); err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if ide.invoked[0] != "get_open_files" {
		t.Errorf("invoked %q, want the unprefixed name", ide.invoked[0])
	}

	// A failing source yields a warning and keeps the last listing routable.
	ide.set(nil, toolerr.New(toolerr.BackendUnavailable, "IDE not reachable"))
	cat = r.ListTools(ctx)
	if len(cat.Dynamic) != 0 || len(cat.Warnings) != 1 || cat.Warnings[0].Backend != "ide" {
		t.Fatalf("catalog = %+v", cat)
	}
	if len(cat.Tools()) != 1 {
		t.Errorf("aggregate = %d tools, want the static one", len(cat.Tools()))
	}
	if _, err := r.CallTool(ctx, "ide_get_open_files", nil); err != nil {
		t.Errorf("last catalog should still resolve: %v", err)
	}

	// A tool that disappears stops resolving.
	r.SetSourceTools("ide", nil)
	if _, err := r.CallTool(ctx, "ide_get_open_files", nil); !toolerr.IsKind(err, toolerr.UnknownTool) {
		t.Errorf("after removal: err = %v, want UnknownTool", err)
	}
}

// --- IDE discovery through the router ---

type refusingProber struct{ calls atomic.Int64 }

func (p *refusingProber) Probe(context.Context, string) error {
	p.calls.Add(1)
	return errors.New("connection refused")
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// With no live IDE, calls within the freshness window fail fast without
// rescanning; the first call after the window scans exactly once more.
func TestCallTool_IDEUnreachableWithinFreshness(t *testing.T) {
	cfg := discovery.DefaultConfig()
	cfg.PortMin, cfg.PortMax = 50000, 50003
	cfg.Freshness = 10 * time.Second

	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	prober := &refusingProber{}
	disc := discovery.New(cfg, prober, discovery.WithClock(clock.now))
	client := ideproxy.New(disc, nil, nil)

	r := New(nil)
	mustRegister(t, r, Route{Backend: "ide", Tool: ideproxy.CallToolDefinition(), Dispatch: client.HandleCallTool})
	call := func() error {
		_, err := r.CallTool(context.Background(), "ide_call_tool", map[string]any{"tool_name": "get_open_files"})
		return err
	}

	for i := 1; i <= 2; i++ {
		if err := call(); !toolerr.IsKind(err, toolerr.BackendUnavailable) {
			t.Fatalf("call %d: err = %v, want BackendUnavailable", i, err)
		}
	}
	if disc.Scans() != 1 {
		t.Errorf("scans = %d, want 1", disc.Scans())
	}
	if got := prober.calls.Load(); got != 4 {
		t.Errorf("probes = %d, want 4 (one full scan)", got)
	}

	clock.advance(11 * time.Second)
	if err := call(); !toolerr.IsKind(err, toolerr.BackendUnavailable) {
		t.Fatalf("call 3: err = %v, want BackendUnavailable", err)
	}
	if disc.Scans() != 2 {
		t.Errorf("scans = %d, want 2", disc.Scans())
	}
	if got := prober.calls.Load(); got != 8 {
		t.Errorf("probes = %d, want 8", got)
	}
}
