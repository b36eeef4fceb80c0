// Package router maps tool names to the backends that serve them.
//
// Static routes are registered once at startup: the planner tools, the
// memory and research connectors, and the IDE meta tools. Dynamic sources
// (the IDE) publish a tool list that can change at any time; the router
// keeps the last list each source returned successfully and resolves
// prefixed names against it.
//
// Every call goes through the same pipeline: resolve, validate the
// arguments against the tool's input schema, dispatch, and normalize the
// error into the toolerr taxonomy.
package router

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/HendryAvila/relay/internal/connector"
	"github.com/HendryAvila/relay/internal/toolerr"
)

// Route binds a tool to the backend that serves it.
type Route struct {
	Backend  string
	Tool     mcp.Tool
	Dispatch connector.Func
}

// Warning annotates a catalog with a source that could not be listed.
type Warning struct {
	Backend string `json:"backend"`
	Message string `json:"message"`
}

// Catalog is the aggregate tool list.
type Catalog struct {
	Static   []mcp.Tool
	Dynamic  []mcp.Tool
	Warnings []Warning
}

// Tools returns static and dynamic tools together.
func (c Catalog) Tools() []mcp.Tool {
	out := make([]mcp.Tool, 0, len(c.Static)+len(c.Dynamic))
	out = append(out, c.Static...)
	return append(out, c.Dynamic...)
}

type source struct {
	backend string
	prefix  string
	conn    connector.Connector

	// last successful listing, keyed by prefixed name
	tools map[string]mcp.Tool
}

// Router dispatches tool calls. Safe for concurrent use.
type Router struct {
	logger *zap.Logger

	mu      sync.RWMutex
	routes  map[string]Route
	order   []string
	sources []*source
}

// New creates an empty Router.
func New(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{logger: logger, routes: make(map[string]Route)}
}

// Register adds a static route. Names must be unique.
func (r *Router) Register(route Route) error {
	if route.Tool.Name == "" {
		return fmt.Errorf("route for backend %q has no tool name", route.Backend)
	}
	if route.Dispatch == nil {
		return fmt.Errorf("route %q has no dispatch", route.Tool.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.routes[route.Tool.Name]; ok {
		return fmt.Errorf("tool %q already registered by backend %q", route.Tool.Name, existing.Backend)
	}
	r.routes[route.Tool.Name] = route
	r.order = append(r.order, route.Tool.Name)
	return nil
}

// Mount registers every tool a connector lists as a static route.
func (r *Router) Mount(ctx context.Context, backend string, c connector.Connector) error {
	tools, err := c.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("listing %s tools: %w", backend, err)
	}
	for _, t := range tools {
		name := t.Name
		err := r.Register(Route{
			Backend: backend,
			Tool:    t,
			Dispatch: func(ctx context.Context, args map[string]any) (connector.Result, error) {
				return c.Invoke(ctx, name, args)
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// AddSource registers a dynamic source. Its tools are exposed as
// prefix+name and resolved against the last successful listing.
func (r *Router) AddSource(backend, prefix string, c connector.Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, &source{backend: backend, prefix: prefix, conn: c})
}

// Routes returns the static routes in registration order.
func (r *Router) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Route, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.routes[name])
	}
	return out
}

// ListTools aggregates the static routes and every dynamic source. A
// source that fails to list contributes no tools and a warning; it never
// fails the whole catalog.
func (r *Router) ListTools(ctx context.Context) Catalog {
	var cat Catalog
	for _, rt := range r.Routes() {
		cat.Static = append(cat.Static, rt.Tool)
	}

	r.mu.RLock()
	sources := append([]*source(nil), r.sources...)
	r.mu.RUnlock()

	for _, src := range sources {
		tools, err := src.conn.ListTools(ctx)
		if err != nil {
			r.logger.Warn("tool source unavailable", zap.String("backend", src.backend), zap.Error(err))
			cat.Warnings = append(cat.Warnings, Warning{Backend: src.backend, Message: toolerr.Normalize(err).Envelope().Message})
			continue
		}
		cat.Dynamic = append(cat.Dynamic, r.SetSourceTools(src.backend, tools)...)
	}
	return cat
}

// SetSourceTools replaces a source's listing and returns the prefixed
// tools that will resolve. Names that collide with a static route are
// skipped.
func (r *Router) SetSourceTools(backend string, tools []mcp.Tool) []mcp.Tool {
	r.mu.Lock()
	defer r.mu.Unlock()

	var src *source
	for _, s := range r.sources {
		if s.backend == backend {
			src = s
			break
		}
	}
	if src == nil {
		return nil
	}

	next := make(map[string]mcp.Tool, len(tools))
	for _, t := range tools {
		t.Name = src.prefix + t.Name
		if _, clash := r.routes[t.Name]; clash {
			r.logger.Debug("dynamic tool shadowed by static route", zap.String("tool", t.Name))
			continue
		}
		next[t.Name] = t
	}
	src.tools = next

	out := make([]mcp.Tool, 0, len(next))
	for _, t := range next {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CallTool resolves, validates and dispatches one call. A non-nil error
// is always a *toolerr.Error.
func (r *Router) CallTool(ctx context.Context, name string, args map[string]any) (connector.Result, error) {
	tool, dispatch, ok := r.resolve(name)
	if !ok {
		return connector.Result{}, toolerr.New(toolerr.UnknownTool, "unknown tool %q", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := Validate(schemaOf(tool), args); err != nil {
		return connector.Result{}, err
	}

	res, err := dispatch(ctx, args)
	if err != nil {
		te := toolerr.Normalize(err)
		r.logger.Debug("tool call failed",
			zap.String("tool", name), zap.String("kind", string(te.Kind)), zap.Error(err))
		return connector.Result{}, te
	}
	return res, nil
}

func (r *Router) resolve(name string) (mcp.Tool, connector.Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rt, ok := r.routes[name]; ok {
		return rt.Tool, rt.Dispatch, true
	}
	for _, src := range r.sources {
		t, ok := src.tools[name]
		if !ok {
			continue
		}
		conn, remote := src.conn, name[len(src.prefix):]
		return t, func(ctx context.Context, args map[string]any) (connector.Result, error) {
			return conn.Invoke(ctx, remote, args)
		}, true
	}
	return mcp.Tool{}, nil, false
}
