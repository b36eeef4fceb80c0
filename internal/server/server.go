// Package server wires all MCP components and creates the server instance.
//
// This is the composition root (DIP): it creates concrete implementations
// and injects them into the router, resources and prompts that depend on
// abstractions. Apart from the result envelope and the dynamic tool sync
// in facade.go, no business logic lives here, only wiring.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/HendryAvila/relay/internal/config"
	"github.com/HendryAvila/relay/internal/discovery"
	"github.com/HendryAvila/relay/internal/ideproxy"
	"github.com/HendryAvila/relay/internal/memory"
	"github.com/HendryAvila/relay/internal/planner"
	"github.com/HendryAvila/relay/internal/prompts"
	"github.com/HendryAvila/relay/internal/research"
	"github.com/HendryAvila/relay/internal/resources"
	"github.com/HendryAvila/relay/internal/router"
	"github.com/HendryAvila/relay/internal/tools"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Backend names used for routing and warnings.
const (
	backendPlanner  = "planner"
	backendMemory   = "memory"
	backendResearch = "research"
	backendIDE      = "ide"
)

// Server is a configured relay: the mcp-go server plus the façade that
// routes every tool call through the router.
type Server struct {
	*server.MCPServer
	facade *facade
}

// HandleMessage handles one JSON-RPC message. A tools/call naming a tool
// mcp-go does not know is answered by the router, so the client sees an
// UnknownTool result rather than a protocol error.
func (s *Server) HandleMessage(ctx context.Context, raw json.RawMessage) mcp.JSONRPCMessage {
	if resp, ok := s.facade.unroutedCall(ctx, raw); ok {
		return resp
	}
	return s.MCPServer.HandleMessage(ctx, raw)
}

// New creates and configures the MCP server with all tools, prompts,
// and resources registered. This is the single place where all
// dependencies are resolved.
//
// The returned cleanup function stops the IDE refresher, removes saved
// screenshots and closes the memory store. It is always non-nil and safe
// to call even if New failed.
func New(cfg *config.Config, logger *zap.Logger) (*Server, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Server, func(), error) {
		cleanup()
		return nil, noop, err
	}

	ctx := context.Background()
	rt := router.New(logger.Named("router"))

	// --- Planner ---

	store, err := newPlannerStore(cfg.Planner, logger.Named("planner"))
	if err != nil {
		return fail(err)
	}
	for _, t := range tools.PlannerTools(store) {
		err := rt.Register(router.Route{Backend: backendPlanner, Tool: t.Definition(), Dispatch: t.Call})
		if err != nil {
			return fail(err)
		}
	}

	// --- Vector memory (optional: a broken data dir only disables it) ---

	var memStore *memory.Store
	if cfg.Memory.Enabled {
		mcfg := memory.DefaultConfig()
		mcfg.DataDir = cfg.Memory.DataDir
		ms, err := memory.New(mcfg)
		if err != nil {
			logger.Warn("memory subsystem disabled", zap.Error(err))
		} else {
			closers = append(closers, func() {
				if err := ms.Close(); err != nil {
					logger.Warn("memory store close", zap.Error(err))
				}
			})
			memStore = ms
			conn := memory.NewConnector(ms, memory.ConnectorConfig{
				DefaultCollection: cfg.Memory.DefaultCollection,
				SearchLimit:       cfg.Memory.SearchLimit,
				ReadOnly:          cfg.Memory.ReadOnly,
				StoreDescription:  cfg.Memory.StoreDescription,
				FindDescription:   cfg.Memory.FindDescription,
			})
			if err := rt.Mount(ctx, backendMemory, conn); err != nil {
				return fail(err)
			}
		}
	}

	// --- Web research ---

	var researchConn *research.Connector
	if cfg.Research.Enabled {
		researchConn = newResearch(cfg.Research, logger.Named("research"))
		closers = append(closers, func() {
			if err := researchConn.Close(); err != nil {
				logger.Warn("removing screenshots", zap.Error(err))
			}
		})
		if err := rt.Mount(ctx, backendResearch, researchConn); err != nil {
			return fail(err)
		}
	}

	// --- IDE proxy ---

	var ide *ideproxy.Client
	if cfg.IDE.Enabled {
		disc := discovery.New(discoveryConfig(cfg.IDE), discovery.NewHTTPProber(nil),
			discovery.WithLogger(logger.Named("discovery")))
		ide = ideproxy.New(disc, nil, logger.Named("ide"))

		for _, r := range []router.Route{
			{Backend: backendIDE, Tool: ideproxy.ListToolsDefinition(), Dispatch: ide.HandleListTools},
			{Backend: backendIDE, Tool: ideproxy.CallToolDefinition(), Dispatch: ide.HandleCallTool},
		} {
			if err := rt.Register(r); err != nil {
				return fail(err)
			}
		}
		rt.AddSource(backendIDE, cfg.IDE.ToolPrefix, ide)
	}

	// --- Create the MCP server ---

	f := newFacade(rt, cfg.IDE.ScanTimeout, logger)
	s := server.NewMCPServer(
		"relay",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(f.hooks()),
		server.WithInstructions(serverInstructions()),
	)
	f.attach(s)

	// --- Register tools ---

	for _, r := range rt.Routes() {
		s.AddTool(r.Tool, f.handle)
	}

	if ide != nil {
		ide.OnToolsChanged(f.onIDEToolsChanged)
		if cfg.IDE.RefreshInterval > 0 {
			refresher := ideproxy.NewRefresher(ide, cfg.IDE.RefreshInterval, cfg.IDE.ScanTimeout, logger.Named("ide"))
			if err := refresher.Start(ctx); err != nil {
				return fail(err)
			}
			closers = append(closers, refresher.Stop)
		}
	}

	// --- Register resources ---

	var rr resources.Research
	if researchConn != nil {
		rr = researchConn
	}
	var rm resources.Collections
	if memStore != nil {
		rm = memStore
	}
	h := resources.NewHandler(rr, store, rm)
	if rr != nil {
		s.AddResource(h.SummaryResource(), h.HandleSummary)
		s.AddResourceTemplate(h.ScreenshotTemplate(), h.HandleScreenshot)
	}
	if rm != nil {
		s.AddResource(h.CollectionsResource(), h.HandleCollections)
	}
	s.AddResource(h.RequestsResource(), h.HandleRequests)
	s.AddResourceTemplate(h.RequestTemplate(), h.HandleRequest)

	// --- Register prompts ---

	workflow := prompts.NewWorkflowPrompt()
	s.AddPrompt(workflow.Definition(), workflow.Handle)

	status := prompts.NewStatusPrompt()
	s.AddPrompt(status.Definition(), status.Handle)

	logger.Info("relay ready",
		zap.String("version", Version),
		zap.Int("static_tools", len(rt.Routes())),
		zap.Bool("memory", cfg.Memory.Enabled),
		zap.Bool("research", researchConn != nil),
		zap.Bool("ide", ide != nil))

	return &Server{MCPServer: s, facade: f}, cleanup, nil
}

// noop is a no-op cleanup function returned when New fails.
func noop() {}

func newPlannerStore(cfg config.PlannerConfig, logger *zap.Logger) (*planner.Store, error) {
	var p planner.Persister
	if cfg.DataDir != "" {
		p = planner.NewFileStore(cfg.DataDir)
	}
	store, err := planner.NewStore(p, logger)
	if err != nil {
		return nil, fmt.Errorf("opening request store: %w", err)
	}
	return store, nil
}

func newResearch(cfg config.ResearchConfig, logger *zap.Logger) *research.Connector {
	rcfg := research.Config{
		SearchURL:          cfg.SearchURL,
		UserAgent:          cfg.UserAgent,
		FetchTimeout:       cfg.FetchTimeout,
		MaxResults:         cfg.MaxResults,
		Retries:            cfg.Retries,
		RetryDelay:         cfg.RetryDelay,
		MaxScreenshotBytes: cfg.MaxScreenshotBytes,
	}
	if rcfg.UserAgent == "" {
		rcfg.UserAgent = "relay/" + Version
	}

	var renderer research.Renderer
	if cfg.RendererURL != "" {
		renderer = research.NewHTTPRenderer(cfg.RendererURL,
			&http.Client{Timeout: cfg.FetchTimeout}, cfg.MaxScreenshotBytes)
	}
	return research.New(rcfg, nil, renderer, logger)
}

func discoveryConfig(cfg config.IDEConfig) discovery.Config {
	return discovery.Config{
		Host:         cfg.Host,
		Port:         cfg.Port,
		PortMin:      cfg.PortMin,
		PortMax:      cfg.PortMax,
		PathPrefix:   cfg.PathPrefix,
		Freshness:    cfg.Freshness,
		ProbeTimeout: cfg.ProbeTimeout,
		ScanTimeout:  cfg.ScanTimeout,
	}
}

// serverInstructions returns the system instructions that tell the AI
// how to use relay's tools.
func serverInstructions() string {
	return `You have access to relay, a tool server that plans work as approved tasks and
brokers memory, web research and the user's JetBrains IDE.

## PLANNING WORKFLOW

Use the planner whenever a request needs more than one step:

1. request_planning: register the request with an ordered list of tasks
2. get_next_task: fetch the task to work on
3. mark_task_done: record what you did
4. STOP and show the progress table. The user must approve every task
   before you call approve_task_completion
5. Repeat from step 2 until get_next_task reports no pending tasks
6. When every task is approved, ask the user to approve the whole request,
   then call approve_request_completion

Never approve tasks or requests on your own. Use list_requests and
open_task_details to inspect state, and add_tasks_to_request, update_task,
delete_task and delete_request to adjust a plan that is still open.

## MEMORY

memory_find recalls stored information; memory_store saves new facts
(not available in read-only mode).

## WEB RESEARCH

web_search finds pages, visit_page reads one as markdown, take_screenshot
captures it. Results accumulate in the research://current/summary resource.

## IDE

When a JetBrains IDE is running, its tools appear with the ide_ prefix.
ide_list_tools and ide_call_tool always work, even before the list is synced.
If the IDE is not reachable these report BackendUnavailable; do not retry
in a tight loop.

## ERRORS

Failed calls return {"error": {"kind", "message", "field", "taskIds"}}.
InvalidArgument names the offending field; PendingTasksRemain lists the
tasks still awaiting approval.`
}
