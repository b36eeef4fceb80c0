package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/relay/internal/connector"
	"github.com/HendryAvila/relay/internal/toolerr"
)

const (
	defaultStoreDescription = "Keep the memory for later use, when you are asked to remember something."
	defaultFindDescription  = "Look up memories in the store. Use this tool when you need to find " +
		"memories by their content, or to access memories for further analysis."
)

// ConnectorConfig controls which memory tools are exposed and how.
type ConnectorConfig struct {
	// DefaultCollection makes collection_name optional when set.
	DefaultCollection string
	SearchLimit       int
	ReadOnly          bool
	StoreDescription  string
	FindDescription   string
}

// Connector exposes a Store as the memory_store / memory_find tools.
type Connector struct {
	store *Store
	cfg   ConnectorConfig
}

var _ connector.Connector = (*Connector)(nil)

// NewConnector creates a Connector.
func NewConnector(store *Store, cfg ConnectorConfig) *Connector {
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 10
	}
	if cfg.StoreDescription == "" {
		cfg.StoreDescription = defaultStoreDescription
	}
	if cfg.FindDescription == "" {
		cfg.FindDescription = defaultFindDescription
	}
	return &Connector{store: store, cfg: cfg}
}

// ListTools returns memory_find, plus memory_store unless read-only.
func (c *Connector) ListTools(context.Context) ([]mcp.Tool, error) {
	tools := []mcp.Tool{c.findDefinition()}
	if !c.cfg.ReadOnly {
		tools = append([]mcp.Tool{c.storeDefinition()}, tools...)
	}
	return tools, nil
}

// Invoke dispatches one memory tool.
func (c *Connector) Invoke(ctx context.Context, tool string, args map[string]any) (connector.Result, error) {
	switch tool {
	case "memory_store":
		if c.cfg.ReadOnly {
			return connector.Result{}, toolerr.New(toolerr.UnknownTool, "memory_store is disabled in read-only mode")
		}
		return c.put(ctx, args)
	case "memory_find":
		return c.find(ctx, args)
	}
	return connector.Result{}, toolerr.New(toolerr.UnknownTool, "memory has no tool %q", tool)
}

func (c *Connector) collectionArg() mcp.ToolOption {
	if c.cfg.DefaultCollection != "" {
		return mcp.WithString("collection_name",
			mcp.Description(fmt.Sprintf("Collection to use (default: %s)", c.cfg.DefaultCollection)),
		)
	}
	return mcp.WithString("collection_name",
		mcp.Required(),
		mcp.Description("Collection to use"),
	)
}

func (c *Connector) storeDefinition() mcp.Tool {
	return mcp.NewTool("memory_store",
		mcp.WithDescription(c.cfg.StoreDescription),
		mcp.WithString("information",
			mcp.Required(),
			mcp.Description("The information to remember"),
		),
		c.collectionArg(),
		mcp.WithObject("metadata",
			mcp.Description("Optional JSON metadata stored alongside the information"),
		),
	)
}

func (c *Connector) findDefinition() mcp.Tool {
	return mcp.NewTool("memory_find",
		mcp.WithDescription(c.cfg.FindDescription),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("What to search for"),
		),
		c.collectionArg(),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)
}

func (c *Connector) collection(args map[string]any) (string, error) {
	name := strings.TrimSpace(connector.String(args, "collection_name", ""))
	if name == "" {
		name = c.cfg.DefaultCollection
	}
	if name == "" {
		return "", toolerr.Invalid("collection_name", "collection_name is required")
	}
	return name, nil
}

func (c *Connector) put(ctx context.Context, args map[string]any) (connector.Result, error) {
	info := connector.String(args, "information", "")
	coll, err := c.collection(args)
	if err != nil {
		return connector.Result{}, err
	}

	e, err := c.store.Put(ctx, coll, info, connector.Object(args, "metadata"))
	if errors.Is(err, ErrEmptyContent) {
		return connector.Result{}, toolerr.Invalid("information", "information cannot be empty")
	}
	if err != nil {
		return connector.Result{}, err
	}
	return connector.Result{
		Text: fmt.Sprintf("Remembered: %s in collection %s", e.Content, e.Collection),
		Data: map[string]any{"id": e.ID, "collection": e.Collection},
	}, nil
}

func (c *Connector) find(ctx context.Context, args map[string]any) (connector.Result, error) {
	query := connector.String(args, "query", "")
	coll, err := c.collection(args)
	if err != nil {
		return connector.Result{}, err
	}

	results, err := c.store.Find(ctx, coll, query, c.cfg.SearchLimit)
	if err != nil {
		return connector.Result{}, err
	}
	if len(results) == 0 {
		return connector.Result{
			Text: fmt.Sprintf("No information found for the query '%s'", query),
			Data: map[string]any{"query": query, "results": []SearchResult{}},
		}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Results for the query '%s'\n", query)
	for _, r := range results {
		b.WriteString(formatEntry(r.Entry))
		b.WriteByte('\n')
	}
	return connector.Result{
		Text: b.String(),
		Data: map[string]any{"query": query, "results": results},
	}, nil
}

func formatEntry(e Entry) string {
	meta := ""
	if len(e.Metadata) > 0 {
		b, _ := json.Marshal(e.Metadata)
		meta = string(b)
	}
	return fmt.Sprintf("<entry><content>%s</content><metadata>%s</metadata></entry>", e.Content, meta)
}
