// Package research implements the web-research backend: searching,
// reading pages as markdown and capturing screenshots, with every result
// accumulated in a session that is served back as MCP resources.
package research

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/HendryAvila/relay/internal/connector"
	"github.com/HendryAvila/relay/internal/toolerr"
)

// Config holds web-research settings.
type Config struct {
	SearchURL          string
	UserAgent          string
	FetchTimeout       time.Duration
	MaxResults         int
	Retries            int
	RetryDelay         time.Duration
	MaxScreenshotBytes int64
}

// DefaultConfig returns the web-research defaults.
func DefaultConfig() Config {
	return Config{
		SearchURL:          "https://html.duckduckgo.com/html/",
		UserAgent:          "relay",
		FetchTimeout:       20 * time.Second,
		MaxResults:         100,
		Retries:            3,
		RetryDelay:         time.Second,
		MaxScreenshotBytes: 5 << 20,
	}
}

// timeNow is a package-level var to allow test injection.
var timeNow = time.Now

// Connector exposes web_search, visit_page and take_screenshot.
type Connector struct {
	cfg      Config
	fetch    *fetcher
	renderer Renderer
	session  *Session
	logger   *zap.Logger

	dirOnce sync.Once
	dir     string
	dirErr  error
}

var _ connector.Connector = (*Connector)(nil)

// New creates a Connector. renderer may be nil, in which case screenshots
// report BackendUnavailable.
func New(cfg Config, client *http.Client, renderer Renderer, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.FetchTimeout}
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 1
	}
	return &Connector{
		cfg: cfg,
		fetch: &fetcher{
			client:     client,
			userAgent:  cfg.UserAgent,
			retries:    uint(cfg.Retries),
			retryDelay: cfg.RetryDelay,
			logger:     logger,
		},
		renderer: renderer,
		session:  NewSession(cfg.MaxResults),
		logger:   logger,
	}
}

// Session returns the research session backing the resources.
func (c *Connector) Session() *Session { return c.session }

// Close removes saved screenshots.
func (c *Connector) Close() error {
	c.dirOnce.Do(func() {}) // no dir is created after Close
	if c.dir == "" {
		return nil
	}
	return os.RemoveAll(c.dir)
}

// ListTools returns the research tool definitions.
func (c *Connector) ListTools(context.Context) ([]mcp.Tool, error) {
	return []mcp.Tool{
		mcp.NewTool("web_search",
			mcp.WithDescription("Search the web and return the result titles, links and snippets."),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Search query"),
			),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithOpenWorldHintAnnotation(true),
		),
		mcp.NewTool("visit_page",
			mcp.WithDescription("Visit a web page and extract its main content as markdown."),
			mcp.WithString("url",
				mcp.Required(),
				mcp.Description("URL to visit (http or https)"),
			),
			mcp.WithBoolean("takeScreenshot",
				mcp.Description("Also capture a screenshot of the page"),
			),
			mcp.WithOpenWorldHintAnnotation(true),
		),
		mcp.NewTool("take_screenshot",
			mcp.WithDescription("Take a screenshot of a page. Without url, the last visited page is used."),
			mcp.WithString("url",
				mcp.Description("URL to capture (default: the last visited page)"),
			),
			mcp.WithOpenWorldHintAnnotation(true),
		),
	}, nil
}

// Invoke dispatches one research tool.
func (c *Connector) Invoke(ctx context.Context, tool string, args map[string]any) (connector.Result, error) {
	switch tool {
	case "web_search":
		return c.search(ctx, args)
	case "visit_page":
		return c.visit(ctx, args)
	case "take_screenshot":
		return c.screenshot(ctx, args)
	}
	return connector.Result{}, toolerr.New(toolerr.UnknownTool, "research has no tool %q", tool)
}

// --- Tools ---

func (c *Connector) search(ctx context.Context, args map[string]any) (connector.Result, error) {
	query := strings.TrimSpace(connector.String(args, "query", ""))
	if query == "" {
		return connector.Result{}, toolerr.Invalid("query", "query is required")
	}

	hits, err := retry(ctx, c.fetch, "search", func() ([]SearchHit, error) {
		doc, err := c.fetch.search(ctx, c.cfg.SearchURL, query)
		if err != nil {
			return nil, err
		}
		hits := parseSearchResults(doc)
		if len(hits) == 0 {
			return nil, toolerr.New(toolerr.BackendError, "no search results found")
		}
		return hits, nil
	})
	if err != nil {
		return connector.Result{}, failed("failed to perform search", err)
	}

	c.session.SetQuery(query)
	for _, h := range hits {
		c.session.Add(Result{URL: h.URL, Title: h.Title, Content: h.Snippet})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Results for %q\n\n", query)
	for i, h := range hits {
		fmt.Fprintf(&b, "%d. [%s](%s)\n", i+1, h.Title, h.URL)
		if h.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", h.Snippet)
		}
	}
	return connector.Result{Text: b.String(), Data: map[string]any{"query": query, "results": hits}}, nil
}

// pageView is the structured result of visit_page.
type pageView struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Screenshot string    `json:"screenshot,omitempty"`
}

func (c *Connector) visit(ctx context.Context, args map[string]any) (connector.Result, error) {
	target, err := validateURL(connector.String(args, "url", ""))
	if err != nil {
		return connector.Result{}, err
	}

	page, err := retry(ctx, c.fetch, "visit", func() (*extractedPage, error) {
		doc, err := c.fetch.get(ctx, target)
		if err != nil {
			return nil, err
		}
		p, err := extractPage(doc)
		if err != nil {
			return nil, toolerr.Wrap(toolerr.BackendError, err, "%v", err)
		}
		return p, nil
	})
	if err != nil {
		return connector.Result{}, failed("navigation to "+target+" failed", err)
	}

	c.session.SetCurrent(Page{URL: target, Title: page.Title})
	r := Result{URL: target, Title: page.Title, Content: page.Markdown, Timestamp: timeNow()}

	view := pageView{URL: target, Title: page.Title, Content: page.Markdown, Timestamp: r.Timestamp}
	if connector.Bool(args, "takeScreenshot", false) {
		path, err := c.capture(ctx, target, page.Title)
		if err != nil {
			return connector.Result{}, err
		}
		r.ScreenshotPath = path
	}
	r = c.session.Add(r)
	if r.ScreenshotPath != "" {
		view.Screenshot = ScreenshotURI(r.Index)
	}

	text := fmt.Sprintf("# %s\n\n%s\n\n%s", page.Title, target, page.Markdown)
	if view.Screenshot != "" {
		text += "\n\nScreenshot available as resource " + view.Screenshot
	}
	return connector.Result{Text: text, Data: view}, nil
}

func (c *Connector) screenshot(ctx context.Context, args map[string]any) (connector.Result, error) {
	var page Page
	if raw := connector.String(args, "url", ""); raw != "" {
		target, err := validateURL(raw)
		if err != nil {
			return connector.Result{}, err
		}
		page = Page{URL: target}
	} else {
		cur, ok := c.session.Current()
		if !ok {
			return connector.Result{}, toolerr.Invalid("url", "no page has been visited; pass url")
		}
		page = cur
	}
	if page.Title == "" {
		page.Title = "Untitled Page"
	}

	path, err := c.capture(ctx, page.URL, page.Title)
	if err != nil {
		return connector.Result{}, err
	}
	r := c.session.Add(Result{
		URL:            page.URL,
		Title:          page.Title,
		Content:        "Screenshot taken",
		Timestamp:      timeNow(),
		ScreenshotPath: path,
	})

	uri := ScreenshotURI(r.Index)
	return connector.Result{
		Text: "Screenshot taken successfully. View it via resource " + uri,
		Data: map[string]any{"uri": uri, "index": r.Index, "url": page.URL},
	}, nil
}

// --- Screenshots ---

// ScreenshotURI is the resource identifier of a session result's screenshot.
func ScreenshotURI(index int) string {
	return fmt.Sprintf("research://screenshots/%d", index)
}

var unsafeChars = regexp.MustCompile(`[^a-z0-9]`)

// capture renders pageURL and saves it as <safe-title>-<timestamp>.png.
func (c *Connector) capture(ctx context.Context, pageURL, title string) (string, error) {
	if c.renderer == nil {
		return "", toolerr.New(toolerr.BackendUnavailable, "screenshots are not available: no renderer is configured")
	}
	png, err := retry(ctx, c.fetch, "screenshot", func() ([]byte, error) {
		return c.renderer.Render(ctx, pageURL)
	})
	if err != nil {
		return "", failed("failed to take screenshot", err)
	}
	if c.cfg.MaxScreenshotBytes > 0 && int64(len(png)) > c.cfg.MaxScreenshotBytes {
		return "", toolerr.New(toolerr.BackendError, "screenshot too large: %d bytes exceeds %d", len(png), c.cfg.MaxScreenshotBytes)
	}

	dir, err := c.screenshotDir()
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%s.png",
		unsafeChars.ReplaceAllString(strings.ToLower(title), "_"),
		timeNow().UTC().Format("20060102T150405.000000000"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, png, 0o600); err != nil {
		return "", fmt.Errorf("saving screenshot: %w", err)
	}
	c.logger.Debug("screenshot saved", zap.String("url", pageURL), zap.String("path", path))
	return path, nil
}

func (c *Connector) screenshotDir() (string, error) {
	c.dirOnce.Do(func() {
		c.dir, c.dirErr = os.MkdirTemp("", "relay-screenshots-")
	})
	if c.dirErr != nil {
		return "", fmt.Errorf("creating screenshot dir: %w", c.dirErr)
	}
	if c.dir == "" {
		return "", toolerr.New(toolerr.BackendUnavailable, "research connector is closed")
	}
	return c.dir, nil
}

// ReadScreenshot returns the PNG bytes saved for the result at index.
func (c *Connector) ReadScreenshot(index int) ([]byte, error) {
	path, err := c.session.ScreenshotPath(index)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.NotFound, err, "%v", err)
	}
	return os.ReadFile(path)
}
