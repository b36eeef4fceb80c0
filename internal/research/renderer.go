package research

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/HendryAvila/relay/internal/toolerr"
)

// Renderer produces a PNG screenshot of a page.
type Renderer interface {
	Render(ctx context.Context, pageURL string) ([]byte, error)
}

// HTTPRenderer delegates rendering to an external service:
// POST {endpoint} {"url": "..."} -> image/png.
type HTTPRenderer struct {
	endpoint string
	client   *http.Client
	maxBytes int64
}

// NewHTTPRenderer creates an HTTPRenderer. Screenshots larger than
// maxBytes are rejected.
func NewHTTPRenderer(endpoint string, client *http.Client, maxBytes int64) *HTTPRenderer {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRenderer{endpoint: endpoint, client: client, maxBytes: maxBytes}
}

// Render requests a screenshot of pageURL.
func (r *HTTPRenderer) Render(ctx context.Context, pageURL string) ([]byte, error) {
	body, err := json.Marshal(map[string]string{"url": pageURL})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, toolerr.Wrap(toolerr.BackendUnavailable, err, "building render request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/png")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.BackendUnavailable, err, "renderer unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return nil, toolerr.New(toolerr.BackendUnavailable, "renderer returned HTTP %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, toolerr.New(toolerr.BackendError, "renderer returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	png, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, toolerr.Wrap(toolerr.BackendUnavailable, err, "reading screenshot")
	}
	if int64(len(png)) > r.maxBytes {
		return nil, toolerr.New(toolerr.BackendError, "screenshot too large: exceeds %d MB limit", r.maxBytes>>20)
	}
	return png, nil
}
