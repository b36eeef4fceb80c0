package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// ProbePath is appended to an endpoint for the liveness check.
const ProbePath = "/mcp/list_tools"

// HTTPProber treats an endpoint as alive when GET {endpoint}/mcp/list_tools
// answers 2xx.
type HTTPProber struct {
	Client *http.Client
}

// NewHTTPProber creates a prober. Timeouts come from the probe context.
func NewHTTPProber(client *http.Client) *HTTPProber {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPProber{Client: client}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+ProbePath, nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe %s: unexpected status %d", endpoint, resp.StatusCode)
	}
	return nil
}
