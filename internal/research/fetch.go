package research

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	xhtml "golang.org/x/net/html"

	"github.com/HendryAvila/relay/internal/toolerr"
)

const maxPageBytes = 5 << 20

// fetcher performs the HTTP side of research with bounded retries.
type fetcher struct {
	client     *http.Client
	userAgent  string
	retries    uint
	retryDelay time.Duration
	logger     *zap.Logger
}

// retry runs op up to f.retries times with a constant delay. Errors
// wrapped with backoff.Permanent stop immediately.
func retry[T any](ctx context.Context, f *fetcher, what string, op backoff.Operation[T]) (T, error) {
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(f.retryDelay)),
		backoff.WithMaxTries(f.retries),
		backoff.WithNotify(func(err error, next time.Duration) {
			f.logger.Warn("research attempt failed, retrying",
				zap.String("op", what), zap.Duration("in", next), zap.Error(err))
		}),
	)
}

// get fetches target and parses it as HTML.
func (f *fetcher) get(ctx context.Context, target string) (*xhtml.Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, backoff.Permanent(toolerr.Invalid("url", "invalid URL %q: %v", target, err))
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	return f.do(req)
}

// search posts query to a DuckDuckGo-compatible HTML endpoint.
func (f *fetcher) search(ctx context.Context, endpoint, query string) (*xhtml.Node, error) {
	form := url.Values{}
	form.Set("q", query)
	form.Set("kl", "us-en")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("building search request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return f.do(req)
}

func (f *fetcher) do(req *http.Request) (*xhtml.Node, error) {
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.BackendUnavailable, err, "requesting %s", req.URL)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		err := toolerr.New(toolerr.BackendError, "HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes+1))
	if err != nil {
		return nil, toolerr.Wrap(toolerr.BackendUnavailable, err, "reading %s", req.URL)
	}
	if len(body) > maxPageBytes {
		return nil, backoff.Permanent(toolerr.New(toolerr.BackendError, "response from %s exceeds %d bytes", req.URL, maxPageBytes))
	}

	doc, err := xhtml.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(toolerr.Wrap(toolerr.BackendError, err, "parsing HTML from %s", req.URL))
	}
	return doc, nil
}

// validateURL accepts absolute http and https URLs only.
func validateURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !isWebURL(u) {
		return "", toolerr.Invalid("url", "invalid URL: %s. Only http and https protocols are supported", raw)
	}
	return u.String(), nil
}

// failed strips the retry wrapper and prefixes the message, keeping the
// kind of the error underneath.
func failed(prefix string, err error) error {
	var p *backoff.PermanentError
	if errors.As(err, &p) {
		err = p.Unwrap()
	}
	te := toolerr.Normalize(err)
	return &toolerr.Error{
		Kind:    te.Kind,
		Message: prefix + ": " + te.Envelope().Message,
		Field:   te.Field,
		Err:     err,
	}
}
