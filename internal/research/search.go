package research

import (
	"net/url"
	"strings"

	xhtml "golang.org/x/net/html"
)

// SearchHit is one result of a web search.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// parseSearchResults extracts hits from a DuckDuckGo HTML results page.
func parseSearchResults(doc *xhtml.Node) []SearchHit {
	var hits []SearchHit
	for _, n := range findAll(doc, func(n *xhtml.Node) bool {
		return n.Data == "div" && nodeHasClass(n, "result")
	}) {
		if h, ok := searchHit(n); ok {
			hits = append(hits, h)
		}
	}
	return dedupeHits(hits)
}

func searchHit(n *xhtml.Node) (SearchHit, bool) {
	var h SearchHit
	if a := findFirst(n, func(n *xhtml.Node) bool { return n.Data == "a" && nodeHasClass(n, "result__a") }); a != nil {
		h.Title = nodeText(a)
		h.URL = resultURL(getAttr(a, "href"))
	}
	if s := findFirst(n, selectorMatcher(".result__snippet")); s != nil {
		h.Snippet = nodeText(s)
	}
	if h.URL == "" {
		if u := findFirst(n, selectorMatcher(".result__url")); u != nil {
			h.URL = resultURL(nodeText(u))
		}
	}
	return h, h.URL != "" && h.Title != ""
}

// resultURL normalizes a result link. DuckDuckGo wraps targets in a
// redirect (//duckduckgo.com/l/?uddg=<target>); bare hosts get https.
func resultURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return resultURL(target)
	}
	if u.Scheme == "" && u.Host == "" && u.Path != "" && !strings.HasPrefix(u.Path, "/") {
		return resultURL("https://" + raw)
	}
	if !isWebURL(u) {
		return ""
	}
	u.Fragment = ""
	return u.String()
}

func isWebURL(u *url.URL) bool {
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Hostname() != ""
}

func dedupeHits(hits []SearchHit) []SearchHit {
	seen := make(map[string]bool, len(hits))
	out := hits[:0]
	for _, h := range hits {
		if seen[h.URL] {
			continue
		}
		seen[h.URL] = true
		out = append(out, h)
	}
	return out
}
