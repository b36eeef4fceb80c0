package research

import (
	"fmt"
	"html"
	"strings"

	xhtml "golang.org/x/net/html"
)

// contentSelectors are tried in order; the first match is the page's
// main content.
var contentSelectors = []string{
	"main", "article", "[role=main]", "#content", ".content", ".main", ".post", ".article",
}

// chromeSelectors are stripped from <body> when no content selector matches.
var chromeSelectors = []string{
	"header", "footer", "nav", "[role=navigation]",
	"aside", ".sidebar", "[role=complementary]",
	".nav", ".menu", ".header", ".footer",
	".advertisement", ".ads", ".cookie-notice",
}

var botProtectionIDs = []string{
	"challenge-running", "cf-challenge-running", "px-captcha", "ddos-protection", "waf-challenge-html",
}

var suspiciousTitles = []string{
	"security check", "ddos protection", "please wait", "just a moment", "attention required",
}

// minWords is the least amount of body text a page must carry.
const minWords = 10

// --- Page extraction ---

type extractedPage struct {
	Title    string
	Markdown string
}

// extractPage validates a parsed document and converts its main content
// to markdown.
func extractPage(doc *xhtml.Node) (*extractedPage, error) {
	title := nodeText(findFirst(doc, func(n *xhtml.Node) bool { return n.Data == "title" }))

	for _, id := range botProtectionIDs {
		if findFirst(doc, selectorMatcher("#"+id)) != nil {
			return nil, fmt.Errorf("bot protection detected")
		}
	}
	lower := strings.ToLower(title)
	for _, phrase := range suspiciousTitles {
		if strings.Contains(lower, phrase) {
			return nil, fmt.Errorf("suspicious page title detected: %q", title)
		}
	}

	body := findFirst(doc, func(n *xhtml.Node) bool { return n.Data == "body" })
	if body == nil {
		body = doc
	}
	if n := len(strings.Fields(nodeText(body))); n < minWords {
		return nil, fmt.Errorf("page contains insufficient content (%d words)", n)
	}

	md := toMarkdown(mainContent(body))
	if md == "" {
		return nil, fmt.Errorf("failed to extract content")
	}
	return &extractedPage{Title: title, Markdown: md}, nil
}

// mainContent returns the node holding the page's content. Without a
// recognizable content node, navigation chrome is detached from body.
func mainContent(body *xhtml.Node) *xhtml.Node {
	for _, sel := range contentSelectors {
		if n := findFirst(body, selectorMatcher(sel)); n != nil {
			return n
		}
	}

	var chrome []*xhtml.Node
	for _, sel := range chromeSelectors {
		chrome = append(chrome, findAll(body, selectorMatcher(sel))...)
	}
	for _, n := range chrome {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
	return body
}

// --- Selectors ---

// selectorMatcher supports the single-part selectors used above:
// tag, #id, .class and [attr=value].
func selectorMatcher(sel string) func(*xhtml.Node) bool {
	switch {
	case strings.HasPrefix(sel, "#"):
		id := sel[1:]
		return func(n *xhtml.Node) bool { return getAttr(n, "id") == id }
	case strings.HasPrefix(sel, "."):
		class := sel[1:]
		return func(n *xhtml.Node) bool { return nodeHasClass(n, class) }
	case strings.HasPrefix(sel, "["):
		key, val, _ := strings.Cut(strings.Trim(sel, "[]"), "=")
		return func(n *xhtml.Node) bool { return getAttr(n, key) == val }
	default:
		return func(n *xhtml.Node) bool { return n.Data == sel }
	}
}

func findFirst(root *xhtml.Node, match func(*xhtml.Node) bool) *xhtml.Node {
	if root == nil {
		return nil
	}
	if root.Type == xhtml.ElementNode && match(root) {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if n := findFirst(c, match); n != nil {
			return n
		}
	}
	return nil
}

func findAll(root *xhtml.Node, match func(*xhtml.Node) bool) []*xhtml.Node {
	var out []*xhtml.Node
	var walk func(*xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.ElementNode && match(n) {
			out = append(out, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func nodeHasClass(n *xhtml.Node, class string) bool {
	for _, part := range strings.Fields(getAttr(n, "class")) {
		if part == class {
			return true
		}
	}
	return false
}

func getAttr(n *xhtml.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

// nodeText returns the visible text under n with whitespace collapsed.
func nodeText(n *xhtml.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*xhtml.Node)
	walk = func(n *xhtml.Node) {
		switch n.Type {
		case xhtml.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
		case xhtml.ElementNode:
			if skipElement(n.Data) {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func skipElement(name string) bool {
	switch strings.ToLower(name) {
	case "script", "style", "noscript", "template", "svg":
		return true
	}
	return false
}

// --- Markdown ---

// toMarkdown renders the subset of HTML that matters for reading a page:
// headings, paragraphs, lists, links, emphasis and code.
func toMarkdown(n *xhtml.Node) string {
	if n == nil {
		return ""
	}
	w := &mdWriter{}
	w.walk(n)
	return strings.TrimSpace(w.String())
}

type mdWriter struct {
	strings.Builder
	lists []mdList
	links []string
	pre   bool
	glue  bool // next text attaches to an opening inline marker
}

type mdList struct {
	ordered bool
	n       int
}

func (w *mdWriter) walk(n *xhtml.Node) {
	switch n.Type {
	case xhtml.TextNode:
		w.text(n.Data)
		return
	case xhtml.ElementNode:
		if skipElement(n.Data) {
			return
		}
		w.open(n)
		defer w.close(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func (w *mdWriter) open(n *xhtml.Node) {
	switch tag := strings.ToLower(n.Data); tag {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		w.blankLine()
		w.WriteString(strings.Repeat("#", int(tag[1]-'0')) + " ")
	case "p", "div", "section", "article", "main", "blockquote", "table", "tr":
		w.blankLine()
	case "br":
		w.WriteByte('\n')
	case "pre":
		if !w.pre {
			w.blankLine()
			w.WriteString("```\n")
			w.pre = true
		}
	case "code":
		if !w.pre {
			w.inline("`")
		}
	case "strong", "b":
		w.inline("**")
	case "em", "i":
		w.inline("*")
	case "ul", "ol":
		w.lists = append(w.lists, mdList{ordered: tag == "ol"})
		w.blankLine()
	case "li":
		w.listItem()
	case "a":
		if href := getAttr(n, "href"); href != "" {
			w.links = append(w.links, href)
			w.inline("[")
		}
	case "img":
		if src := getAttr(n, "src"); src != "" {
			alt := getAttr(n, "alt")
			if alt == "" {
				alt = src
			}
			fmt.Fprintf(w, "![%s](%s)", alt, src)
		}
	}
}

func (w *mdWriter) close(n *xhtml.Node) {
	switch strings.ToLower(n.Data) {
	case "h1", "h2", "h3", "h4", "h5", "h6", "p", "div", "section", "article", "main", "blockquote", "tr":
		w.WriteByte('\n')
	case "pre":
		if w.pre {
			if !strings.HasSuffix(w.String(), "\n") {
				w.WriteByte('\n')
			}
			w.WriteString("```\n")
			w.pre = false
		}
	case "code":
		if !w.pre {
			w.WriteByte('`')
		}
	case "strong", "b":
		w.WriteString("**")
	case "em", "i":
		w.WriteByte('*')
	case "ul", "ol":
		if len(w.lists) > 0 {
			w.lists = w.lists[:len(w.lists)-1]
		}
		w.WriteByte('\n')
	case "a":
		if getAttr(n, "href") != "" && len(w.links) > 0 {
			href := w.links[len(w.links)-1]
			w.links = w.links[:len(w.links)-1]
			fmt.Fprintf(w, "](%s)", href)
		}
	}
}

func (w *mdWriter) text(s string) {
	if w.pre {
		w.WriteString(s)
		return
	}
	cleaned := strings.Join(strings.Fields(html.UnescapeString(s)), " ")
	if cleaned == "" {
		return
	}
	if !w.glue {
		w.space()
	}
	w.glue = false
	w.WriteString(cleaned)
}

// inline writes an opening marker that the following text attaches to.
func (w *mdWriter) inline(marker string) {
	w.space()
	w.WriteString(marker)
	w.glue = true
}

func (w *mdWriter) space() {
	out := w.String()
	if out != "" && !strings.HasSuffix(out, "\n") && !strings.HasSuffix(out, " ") {
		w.WriteByte(' ')
	}
}

func (w *mdWriter) blankLine() {
	out := w.String()
	switch {
	case out == "", strings.HasSuffix(out, "\n\n"):
	case strings.HasSuffix(out, "\n"):
		w.WriteByte('\n')
	default:
		w.WriteString("\n\n")
	}
}

func (w *mdWriter) listItem() {
	if len(w.lists) == 0 {
		w.lists = append(w.lists, mdList{})
	}
	l := &w.lists[len(w.lists)-1]
	if !strings.HasSuffix(w.String(), "\n") {
		w.WriteByte('\n')
	}
	w.WriteString(strings.Repeat("  ", len(w.lists)-1))
	if l.ordered {
		l.n++
		fmt.Fprintf(w, "%d. ", l.n)
		return
	}
	w.WriteString("- ")
}
