package research

import (
	"fmt"
	"sync"
	"time"
)

// Result is one entry of the research session: a search hit, a visited
// page or a screenshot.
type Result struct {
	// Index is stable for the life of the session, even after older
	// results are evicted.
	Index          int       `json:"index"`
	URL            string    `json:"url"`
	Title          string    `json:"title"`
	Content        string    `json:"content,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	ScreenshotPath string    `json:"screenshotPath,omitempty"`
}

// SummaryItem is the public projection of a Result.
type SummaryItem struct {
	Index          int       `json:"index"`
	Title          string    `json:"title"`
	URL            string    `json:"url"`
	Timestamp      time.Time `json:"timestamp"`
	ScreenshotPath string    `json:"screenshotPath,omitempty"`
}

// Summary is the running summary served as a resource.
type Summary struct {
	Query       string        `json:"query"`
	ResultCount int           `json:"resultCount"`
	LastUpdated time.Time     `json:"lastUpdated"`
	Results     []SummaryItem `json:"results"`
}

// Page is the most recently visited page.
type Page struct {
	URL   string
	Title string
}

// Session accumulates research results. Safe for concurrent use.
type Session struct {
	max int
	now func() time.Time

	mu          sync.RWMutex
	query       string
	results     []Result
	nextIndex   int
	lastUpdated time.Time
	current     *Page
}

// NewSession creates a Session that keeps at most max results.
func NewSession(max int) *Session {
	if max <= 0 {
		max = 100
	}
	return &Session{max: max, now: time.Now}
}

// SetQuery records the query a search was run for.
func (s *Session) SetQuery(q string) {
	s.mu.Lock()
	s.query = q
	s.mu.Unlock()
}

// Add appends r, assigning its index and timestamp. The oldest result is
// dropped once the session is full.
func (s *Session) Add(r Result) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.query == "" {
		s.query = "Research Session"
	}
	r.Index = s.nextIndex
	s.nextIndex++
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now()
	}
	s.results = append(s.results, r)
	if len(s.results) > s.max {
		s.results = s.results[len(s.results)-s.max:]
	}
	s.lastUpdated = r.Timestamp
	return r
}

// SetCurrent records the page a screenshot without a URL will target.
func (s *Session) SetCurrent(p Page) {
	s.mu.Lock()
	s.current = &p
	s.mu.Unlock()
}

// Current returns the last visited page, if any.
func (s *Session) Current() (Page, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Page{}, false
	}
	return *s.current, true
}

// Summary returns a snapshot of the session.
func (s *Session) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]SummaryItem, len(s.results))
	for i, r := range s.results {
		items[i] = SummaryItem{
			Index:          r.Index,
			Title:          r.Title,
			URL:            r.URL,
			Timestamp:      r.Timestamp,
			ScreenshotPath: r.ScreenshotPath,
		}
	}
	return Summary{
		Query:       s.query,
		ResultCount: len(s.results),
		LastUpdated: s.lastUpdated,
		Results:     items,
	}
}

// ScreenshotPath returns the screenshot file of the result at index.
func (s *Session) ScreenshotPath(index int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.results {
		if r.Index != index {
			continue
		}
		if r.ScreenshotPath == "" {
			return "", fmt.Errorf("no screenshot available at index %d", index)
		}
		return r.ScreenshotPath, nil
	}
	return "", fmt.Errorf("no result at index %d", index)
}

// Screenshots lists the results that carry a screenshot.
func (s *Session) Screenshots() []SummaryItem {
	sum := s.Summary()
	out := sum.Results[:0]
	for _, it := range sum.Results {
		if it.ScreenshotPath != "" {
			out = append(out, it)
		}
	}
	return out
}
