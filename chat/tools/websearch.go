package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
)

const (
	webSearchMaxConcurrent = 2
	webSearchMinInterval   = time.Second
	webSearchMaxResults    = 10
)

// searchEndpoint is the public HTML search page scraped for results. It is a
// var so tests can point it at a local httptest server.
var searchEndpoint = "https://html.duckduckgo.com/html/"

// SearchResult is one parsed result row.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// WebSearch is the web_search tool: a rate-limited HTTP GET against a public
// HTML search endpoint, parsed into a capped result list.
type WebSearch struct {
	client *http.Client

	sem     chan struct{}
	mu      sync.Mutex
	lastReq time.Time
}

// NewWebSearch creates a web_search tool with a concurrency limit of 2 and
// a pacing floor of >=1s between requests.
func NewWebSearch() *WebSearch {
	return &WebSearch{
		client: &http.Client{Timeout: 15 * time.Second},
		sem:    make(chan struct{}, webSearchMaxConcurrent),
	}
}

func (w *WebSearch) Definitions() []Definition {
	return []Definition{{
		Name:        "web_search",
		Description: "Search the web for current information. Returns a list of titles, URLs, and descriptions.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"Search query"}},"required":["query"]}`),
	}}
}

func (w *WebSearch) Execute(ctx context.Context, _ string, args json.RawMessage) Result {
	var params struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return Result{Error: "invalid args: " + err.Error()}
	}

	results, err := w.Search(ctx, params.Query)
	if err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Content: formatSearchResults(results)}
}

// Search blocks for a semaphore slot and the pacing interval, then fetches
// and parses results.
func (w *WebSearch) Search(ctx context.Context, query string) ([]SearchResult, error) {
	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-w.sem }()

	if err := w.wait(ctx); err != nil {
		return nil, err
	}

	u := searchEndpoint + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; llumen-go/1.0)")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search endpoint returned HTTP %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}

	results := parseSearchResults(doc)
	if len(results) > webSearchMaxResults {
		results = results[:webSearchMaxResults]
	}
	return results, nil
}

// wait blocks until at least webSearchMinInterval has elapsed since the
// previous request started.
func (w *WebSearch) wait(ctx context.Context) error {
	w.mu.Lock()
	var delay time.Duration
	if !w.lastReq.IsZero() {
		if since := time.Since(w.lastReq); since < webSearchMinInterval {
			delay = webSearchMinInterval - since
		}
	}
	w.lastReq = time.Now().Add(delay)
	w.mu.Unlock()

	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parseSearchResults walks the DOM for result rows. DuckDuckGo's HTML
// endpoint marks each result with class "result__a" (title/link) and
// "result__snippet" (description); this walk is tolerant of markup drift
// since it matches on class substrings rather than exact structure.
func parseSearchResults(doc *html.Node) []SearchResult {
	var out []SearchResult
	var cur *SearchResult

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			class := attr(n, "class")
			switch {
			case n.Data == "a" && strings.Contains(class, "result__a"):
				href := attr(n, "href")
				if href != "" {
					out = append(out, SearchResult{URL: href, Title: textContent(n)})
					cur = &out[len(out)-1]
				}
			case strings.Contains(class, "result__snippet"):
				if cur != nil {
					cur.Description = textContent(n)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

func formatSearchResults(results []SearchResult) string {
	if len(results) == 0 {
		return "No results found."
	}
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "[%d] %s\n%s\n%s\n\n", i+1, r.Title, r.URL, r.Description)
	}
	return strings.TrimSpace(sb.String())
}

var _ Tool = (*WebSearch)(nil)
