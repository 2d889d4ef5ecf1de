package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/yuin/goldmark"
	"golang.org/x/text/width"

	"github.com/pinkfuwa/llumen-go/internal/urlguard"
	"github.com/pinkfuwa/llumen-go/llm"
)

const (
	crawlMaxBodyBytes = 1 << 20 // ~1 MB
	crawlColumnWidth  = 100
)

// rejectedContentTypePrefixes are binary/media types crawl refuses to fetch the
// body of — only the Content-Type header is inspected, so the rejection is
// cheap even for large remote files.
var rejectedContentTypePrefixes = []string{
	"image/", "audio/", "video/",
	"application/pdf",
	"application/epub+zip",
	"application/octet-stream",
	"application/zip",
}

// Crawl is the crawl tool: an SSRF-guarded HTTP GET that converts HTML to
// plain text at a fixed column width.
type Crawl struct {
	client   *http.Client
	resolver urlguard.Resolver
}

// NewCrawl creates a crawl tool with a 15-second timeout.
func NewCrawl() *Crawl {
	return &Crawl{
		client:   &http.Client{Timeout: 15 * time.Second},
		resolver: urlguard.NetResolver{},
	}
}

func (c *Crawl) Definitions() []Definition {
	return []Definition{{
		Name:        "crawl",
		Description: "Fetch a URL and return its readable text content, reflowed to a fixed width.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"url":{"type":"string","description":"URL to fetch"}},"required":["url"]}`),
	}}
}

func (c *Crawl) Execute(ctx context.Context, _ string, args json.RawMessage) Result {
	var params struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return Result{Error: "invalid args: " + err.Error()}
	}

	text, err := c.Fetch(ctx, params.URL)
	if err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Content: text}
}

// Fetch validates rawURL against the SSRF guard, fetches it (retrying once
// on a Retry-After response), and extracts readable plain text.
func (c *Crawl) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := urlguard.Check(ctx, c.resolver, rawURL)
	if err != nil {
		return "", err
	}

	resp, err := c.doFetch(ctx, u.String())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		wait := llm.ParseRetryAfter(resp.Header.Get("Retry-After"))
		resp.Body.Close()
		if wait <= 0 {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		resp, err = c.doFetch(ctx, u.String())
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
	}

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, rawURL)
	}

	ct := resp.Header.Get("Content-Type")
	for _, prefix := range rejectedContentTypePrefixes {
		if strings.HasPrefix(ct, prefix) {
			return "", fmt.Errorf("refusing to fetch binary content-type %q", ct)
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, crawlMaxBodyBytes+1))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if len(body) > crawlMaxBodyBytes {
		return "", fmt.Errorf("response exceeds %d byte limit", crawlMaxBodyBytes)
	}

	return extractText(string(body), u)
}

func (c *Crawl) doFetch(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; llumen-go/1.0)")
	return c.client.Do(req)
}

// extractText converts HTML to readable plain text, falling back to a
// markdown-render-then-strip pass if readability finds nothing usable.
func extractText(body string, u *url.URL) (string, error) {
	article, err := readability.FromReader(strings.NewReader(body), u)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return reflow(article.TextContent, crawlColumnWidth), nil
	}

	var buf strings.Builder
	if mdErr := goldmark.Convert([]byte(stripTags(body)), &buf); mdErr == nil && buf.Len() > 0 {
		return reflow(buf.String(), crawlColumnWidth), nil
	}

	return "", fmt.Errorf("could not extract readable content from %s", u)
}

// stripTags is a minimal tag stripper used only as the last-resort fallback
// input to goldmark, which expects markdown/text rather than HTML.
func stripTags(s string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// reflow wraps text to columns columns, preserving paragraph breaks.
func reflow(text string, columns int) string {
	paragraphs := strings.Split(strings.TrimSpace(text), "\n\n")
	var out strings.Builder
	for i, p := range paragraphs {
		if i > 0 {
			out.WriteString("\n\n")
		}
		out.WriteString(wrapParagraph(strings.Join(strings.Fields(p), " "), columns))
	}
	return out.String()
}

func wrapParagraph(p string, columns int) string {
	if p == "" {
		return ""
	}
	words := strings.Fields(p)
	var sb strings.Builder
	lineLen := 0
	for i, w := range words {
		wWidth := displayWidth(w)
		if i > 0 {
			if lineLen+1+wWidth > columns {
				sb.WriteString("\n")
				lineLen = 0
			} else {
				sb.WriteString(" ")
				lineLen++
			}
		}
		sb.WriteString(w)
		lineLen += wWidth
	}
	return sb.String()
}

// displayWidth counts s's terminal column width rather than its byte
// length, so a page of CJK text doesn't wrap twice as wide as intended
// (East Asian wide/fullwidth runes occupy two columns).
func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}

var _ Tool = (*Crawl)(nil)
