package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWebSearchParsesAndCapsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		var body string
		for i := 0; i < 15; i++ {
			body += `<div class="result"><a class="result__a" href="https://example.com/` + string(rune('a'+i)) + `">Result title</a><a class="result__snippet">a description</a></div>`
		}
		w.Write([]byte(body))
	}))
	defer srv.Close()

	prev := searchEndpoint
	searchEndpoint = srv.URL
	defer func() { searchEndpoint = prev }()

	w := NewWebSearch()
	results, err := w.Search(context.Background(), "golang")
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(results) != webSearchMaxResults {
		t.Fatalf("expected results capped at %d, got %d", webSearchMaxResults, len(results))
	}
	if results[0].Title != "Result title" {
		t.Fatalf("unexpected title %q", results[0].Title)
	}
}

func TestWebSearchPacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<div></div>`))
	}))
	defer srv.Close()

	prev := searchEndpoint
	searchEndpoint = srv.URL
	defer func() { searchEndpoint = prev }()

	ws := NewWebSearch()
	start := time.Now()
	if _, err := ws.Search(context.Background(), "a"); err != nil {
		t.Fatalf("first search failed: %v", err)
	}
	if _, err := ws.Search(context.Background(), "b"); err != nil {
		t.Fatalf("second search failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < webSearchMinInterval {
		t.Fatalf("expected at least %v between requests, took %v", webSearchMinInterval, elapsed)
	}
}
