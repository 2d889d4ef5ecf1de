package tools

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

type allowAllResolver struct{}

func (allowAllResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}}, nil
}

// newTestCrawl returns a Crawl whose resolver maps every hostname to a public
// address and whose client dials srv, plus a hostname URL for srv. srv.URL
// itself is the literal 127.0.0.1, which the SSRF guard rejects before the
// resolver is consulted.
func newTestCrawl(srv *httptest.Server) (*Crawl, string) {
	addr := srv.Listener.Addr().String()
	_, port, _ := net.SplitHostPort(addr)
	c := NewCrawl()
	c.resolver = allowAllResolver{}
	c.client = &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}}
	return c, "http://crawl.test:" + port + "/"
}

func TestCrawlExtractsReadableText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><article><h1>Title</h1><p>Hello world, this is a test paragraph with enough content to extract.</p></article></body></html>`))
	}))
	defer srv.Close()

	c, target := newTestCrawl(srv)

	text, err := c.Fetch(context.Background(), target)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if text == "" {
		t.Fatal("expected non-empty extracted text")
	}
}

func TestCrawlRejectsBinaryContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	c, target := newTestCrawl(srv)

	if _, err := c.Fetch(context.Background(), target); err == nil {
		t.Fatal("expected binary content-type to be rejected")
	}
}

func TestCrawlRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		buf := make([]byte, crawlMaxBodyBytes+10)
		w.Write(buf)
	}))
	defer srv.Close()

	c, target := newTestCrawl(srv)

	if _, err := c.Fetch(context.Background(), target); err == nil {
		t.Fatal("expected oversized body to be rejected")
	}
}

func TestCrawlRejectsLoopback(t *testing.T) {
	c := NewCrawl()
	if _, err := c.Fetch(context.Background(), "http://127.0.0.1:9/"); err == nil {
		t.Fatal("expected loopback URL to be rejected before any request is made")
	}
}
