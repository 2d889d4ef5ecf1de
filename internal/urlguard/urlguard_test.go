package urlguard

import (
	"context"
	"net"
	"testing"
)

type stubResolver struct {
	ips []net.IPAddr
	err error
}

func (s stubResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return s.ips, s.err
}

func TestCheckRejectsLoopbackLiteral(t *testing.T) {
	if _, err := Check(context.Background(), stubResolver{}, "http://127.0.0.1/admin"); err == nil {
		t.Fatal("expected loopback literal to be rejected")
	}
}

func TestCheckRejectsPrivateRanges(t *testing.T) {
	for _, raw := range []string{
		"http://10.0.0.5/",
		"http://172.16.3.4/",
		"http://192.168.1.1/",
		"http://[::1]/",
		"http://[fc00::1]/",
	} {
		if _, err := Check(context.Background(), stubResolver{}, raw); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

func TestCheckRejectsHostnameResolvingToPrivate(t *testing.T) {
	r := stubResolver{ips: []net.IPAddr{{IP: net.ParseIP("10.1.2.3")}}}
	if _, err := Check(context.Background(), r, "http://internal.example/"); err == nil {
		t.Fatal("expected hostname resolving to a private address to be rejected")
	}
}

func TestCheckAllowsPublicAddress(t *testing.T) {
	r := stubResolver{ips: []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}}}
	u, err := Check(context.Background(), r, "https://example.com/page")
	if err != nil {
		t.Fatalf("expected public address to pass, got %v", err)
	}
	if u.Host != "example.com" {
		t.Fatalf("unexpected parsed host %q", u.Host)
	}
}

func TestCheckRejectsNonHTTPScheme(t *testing.T) {
	if _, err := Check(context.Background(), stubResolver{}, "file:///etc/passwd"); err == nil {
		t.Fatal("expected non-http(s) scheme to be rejected")
	}
}
