package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIPResolverIgnoresForwardedByDefault(t *testing.T) {
	t.Parallel()

	resolver, err := newClientIPResolver(false, nil)
	if err != nil {
		t.Fatalf("newClientIPResolver: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/media", nil)
	req.RemoteAddr = "203.0.113.7:4444"
	req.Header.Set("X-Forwarded-For", "198.51.100.1")

	ip, source := resolver.resolve(req)
	if ip != "203.0.113.7" || source != ipSourceRemoteAddr {
		t.Fatalf("expected remote addr to win, got %s from %s", ip, source)
	}
}

func TestClientIPResolverHonoursForwardedFromTrustedProxy(t *testing.T) {
	t.Parallel()

	resolver, err := newClientIPResolver(true, []string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("newClientIPResolver: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/media", nil)
	req.RemoteAddr = "10.1.2.3:4444"
	req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.1.2.3")

	ip, source := resolver.resolve(req)
	if ip != "198.51.100.1" || source != ipSourceXForwardedFor {
		t.Fatalf("expected forwarded client, got %s from %s", ip, source)
	}
}

func TestClientIPResolverRejectsForwardedFromUntrustedPeer(t *testing.T) {
	t.Parallel()

	resolver, err := newClientIPResolver(true, []string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("newClientIPResolver: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/media", nil)
	req.RemoteAddr = "203.0.113.7:4444"
	req.Header.Set("X-Forwarded-For", "198.51.100.1")

	ip, source := resolver.resolve(req)
	if ip != "203.0.113.7" || source != ipSourceRemoteAddr {
		t.Fatalf("expected untrusted peer to fall back to remote addr, got %s from %s", ip, source)
	}
}

func TestClientIPResolverFallsBackToRealIP(t *testing.T) {
	t.Parallel()

	resolver, err := newClientIPResolver(true, []string{"10.1.2.3"})
	if err != nil {
		t.Fatalf("newClientIPResolver: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/media", nil)
	req.RemoteAddr = "10.1.2.3:4444"
	req.Header.Set("X-Real-Ip", "198.51.100.9")

	ip, source := resolver.resolve(req)
	if ip != "198.51.100.9" || source != ipSourceXRealIP {
		t.Fatalf("expected X-Real-Ip fallback, got %s from %s", ip, source)
	}
}

func TestNewClientIPResolverRejectsBadProxy(t *testing.T) {
	t.Parallel()

	if _, err := newClientIPResolver(true, []string{"not-an-ip"}); err == nil {
		t.Fatal("expected error for malformed proxy entry")
	}
}
