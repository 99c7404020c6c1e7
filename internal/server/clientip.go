package server

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

type ipSource string

const (
	ipSourceRemoteAddr    ipSource = "remote_addr"
	ipSourceXForwardedFor ipSource = "x_forwarded_for"
	ipSourceXRealIP       ipSource = "x_real_ip"
)

// clientIPResolver decides which address identifies the caller for rate
// limiting and logging. Forwarded headers are honoured only when configured,
// and only when the direct peer is a trusted proxy, because any client can
// forge X-Forwarded-For.
type clientIPResolver struct {
	trustForwarded bool
	trustedProxies []*net.IPNet
}

func newClientIPResolver(trustForwarded bool, trustedProxies []string) (*clientIPResolver, error) {
	resolver := &clientIPResolver{trustForwarded: trustForwarded}
	for _, entry := range trustedProxies {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			continue
		}
		if !strings.Contains(trimmed, "/") {
			if ip := net.ParseIP(trimmed); ip != nil {
				bits := 32
				if ip.To4() == nil {
					bits = 128
				}
				trimmed = fmt.Sprintf("%s/%d", trimmed, bits)
			}
		}
		_, network, err := net.ParseCIDR(trimmed)
		if err != nil {
			return nil, fmt.Errorf("parse trusted proxy %q: %w", entry, err)
		}
		resolver.trustedProxies = append(resolver.trustedProxies, network)
	}
	return resolver, nil
}

func (r *clientIPResolver) resolve(req *http.Request) (string, ipSource) {
	remote := remoteIP(req)
	if !r.trustForwarded || !r.isTrustedProxy(remote) {
		return remote, ipSourceRemoteAddr
	}

	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		// The first entry is the original client; later hops append.
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip, ipSourceXForwardedFor
		}
	}
	if realIP := strings.TrimSpace(req.Header.Get("X-Real-Ip")); realIP != "" {
		return realIP, ipSourceXRealIP
	}
	return remote, ipSourceRemoteAddr
}

func (r *clientIPResolver) isTrustedProxy(addr string) bool {
	if len(r.trustedProxies) == 0 {
		// Trusting forwarded headers without naming proxies means
		// trusting every peer.
		return true
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, network := range r.trustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func remoteIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
