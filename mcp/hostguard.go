package mcp

import (
	"net"
	"net/http"
	"strings"

	"pkt.systems/pslog"
)

// hostGuard rejects requests whose Host header is not allow-listed, which
// blocks DNS rebinding against loopback listeners.
type hostGuard struct {
	enabled bool
	allowed map[string]struct{}
}

func newHostGuard(listen string, extra []string, protect bool) *hostGuard {
	g := &hostGuard{allowed: make(map[string]struct{})}
	for _, h := range []string{"localhost", "127.0.0.1", "::1"} {
		g.allowed[h] = struct{}{}
	}
	listenHost, _, err := net.SplitHostPort(listen)
	if err != nil {
		listenHost = listen
	}
	listenHost = normalizeHost(listenHost)
	loopback := isLoopbackHost(listenHost)
	if listenHost != "" && !isWildcardHost(listenHost) {
		g.allowed[listenHost] = struct{}{}
	}
	for _, h := range extra {
		if h = normalizeHost(h); h != "" {
			g.allowed[h] = struct{}{}
		}
	}
	g.enabled = protect && (loopback || len(extra) > 0)
	return g
}

func (g *hostGuard) allows(hostport string) bool {
	if !g.enabled {
		return true
	}
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		host = hostport
	}
	_, ok := g.allowed[normalizeHost(host)]
	return ok
}

func (g *hostGuard) middleware(logger pslog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !g.allows(r.Host) {
				logger.Warn("mcp.transport.host_rejected", "host", r.Host, "remote", r.RemoteAddr)
				http.Error(w, "Forbidden: invalid Host header", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func normalizeHost(h string) string {
	h = strings.TrimSpace(strings.ToLower(h))
	h = strings.TrimPrefix(h, "[")
	h = strings.TrimSuffix(h, "]")
	return strings.TrimSuffix(h, ".")
}

func isLoopbackHost(h string) bool {
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

func isWildcardHost(h string) bool {
	if h == "" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsUnspecified()
}
