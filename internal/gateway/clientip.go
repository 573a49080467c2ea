package gateway

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// clientIP extracts the real client address. The gateway sits behind a
// reverse proxy, so when the peer is a private or loopback address the
// leftmost X-Forwarded-For entry is the actual client.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	addr, err := netip.ParseAddr(host)
	if err != nil || !(addr.IsPrivate() || addr.IsLoopback()) {
		return host
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	return host
}

// forwardedHost is the host the client actually asked the proxy for, without
// any port.
func forwardedHost(r *http.Request) string {
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host
}

// forwardedURI is the original path and query at the proxy, used as the
// post-login redirect target.
func forwardedURI(r *http.Request) string {
	if uri := r.Header.Get("X-Forwarded-Uri"); uri != "" {
		return uri
	}
	return r.URL.RequestURI()
}
