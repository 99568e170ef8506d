package api

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// clientIP gets the real IP address from the request
func clientIP(r *http.Request) string {
	// Take the first IP in the chain
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// isLocalhostOrigin reports whether an Origin header names a loopback host.
func isLocalhostOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return isLoopback(u.Hostname())
}

// localhostOnly rejects requests from non-loopback clients. Health checks
// are always allowed.
func localhostOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/health") {
			next.ServeHTTP(w, r)
			return
		}
		if !isLoopback(clientIP(r)) {
			http.Error(w, "Access denied: localhost only", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
