package utils

import (
	"net"
	"net/http"
	"strings"
)

// Proxy headers consulted in order. CF-Connecting-IP comes from Cloudflare.
var clientIPHeaders = []string{"X-Forwarded-For", "X-Real-IP", "CF-Connecting-IP"}

// GetClientIP extracts the real client IP address from an HTTP request,
// preferring proxy headers over the socket address.
func GetClientIP(r *http.Request) string {
	for _, header := range clientIPHeaders {
		value := r.Header.Get(header)
		if value == "" {
			continue
		}
		// X-Forwarded-For holds a hop chain; the first entry is the client.
		ip := strings.TrimSpace(strings.SplitN(value, ",", 2)[0])
		if net.ParseIP(ip) != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && net.ParseIP(host) != nil {
		return host
	}
	return r.RemoteAddr
}
