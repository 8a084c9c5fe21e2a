package security

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP resolves the caller's address for rate-limit keying.
//
// The X-Forwarded-For header is spoofable by anyone who can reach the service
// directly, so it is honored only when the deployment declares exactly one
// proxy hop in front of this process. In every other topology the socket
// address wins. When nothing usable remains the literal "unknown" is
// returned so abusive traffic without an address still shares one bucket.
func ClientIP(r *http.Request, trustedProxyHops int) string {
	if trustedProxyHops == 1 {
		if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
			first := strings.TrimSpace(strings.Split(fwd, ",")[0])
			if ip := net.ParseIP(first); ip != nil {
				return ip.String()
			}
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if addr := strings.TrimSpace(r.RemoteAddr); addr != "" {
		return addr
	}
	return "unknown"
}
