package shield

import (
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

var loopbackHosts = []string{"localhost", "127.0.0.1", "::1"}

// LocalOrigin returns middleware that rejects state-changing requests coming
// from a web page on another origin. Requests without browser provenance
// headers (CLI, curl, MCP bridges) pass. Extra allowed origins are matched
// exactly, e.g. "chrome-extension://abcdef".
func LocalOrigin(allowed ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !safeMethod(r.Method) && !originAllowed(r, allowed) {
				http.Error(w, `{"error":"cross-origin request refused"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func safeMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead || m == http.MethodOptions
}

func originAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// No Origin: only a cross-site fetch metadata header can still give
		// away a browser-initiated request.
		return r.Header.Get("Sec-Fetch-Site") != "cross-site"
	}
	if slices.Contains(allowed, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := u.Hostname()
	if slices.Contains(loopbackHosts, strings.ToLower(host)) {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
