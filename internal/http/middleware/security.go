// Package middleware contains the Gin middleware of the worker's ops server.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// apiCSP locks down responses that are JSON or Prometheus text and never
// render in a browser.
const apiCSP = "default-src 'none'; frame-ancestors 'none'"

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	EnableHSTS   bool          // only when traffic is HTTPS end-to-end
	HSTSMaxAge   time.Duration // <= 0 means 180 days
	NoStore      bool          // operator data must not sit in shared caches
	EnablePolicy bool          // Permissions-Policy and cross-domain policy

	// StaticPrefixes are path prefixes serving browser assets (the Swagger
	// UI). They skip NoStore and the API content policy, which would
	// otherwise block the UI's scripts.
	StaticPrefixes []string
}

// SecurityHeaders sets nosniff, DENY framing and no-referrer on every
// response, plus the optional headers selected in opt. API responses also get
// a deny-all Content-Security-Policy. An X-Request-ID already on the response
// is added to Access-Control-Expose-Headers so browser tooling can quote it
// when reporting a failed ops call.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = 180 * 24 * time.Hour
	}
	hsts := "max-age=" + strconv.Itoa(int(maxAge.Seconds())) + "; includeSubDomains"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}
		if !isStatic(c.Request.URL.Path, opt.StaticPrefixes) {
			h.Set("Content-Security-Policy", apiCSP)
			if opt.NoStore {
				h.Set("Cache-Control", "no-store")
				h.Set("Pragma", "no-cache")
				h.Set("Expires", "0")
			}
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		exposeRequestID(h)

		c.Next()
	}
}

func isStatic(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func exposeRequestID(h http.Header) {
	if h.Get(requestIDHeader) == "" {
		return
	}
	const hdr = "Access-Control-Expose-Headers"
	cur := h.Get(hdr)
	for _, v := range strings.Split(cur, ",") {
		if strings.EqualFold(strings.TrimSpace(v), requestIDHeader) {
			return
		}
	}
	if cur == "" {
		h.Set(hdr, requestIDHeader)
		return
	}
	h.Set(hdr, cur+", "+requestIDHeader)
}

// isHTTPS reports whether r arrived over TLS directly or via a proxy that set
// X-Forwarded-Proto: https.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
