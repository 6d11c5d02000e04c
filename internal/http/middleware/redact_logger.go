// Package middleware contains the Gin middleware of the worker's ops server.
//
// This file implements RedactingLogger, the ops server's access logger. It
// never logs bodies, masks credential headers, and scrubs secrets that could
// leak through query strings or headers: Telegram bot tokens, token-like
// query parameters and e-mail addresses.
//
// It also attaches a request-scoped logger (request_id, method, path) to the
// Gin context so handlers can log through LoggerFrom.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RedactOptions configures additional scrub behavior for RedactingLogger.
//
// MaskHeaders lists extra header names whose values are replaced with
// "[REDACTED]" (case-insensitive). Authorization, Cookie, Set-Cookie and
// X-Access-Token are always masked.
type RedactOptions struct {
	MaskHeaders []string
}

var (
	// botTokenRE matches Telegram bot tokens ("123456:AA..."), with or
	// without the "bot" path prefix.
	botTokenRE = regexp.MustCompile(`\b(?:bot)?\d{6,12}:[A-Za-z0-9_-]{30,}\b`)
	// tokenParamRE matches secret-bearing query parameters.
	tokenParamRE = regexp.MustCompile(`(?i)\b(token|access_token|api_key|key)=[^&\s]*`)
	emailRE      = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
)

// redact scrubs secrets from s. Bot tokens go first so their digits are not
// partially consumed by the looser patterns.
func redact(s string) string {
	if s == "" {
		return s
	}
	s = botTokenRE.ReplaceAllString(s, "[REDACTED:token]")
	s = tokenParamRE.ReplaceAllString(s, "$1=[REDACTED]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return s
}

// RedactingLogger returns a Gin middleware that logs each request at INFO,
// WARN for 4xx and ERROR for 5xx or when handlers recorded Gin errors.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	maskHeaders := map[string]struct{}{
		"authorization":  {},
		"cookie":         {},
		"set-cookie":     {},
		"x-access-token": {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			maskHeaders[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := truncate(redact(c.Request.URL.RawQuery), maxQueryLogLength)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = redact(strings.Join(vv, ", "))
		}

		reqLog := log.With().
			Str("request_id", RequestIDFrom(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger()
		c.Set(loggerKey, &reqLog)

		c.Next()

		status := c.Writer.Status()
		ev := reqLog.Info()
		switch {
		case status >= 500 || len(c.Errors) > 0:
			ev = reqLog.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", redact(c.Errors.String()))
			}
		case status >= 400:
			ev = reqLog.Warn()
		}

		op, _ := c.Get(operatorKey)
		ev.
			Str("query", safeQuery).
			Str("operator", asString(op)).
			Str("remote_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
