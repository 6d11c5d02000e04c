package pricing

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Public sentinels so callers can errors.Is(...) and decide policy. Both are
// transient: the checker skips the unit and the next tick retries.
var (
	ErrUpstream    = errors.New("pricing upstream failure")
	ErrRateLimited = errors.New("pricing upstream rate limited")
)

// UpstreamError describes one failed call. It matches ErrRateLimited for
// HTTP 429 and ErrUpstream for everything else (transport errors, other
// non-2xx statuses, undecodable payloads, success=false). Err, when set, is
// the underlying cause.
type UpstreamError struct {
	StatusCode int
	Body       string // truncated response body
	RetryAfter time.Duration
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := ErrUpstream.Error()
	if e.RateLimited() {
		msg = ErrRateLimited.Error()
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// RateLimited reports whether the upstream asked us to slow down.
func (e *UpstreamError) RateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

// Unwrap exposes the classification sentinel and the cause.
func (e *UpstreamError) Unwrap() []error {
	kind := ErrUpstream
	if e.RateLimited() {
		kind = ErrRateLimited
	}
	if e.Err == nil {
		return []error{kind}
	}
	return []error{kind, e.Err}
}

// Outcome is a low-cardinality label for a call result.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}
