package handlers

// Error codes carried in ErrorResponse.Code. Generic codes mirror HTTP
// status semantics; the *_failed codes name the operation that broke.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	ErrCodeListFailed  = "list_failed"
	ErrCodeResetFailed = "reset_failed"
	ErrCodeStatsFailed = "stats_failed"
	ErrCodeSweepFailed = "sweep_failed"
)
