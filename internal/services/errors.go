// Package services defines the business logic of the price-watch worker: the
// per-subscription check cycle, the periodic scheduler that drives it, and
// the small operator service behind the ops API.
// This file centralizes service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into log levels, metrics labels, or HTTP status codes is
// performed by the callers (scheduler, handlers).
package services

import (
	"errors"

	"github.com/tbourn/flymate-worker/internal/daterange"
)

// Check-cycle errors.
var (
	// ErrInvalidRange reports a subscription whose travel window cannot be
	// checked (malformed, reversed, or beyond the lookahead horizon).
	// Not retryable; repeated occurrences flag the subscription for an
	// operator.
	ErrInvalidRange = daterange.ErrInvalidRange

	// ErrDedupUnavailable is returned when the dedup store could not be
	// consulted or updated. The cycle sends nothing further and the
	// subscription is not rescheduled, so it stays due for the next sweep.
	ErrDedupUnavailable = errors.New("dedup store unavailable")

	// ErrCheckInterrupted is returned when shutdown reached a check between
	// safe checkpoints. Nothing is rescheduled; already delivered offers are
	// marked seen.
	ErrCheckInterrupted = errors.New("check interrupted")
)

// Operator errors.
var (
	// ErrSubscriptionNotFound indicates that the requested subscription does
	// not exist.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)
