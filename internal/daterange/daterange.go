// Package daterange decomposes a subscription's travel window into the
// month-granularity query units accepted by the pricing API.
//
// A window bound is either an exact calendar date ("2025-06-15") or a bare
// year-month ("2025-06"). Split produces one Unit per calendar month touched
// by the window, in chronological order, with the first and last unit clipped
// to the window's real boundaries. Everything here is pure: no I/O and no
// reads of the wall clock (callers pass "now").
package daterange

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRange is returned when a window is malformed, reversed, or
// reaches beyond the lookahead horizon. It is not retryable.
var ErrInvalidRange = errors.New("invalid date range")

// ErrWindowEnded is returned when a well-formed window lies entirely before
// today. Unlike ErrInvalidRange it is the natural end of a subscription, not
// a configuration error.
var ErrWindowEnded = errors.New("travel window has ended")

const (
	layoutDay   = "2006-01-02"
	layoutMonth = "2006-01"
)

// Bound is one end of a travel window. Day == 0 means month precision.
type Bound struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseBound parses "YYYY-MM-DD" or "YYYY-MM".
func ParseBound(s string) (Bound, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(layoutDay, s); err == nil {
		return Bound{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
	}
	if t, err := time.Parse(layoutMonth, s); err == nil {
		return Bound{Year: t.Year(), Month: t.Month()}, nil
	}
	return Bound{}, fmt.Errorf("%w: cannot parse bound %q", ErrInvalidRange, s)
}

// IsMonth reports whether the bound only carries month precision.
func (b Bound) IsMonth() bool { return b.Day == 0 }

// First returns the earliest calendar day the bound denotes (UTC midnight).
func (b Bound) First() time.Time {
	if b.IsMonth() {
		return time.Date(b.Year, b.Month, 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(b.Year, b.Month, b.Day, 0, 0, 0, 0, time.UTC)
}

// Last returns the latest calendar day the bound denotes (UTC midnight).
func (b Bound) Last() time.Time {
	if b.IsMonth() {
		return monthStart(b.First()).AddDate(0, 1, -1)
	}
	return b.First()
}

// String renders the bound in the same format ParseBound accepts.
func (b Bound) String() string {
	if b.IsMonth() {
		return b.First().Format(layoutMonth)
	}
	return b.First().Format(layoutDay)
}

// Window is a travel-date window with inclusive bounds.
type Window struct {
	Start Bound
	End   Bound
}

// ParseWindow parses both bounds of a window.
func ParseWindow(start, end string) (Window, error) {
	s, err := ParseBound(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseBound(end)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: s, End: e}, nil
}

// Unit is a single month-granularity query unit. From and To are inclusive
// days inside Month; interior units span the full month.
type Unit struct {
	Month time.Time
	From  time.Time
	To    time.Time
}

// Exact reports whether the unit collapses to a single day, in which case
// the pricing API is queried with day precision.
func (u Unit) Exact() bool { return u.From.Equal(u.To) }

// Period is the departure parameter sent upstream: "YYYY-MM-DD" for exact
// units, "YYYY-MM" otherwise.
func (u Unit) Period() string {
	if u.Exact() {
		return u.From.Format(layoutDay)
	}
	return u.Month.Format(layoutMonth)
}

// Contains reports whether t's calendar date (in t's own location) lies
// within [From, To].
func (u Unit) Contains(t time.Time) bool {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return !d.Before(u.From) && !d.After(u.To)
}

func (u Unit) String() string {
	return u.From.Format(layoutDay) + ".." + u.To.Format(layoutDay)
}

// Split decomposes w into chronological, non-overlapping units, one per
// calendar month touched.
//
// The usable range is [today, today+horizon] where today is now's UTC date.
// A start before today is clipped to today; an end whose earliest day lies
// beyond the horizon is rejected, otherwise the end is clipped to the
// horizon. A reversed window or one starting beyond the horizon fails with
// ErrInvalidRange; a window that ended before today fails with
// ErrWindowEnded. A horizon <= 0 disables the upper limit.
func Split(w Window, now time.Time, horizon time.Duration) ([]Unit, error) {
	from, to := w.Start.First(), w.End.Last()
	if to.Before(from) {
		return nil, fmt.Errorf("%w: start %s is after end %s", ErrInvalidRange, w.Start, w.End)
	}

	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if to.Before(today) {
		return nil, fmt.Errorf("%w: last day %s", ErrWindowEnded, to.Format(layoutDay))
	}
	if horizon > 0 {
		limit := today.Add(horizon)
		if from.After(limit) || w.End.First().After(limit) {
			return nil, fmt.Errorf("%w: window %s..%s is beyond the %s lookahead horizon",
				ErrInvalidRange, w.Start, w.End, horizon)
		}
		if to.After(limit) {
			to = limit
		}
	}
	if from.Before(today) {
		from = today
	}

	var out []Unit
	for m := monthStart(from); !m.After(to); m = m.AddDate(0, 1, 0) {
		u := Unit{Month: m, From: m, To: m.AddDate(0, 1, -1)}
		if u.From.Before(from) {
			u.From = from
		}
		if u.To.After(to) {
			u.To = to
		}
		out = append(out, u)
	}
	return out, nil
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
