// Package domain defines the persistence models and value types shared by the
// repository and service layers of the price-watch worker. GORM-mapped types
// carry their schema in struct tags.
package domain

import (
	"strings"
	"time"

	"github.com/tbourn/flymate-worker/internal/daterange"
)

// DefaultCurrency is used when a subscription carries no currency code.
const DefaultCurrency = "RUB"

// Subscription is a user's watch criteria for one route and travel window.
// The conversational UI owns creation and editing; the worker reads the
// criteria and writes only the scheduling and failure bookkeeping columns.
//
// Fields:
//   - UserID: notification recipient (Telegram chat id).
//   - RangeFrom / RangeTo: "YYYY-MM-DD" or "YYYY-MM" window bounds.
//   - Direct: nil means no preference, true requires non-stop flights.
//   - MaxPrice: inclusive budget in Currency.
//   - NextCheckAt: nil means due immediately.
//   - NeedsAttention: set after repeated non-retryable failures; such
//     subscriptions are skipped until an operator resets them.
type Subscription struct {
	ID                   int64      `json:"id"                     gorm:"primaryKey;autoIncrement"`
	UserID               int64      `json:"user_id"                gorm:"not null;index:idx_subs_user"`
	Origin               string     `json:"origin"                 gorm:"type:varchar(8);not null"`
	Destination          string     `json:"destination"            gorm:"type:varchar(8);not null"`
	RangeFrom            string     `json:"range_from"             gorm:"type:varchar(10);not null"`
	RangeTo              string     `json:"range_to"               gorm:"type:varchar(10);not null"`
	Direct               *bool      `json:"direct,omitempty"`
	MaxPrice             float64    `json:"max_price"              gorm:"type:decimal(12,2);not null"`
	Currency             string     `json:"currency"               gorm:"type:char(3);not null"`
	CheckIntervalMinutes int        `json:"check_interval_minutes" gorm:"not null;default:5"`
	Active               bool       `json:"active"                 gorm:"not null;index:idx_subs_due,priority:1"`
	NeedsAttention       bool       `json:"needs_attention"        gorm:"not null;default:false;index:idx_subs_due,priority:2"`
	ConsecutiveFailures  int        `json:"consecutive_failures"   gorm:"not null;default:0"`
	LastError            string     `json:"last_error,omitempty"   gorm:"type:text"`
	NextCheckAt          *time.Time `json:"next_check_at,omitempty" gorm:"index:idx_subs_due,priority:3"`
	LastCheckedAt        *time.Time `json:"last_checked_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Subscription.
func (Subscription) TableName() string { return "flight_subscriptions" }

// Window parses the travel-date window. Parse failures wrap
// daterange.ErrInvalidRange.
func (s Subscription) Window() (daterange.Window, error) {
	return daterange.ParseWindow(s.RangeFrom, s.RangeTo)
}

// Interval returns the check interval, falling back to def when unset.
func (s Subscription) Interval(def time.Duration) time.Duration {
	if s.CheckIntervalMinutes > 0 {
		return time.Duration(s.CheckIntervalMinutes) * time.Minute
	}
	return def
}

// DirectOnly reports whether only non-stop flights qualify.
func (s Subscription) DirectOnly() bool { return s.Direct != nil && *s.Direct }

// CurrencyCode returns the upper-cased currency, or DefaultCurrency.
func (s Subscription) CurrencyCode() string {
	if c := strings.ToUpper(strings.TrimSpace(s.Currency)); c != "" {
		return c
	}
	return DefaultCurrency
}

// Route renders "ORIGIN→DESTINATION" for logs and messages.
func (s Subscription) Route() string { return s.Origin + "→" + s.Destination }

// SubscriptionStats is a point-in-time summary of subscription and dedup
// state, served by the ops API.
type SubscriptionStats struct {
	Total          int64      `json:"total"`
	Active         int64      `json:"active"`
	Due            int64      `json:"due"`
	NeedsAttention int64      `json:"needs_attention"`
	DedupRecords   int64      `json:"dedup_records"`
	LastCheckedAt  *time.Time `json:"last_checked_at,omitempty"`
}
