package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/flymate-worker/internal/domain"
	"github.com/tbourn/flymate-worker/internal/pricing"
)

// SubscriptionRepo defines the repository contract required by the checker
// and the scheduler. It is the worker's only view of subscription storage;
// due sets are re-read every sweep and never cached.
type SubscriptionRepo interface {
	// FetchDue returns up to limit active, non-flagged subscriptions whose
	// next check time is unset or not after now.
	FetchDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Subscription, error)

	// PersistNextCheck stores the next due time and clears the failure streak.
	PersistNextCheck(ctx context.Context, db *gorm.DB, id int64, next, checkedAt time.Time) error

	// RecordFailure extends the failure streak and reports whether the
	// subscription is now flagged for operator attention.
	RecordFailure(ctx context.Context, db *gorm.DB, id int64, reason string, retryAt, checkedAt time.Time, maxFailures int) (bool, error)
}

// PriceFetcher performs one pricing lookup for one (route, unit).
type PriceFetcher interface {
	Fetch(ctx context.Context, req pricing.Request) ([]domain.Offer, error)
}

// DedupStore is the per-subscription memory of notified offers.
type DedupStore interface {
	HasSeen(ctx context.Context, subscriptionID int64, fp domain.Fingerprint) (bool, error)
	MarkSeen(ctx context.Context, subscriptionID int64, fp domain.Fingerprint) error
}

// PriceHistory remembers the lowest price notified per subscription and
// departure day. It only enriches messages; dedup decides what is sent.
type PriceHistory interface {
	LastPrice(ctx context.Context, subscriptionID int64, day string) (float64, bool, error)
	RecordPrice(ctx context.Context, subscriptionID int64, day string, price float64) error
}

// Notifier delivers one offer to the subscription's owner.
type Notifier interface {
	Notify(ctx context.Context, sub domain.Subscription, n domain.Notice) error
}

// Janitor removes expired dedup records.
type Janitor interface {
	Purge(ctx context.Context) (int64, error)
}

// SubscriptionChecker runs one check cycle. *Checker implements it.
type SubscriptionChecker interface {
	Check(ctx context.Context, sub domain.Subscription) (CheckResult, error)
}
