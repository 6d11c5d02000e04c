// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for DedupRecord,
// the per-subscription memory of offers that were already notified.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/flymate-worker/internal/domain"
)

// HasSeenOffer reports whether a non-expired record exists for
// (subscriptionID, fingerprint) at now.
func HasSeenOffer(ctx context.Context, db *gorm.DB, subscriptionID int64, fingerprint string, now time.Time) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.DedupRecord{}).
		Where("subscription_id = ? AND fingerprint = ? AND expires_at > ?", subscriptionID, fingerprint, now.UTC()).
		Count(&n).Error
	return n > 0, err
}

// MarkOfferSeen upserts the record for (subscriptionID, fingerprint) with a
// fresh expiry of now+ttl. Re-marking an expired record revives it.
func MarkOfferSeen(ctx context.Context, db *gorm.DB, subscriptionID int64, fingerprint string, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	rec := &domain.DedupRecord{
		ID:             uuid.NewString(),
		SubscriptionID: subscriptionID,
		Fingerprint:    fingerprint,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subscription_id"}, {Name: "fingerprint"}},
			DoUpdates: clause.AssignmentColumns([]string{"created_at", "expires_at"}),
		}).
		Create(rec).Error
}

// PurgeExpiredDedup deletes dedup records and price marks that expired at or
// before now and returns how many rows were removed in total.
func PurgeExpiredDedup(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now.UTC()).
		Delete(&domain.DedupRecord{})
	if res.Error != nil {
		return 0, res.Error
	}
	marks := db.WithContext(ctx).
		Where("expires_at <= ?", now.UTC()).
		Delete(&domain.PriceMark{})
	return res.RowsAffected + marks.RowsAffected, marks.Error
}

// LastNotifiedPrice returns the non-expired price mark for
// (subscriptionID, day). found is false when there is none.
func LastNotifiedPrice(ctx context.Context, db *gorm.DB, subscriptionID int64, day string, now time.Time) (price float64, found bool, err error) {
	var marks []domain.PriceMark
	err = db.WithContext(ctx).
		Where("subscription_id = ? AND departure_date = ? AND expires_at > ?", subscriptionID, day, now.UTC()).
		Limit(1).
		Find(&marks).Error
	if err != nil || len(marks) == 0 {
		return 0, false, err
	}
	return marks[0].Price, true, nil
}

// RecordNotifiedPrice upserts the price mark for (subscriptionID, day) with a
// fresh expiry of now+ttl.
func RecordNotifiedPrice(ctx context.Context, db *gorm.DB, subscriptionID int64, day string, price float64, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	mark := &domain.PriceMark{
		ID:             uuid.NewString(),
		SubscriptionID: subscriptionID,
		DepartureDate:  day,
		Price:          price,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subscription_id"}, {Name: "departure_date"}},
			DoUpdates: clause.AssignmentColumns([]string{"price", "updated_at", "expires_at"}),
		}).
		Create(mark).Error
}

// DedupStore binds the dedup helpers to a database, a retention period and a
// clock, exposing them with domain types.
type DedupStore struct {
	DB  *gorm.DB
	TTL time.Duration
	Now func() time.Time
}

// NewDedupStore returns a store using the wall clock. A ttl <= 0 falls back
// to domain.DedupRetention.
func NewDedupStore(db *gorm.DB, ttl time.Duration) *DedupStore {
	if ttl <= 0 {
		ttl = domain.DedupRetention
	}
	return &DedupStore{DB: db, TTL: ttl, Now: time.Now}
}

func (s *DedupStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// HasSeen reports whether fp was already notified for the subscription.
func (s *DedupStore) HasSeen(ctx context.Context, subscriptionID int64, fp domain.Fingerprint) (bool, error) {
	return HasSeenOffer(ctx, s.DB, subscriptionID, fp.String(), s.now())
}

// MarkSeen records fp as notified for the subscription.
func (s *DedupStore) MarkSeen(ctx context.Context, subscriptionID int64, fp domain.Fingerprint) error {
	return MarkOfferSeen(ctx, s.DB, subscriptionID, fp.String(), s.now(), s.TTL)
}

// LastPrice returns the price last notified for the subscription's departure
// day.
func (s *DedupStore) LastPrice(ctx context.Context, subscriptionID int64, day string) (float64, bool, error) {
	return LastNotifiedPrice(ctx, s.DB, subscriptionID, day, s.now())
}

// RecordPrice remembers price as notified for the departure day.
func (s *DedupStore) RecordPrice(ctx context.Context, subscriptionID int64, day string, price float64) error {
	return RecordNotifiedPrice(ctx, s.DB, subscriptionID, day, price, s.now(), s.TTL)
}

// Purge removes expired records.
func (s *DedupStore) Purge(ctx context.Context) (int64, error) {
	return PurgeExpiredDedup(ctx, s.DB, s.now())
}
