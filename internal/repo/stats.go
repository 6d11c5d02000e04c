// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// by the ops API and the worker's gauges. Each function is context-aware and
// safe to call from services or handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/flymate-worker/internal/domain"
)

// CollectStats counts subscriptions by state and live dedup records at now.
//
// Return values:
//   - Due:            rows FetchDue would return with no limit
//   - LastCheckedAt:  greatest last_checked_at, or nil if nothing was checked
func CollectStats(ctx context.Context, db *gorm.DB, now time.Time) (domain.SubscriptionStats, error) {
	var st domain.SubscriptionStats
	now = now.UTC()
	base := func() *gorm.DB { return db.WithContext(ctx).Model(&domain.Subscription{}) }

	if err := base().Count(&st.Total).Error; err != nil {
		return domain.SubscriptionStats{}, err
	}
	if st.Total == 0 {
		return st, nil
	}
	if err := base().Where("active = ?", true).Count(&st.Active).Error; err != nil {
		return domain.SubscriptionStats{}, err
	}
	if err := base().
		Where("active = ? AND needs_attention = ?", true, false).
		Where("next_check_at IS NULL OR next_check_at <= ?", now).
		Count(&st.Due).Error; err != nil {
		return domain.SubscriptionStats{}, err
	}
	if err := base().Where("needs_attention = ?", true).Count(&st.NeedsAttention).Error; err != nil {
		return domain.SubscriptionStats{}, err
	}
	if err := db.WithContext(ctx).
		Model(&domain.DedupRecord{}).
		Where("expires_at > ?", now).
		Count(&st.DedupRecords).Error; err != nil {
		return domain.SubscriptionStats{}, err
	}

	// Latest last_checked_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		LastCheckedAt *time.Time
	}
	if err := base().
		Select("last_checked_at").
		Where("last_checked_at IS NOT NULL").
		Order("last_checked_at DESC").
		Limit(1).
		Scan(&row).Error; err != nil {
		return domain.SubscriptionStats{}, err
	}
	st.LastCheckedAt = row.LastCheckedAt
	return st, nil
}
