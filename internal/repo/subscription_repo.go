// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Subscription model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only
// persistence and query composition. The worker never edits a subscription's
// watch criteria; it only writes the scheduling and failure columns.
//
// Error semantics:
//   - When a subscription is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Functions:
//
//   - CreateSubscription(ctx, db, sub) -> error
//     Inserts a subscription that is due immediately.
//
//   - GetSubscription(ctx, db, id) -> *domain.Subscription, error
//
//   - FetchDue(ctx, db, now, limit) -> []domain.Subscription, error
//     Active, non-flagged subscriptions whose next_check_at is NULL or <= now.
//     Never-checked rows come first, then the most overdue.
//
//   - PersistNextCheck(ctx, db, id, next, checkedAt) -> error
//     Records a completed check and clears the failure streak.
//
//   - RecordFailure(ctx, db, id, reason, retryAt, checkedAt, maxFailures) -> (bool, error)
//     Extends the failure streak and flags the row once it reaches maxFailures.
//
//   - ListNeedsAttention(ctx, db, limit) -> []domain.Subscription, error
//
//   - ResetAttention(ctx, db, id) -> error
//     Clears the flag and failure streak and makes the row due immediately.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/flymate-worker/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// maxLastErrorLen caps the stored failure reason.
const maxLastErrorLen = 1000

// CreateSubscription inserts sub. NextCheckAt is cleared so the row is picked
// up by the next sweep.
func CreateSubscription(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	sub.NextCheckAt = nil
	return db.WithContext(ctx).Create(sub).Error
}

// GetSubscription fetches a single subscription by ID, or ErrNotFound.
func GetSubscription(ctx context.Context, db *gorm.DB, id int64) (*domain.Subscription, error) {
	var s domain.Subscription
	if err := db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// FetchDue returns up to limit subscriptions due at now. The ordering puts
// NULL next_check_at first, then ascending next_check_at, then id for
// stability. A limit <= 0 means no limit.
func FetchDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Subscription, error) {
	var out []domain.Subscription
	q := db.WithContext(ctx).
		Where("active = ? AND needs_attention = ?", true, false).
		Where("next_check_at IS NULL OR next_check_at <= ?", now.UTC()).
		Order("CASE WHEN next_check_at IS NULL THEN 0 ELSE 1 END").
		Order("next_check_at ASC").
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// PersistNextCheck stores the next due time and the completed check time,
// and resets the failure streak. Returns ErrNotFound if the row is gone.
func PersistNextCheck(ctx context.Context, db *gorm.DB, id int64, next, checkedAt time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"next_check_at":        next.UTC(),
			"last_checked_at":      checkedAt.UTC(),
			"consecutive_failures": 0,
			"last_error":           "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordFailure increments the failure streak, stores reason, and pushes
// next_check_at to retryAt. When the streak reaches maxFailures (> 0) the
// subscription is flagged as needing attention and flagged reports true.
func RecordFailure(ctx context.Context, db *gorm.DB, id int64, reason string, retryAt, checkedAt time.Time, maxFailures int) (flagged bool, err error) {
	if len(reason) > maxLastErrorLen {
		reason = reason[:maxLastErrorLen]
	}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Subscription{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"consecutive_failures": gorm.Expr("consecutive_failures + 1"),
				"last_error":           reason,
				"next_check_at":        retryAt.UTC(),
				"last_checked_at":      checkedAt.UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if maxFailures <= 0 {
			return nil
		}

		var row struct{ ConsecutiveFailures int }
		if err := tx.Model(&domain.Subscription{}).
			Select("consecutive_failures").
			Where("id = ?", id).
			Scan(&row).Error; err != nil {
			return err
		}
		if row.ConsecutiveFailures < maxFailures {
			return nil
		}
		flagged = true
		return tx.Model(&domain.Subscription{}).
			Where("id = ?", id).
			Update("needs_attention", true).Error
	})
	if err != nil {
		return false, err
	}
	return flagged, nil
}

// ListNeedsAttention returns flagged subscriptions, most recently failed
// first. A limit <= 0 means no limit.
func ListNeedsAttention(ctx context.Context, db *gorm.DB, limit int) ([]domain.Subscription, error) {
	var out []domain.Subscription
	q := db.WithContext(ctx).
		Where("needs_attention = ?", true).
		Order("last_checked_at DESC").
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ResetAttention clears the attention flag and failure streak and makes the
// subscription due immediately. Returns ErrNotFound if the row is missing.
func ResetAttention(ctx context.Context, db *gorm.DB, id int64) error {
	res := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"needs_attention":      false,
			"consecutive_failures": 0,
			"last_error":           "",
			"next_check_at":        nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
