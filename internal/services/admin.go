// Package services – AdminService
//
// AdminService backs the ops API. It lets an operator list subscriptions
// flagged after repeated non-retryable failures, reset one so the scheduler
// picks it up on the next sweep, and read aggregate counters.
package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/flymate-worker/internal/domain"
)

// AdminRepo defines the repository contract required by AdminService.
type AdminRepo interface {
	ListNeedsAttention(ctx context.Context, db *gorm.DB, limit int) ([]domain.Subscription, error)
	ResetAttention(ctx context.Context, db *gorm.DB, id int64) error
	CollectStats(ctx context.Context, db *gorm.DB, now time.Time) (domain.SubscriptionStats, error)
}

// AdminService is the operator-facing service.
type AdminService struct {
	DB   *gorm.DB
	Repo AdminRepo
	Now  func() time.Time

	// AttentionLimit is the NeedsAttention page size when the caller passes
	// no limit; <= 0 means 100.
	AttentionLimit int
}

// NewAdminService constructs an AdminService.
func NewAdminService(db *gorm.DB, r AdminRepo) *AdminService {
	return &AdminService{DB: db, Repo: r, Now: time.Now, AttentionLimit: 100}
}

// NeedsAttention lists up to limit flagged subscriptions, most recently
// checked first. limit <= 0 selects AttentionLimit.
func (s *AdminService) NeedsAttention(ctx context.Context, limit int) ([]domain.Subscription, error) {
	tr := otel.Tracer("services/AdminService")
	ctx, span := tr.Start(ctx, "NeedsAttention")
	defer span.End()

	if limit <= 0 {
		limit = s.AttentionLimit
	}
	if limit <= 0 {
		limit = 100
	}
	subs, err := s.Repo.ListNeedsAttention(ctx, s.DB, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("count", len(subs)))
	return subs, nil
}

// Reset clears the attention flag and failure streak of one subscription
// and makes it due immediately.
//
// Errors:
//   - ErrSubscriptionNotFound if id does not exist.
func (s *AdminService) Reset(ctx context.Context, id int64) error {
	tr := otel.Tracer("services/AdminService")
	ctx, span := tr.Start(ctx, "Reset",
		trace.WithAttributes(attribute.Int64("subscription.id", id)),
	)
	defer span.End()

	if err := s.Repo.ResetAttention(ctx, s.DB, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSubscriptionNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "reset failed")
		return err
	}
	return nil
}

// Stats returns aggregate subscription and dedup counters.
func (s *AdminService) Stats(ctx context.Context) (domain.SubscriptionStats, error) {
	tr := otel.Tracer("services/AdminService")
	ctx, span := tr.Start(ctx, "Stats")
	defer span.End()

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	st, err := s.Repo.CollectStats(ctx, s.DB, now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stats failed")
		return domain.SubscriptionStats{}, err
	}
	return st, nil
}
