// Package worker assembles the price-watch pipeline from configuration: the
// pricing client, the Telegram notifier, the dedup store, the checker and the
// scheduler that drives them.
package worker

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/tbourn/flymate-worker/internal/config"
	"github.com/tbourn/flymate-worker/internal/domain"
	"github.com/tbourn/flymate-worker/internal/notify"
	"github.com/tbourn/flymate-worker/internal/pricing"
	"github.com/tbourn/flymate-worker/internal/repo"
	"github.com/tbourn/flymate-worker/internal/services"
)

// subscriptionRepoShim adapts the repository free functions to
// services.SubscriptionRepo.
type subscriptionRepoShim struct{}

func (subscriptionRepoShim) FetchDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Subscription, error) {
	return repo.FetchDue(ctx, db, now, limit)
}

func (subscriptionRepoShim) PersistNextCheck(ctx context.Context, db *gorm.DB, id int64, next, checkedAt time.Time) error {
	return repo.PersistNextCheck(ctx, db, id, next, checkedAt)
}

func (subscriptionRepoShim) RecordFailure(ctx context.Context, db *gorm.DB, id int64, reason string, retryAt, checkedAt time.Time, maxFailures int) (bool, error) {
	return repo.RecordFailure(ctx, db, id, reason, retryAt, checkedAt, maxFailures)
}

// Worker owns the assembled pipeline.
type Worker struct {
	Scheduler *services.Scheduler
	Checker   *services.Checker
	Dedup     *repo.DedupStore
}

// Option customizes assembly.
type Option func(*options)

type options struct {
	httpClient *http.Client
	now        func() time.Time
}

// WithHTTPClient routes pricing and Telegram traffic through c.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithClock replaces time.Now in the checker, scheduler and dedup store.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New wires the pipeline for db according to cfg.
func New(db *gorm.DB, cfg config.Config, logger zerolog.Logger, opts ...Option) *Worker {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	prices := pricing.New(pricing.Config{
		BaseURL:    cfg.Pricing.BaseURL,
		Token:      cfg.Pricing.Token,
		Timeout:    cfg.Pricing.Timeout,
		PageLimit:  cfg.Pricing.PageLimit,
		Limiter:    rate.NewLimiter(rate.Limit(cfg.Pricing.RPS), cfg.Pricing.Burst),
		HTTPClient: o.httpClient,
	})

	tg := notify.NewTelegram(notify.TelegramConfig{
		BaseURL:    cfg.Telegram.BaseURL,
		Token:      cfg.Telegram.Token,
		Timeout:    cfg.Telegram.Timeout,
		Formatter:  notify.Formatter{Locale: parseLocale(cfg.Telegram.Locale, logger)},
		HTTPClient: o.httpClient,
	})

	dedup := repo.NewDedupStore(db, cfg.Worker.DedupTTL)
	dedup.Now = o.now

	w := cfg.Worker
	checker := services.NewChecker(db, subscriptionRepoShim{}, prices, dedup, tg)
	checker.History = dedup
	checker.Now = o.now
	checker.Log = logger.With().Str("component", "checker").Logger()
	checker.Horizon = w.LookaheadHorizon
	checker.DefaultInterval = w.DefaultCheckInterval
	checker.UnitConcurrency = w.UnitConcurrency
	checker.MaxNotifications = w.MaxNotificationsPerRun
	checker.MaxFailures = w.MaxConsecutiveFailures
	checker.BestPerDay = w.BestPerDay

	sched := services.NewScheduler(db, subscriptionRepoShim{}, checker)
	sched.Janitor = dedup
	sched.Interval = w.SweepInterval
	sched.BatchSize = w.SweepBatch
	sched.Concurrency = w.Concurrency
	sched.DrainTimeout = w.ShutdownTimeout
	sched.Now = o.now
	sched.Log = logger.With().Str("component", "scheduler").Logger()

	return &Worker{Scheduler: sched, Checker: checker, Dedup: dedup}
}

// Run drives the scheduler until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error { return w.Scheduler.Run(ctx) }

// RunOnce performs a single sweep.
func (w *Worker) RunOnce(ctx context.Context) (services.SweepResult, error) {
	return w.Scheduler.Sweep(ctx)
}

func parseLocale(tag string, logger zerolog.Logger) language.Tag {
	if tag == "" {
		return language.English
	}
	t, err := language.Parse(tag)
	if err != nil {
		logger.Warn().Err(err).Str("locale", tag).Msg("invalid locale, using English")
		return language.English
	}
	return t
}
