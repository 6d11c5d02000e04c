// Package services – Checker
//
// This file implements one check cycle for one subscription:
//
//  1. inactive subscriptions are skipped without any write;
//  2. the travel window is split into month units (invalid windows are
//     recorded as failures and eventually flagged for an operator; a window
//     that has simply ended is rescheduled without a lookup or a failure);
//  3. units are fetched concurrently (bounded), and a failed unit is logged
//     and skipped while the other units still count;
//  4. offers are filtered by budget (inclusive), directness, currency and the
//     unit's clipped departure window, optionally collapsed to the cheapest
//     per departure day, and ordered cheapest first;
//  5. every candidate is looked up in the dedup store before anything is
//     sent, so a store outage aborts the cycle with zero notifications;
//  6. new offers are delivered (up to a per-cycle cap) and each delivered
//     offer is marked seen right after its notification; the message says
//     whether the day's price dropped since the last notification;
//  7. next_check_at advances to max(now, previous) + interval.
//
// Shutdown is honored only at safe checkpoints: after the fetch phase and
// between notification/mark-seen pairs, never inside a pair.
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/flymate-worker/internal/daterange"
	"github.com/tbourn/flymate-worker/internal/domain"
	"github.com/tbourn/flymate-worker/internal/pricing"
)

// Check outcomes, used as result values and metric labels.
const (
	OutcomeSkipped          = "skipped"
	OutcomeChecked          = "checked"
	OutcomeInvalidRange     = "invalid_range"
	OutcomeWindowEnded      = "window_ended"
	OutcomeDedupUnavailable = "dedup_unavailable"
	OutcomeInterrupted      = "interrupted"
	OutcomeError            = "error"
)

// CheckResult summarizes one cycle.
type CheckResult struct {
	SubscriptionID int64
	Outcome        string

	Units       int // query units produced by the splitter
	UnitsFailed int // units whose pricing call failed

	Offers       int // offers inside their unit's window
	Qualified    int // after budget/directness/currency filters and collapsing
	New          int // qualified and not seen before
	Notified     int
	Drops        int // notified offers cheaper than the day's last notified price
	NotifyFailed int
	Deferred     int // new offers left for a later cycle (cap or shutdown)

	Flagged     bool      // subscription now needs operator attention
	NextCheckAt time.Time // zero when nothing was rescheduled
}

// Checker runs check cycles. Configure it once and share it between
// goroutines; it holds no per-check state.
type Checker struct {
	// DB is the GORM handle passed to Repo.
	DB *gorm.DB
	// Repo persists scheduling and failure bookkeeping.
	Repo SubscriptionRepo

	Prices   PriceFetcher
	Dedup    DedupStore
	Notifier Notifier
	// History annotates notices with the day's previous price; nil disables it.
	History PriceHistory

	// Now returns the current time (injectable for tests).
	Now func() time.Time
	Log zerolog.Logger

	// Horizon caps how far ahead windows may reach.
	Horizon time.Duration
	// DefaultInterval applies to subscriptions without their own interval.
	DefaultInterval time.Duration
	// UnitConcurrency bounds parallel pricing calls within one check.
	UnitConcurrency int
	// MaxNotifications caps delivery attempts per cycle; <= 0 means no cap.
	MaxNotifications int
	// MaxFailures is the consecutive invalid-range count that flags a
	// subscription; <= 0 never flags.
	MaxFailures int
	// BestPerDay keeps only the cheapest qualifying offer per departure day.
	BestPerDay bool
}

// NewChecker constructs a Checker with production defaults.
func NewChecker(db *gorm.DB, r SubscriptionRepo, prices PriceFetcher, dedup DedupStore, n Notifier) *Checker {
	return &Checker{
		DB:               db,
		Repo:             r,
		Prices:           prices,
		Dedup:            dedup,
		Notifier:         n,
		Now:              time.Now,
		Log:              log.Logger,
		Horizon:          365 * 24 * time.Hour,
		DefaultInterval:  5 * time.Minute,
		UnitConcurrency:  3,
		MaxNotifications: 10,
		MaxFailures:      3,
		BestPerDay:       true,
	}
}

// NextCheck returns max(now, prev) + interval, which keeps next_check_at
// non-decreasing and at least one interval past the previous value.
func NextCheck(now time.Time, prev *time.Time, interval time.Duration) time.Time {
	base := now
	if prev != nil && prev.After(now) {
		base = *prev
	}
	return base.Add(interval)
}

// candidate is a qualifying offer with its precomputed fingerprint.
type candidate struct {
	offer domain.Offer
	fp    domain.Fingerprint
}

// Check runs one cycle for sub. See the file comment for the steps.
//
// Errors:
//   - ErrInvalidRange: failure recorded, subscription retried after its
//     interval and flagged once MaxFailures is reached.
//   - ErrDedupUnavailable: no (further) notifications, not rescheduled.
//   - ErrCheckInterrupted: ctx was cancelled between safe checkpoints.
//   - other: rescheduling could not be persisted.
func (c *Checker) Check(ctx context.Context, sub domain.Subscription) (res CheckResult, err error) {
	tr := otel.Tracer("services/Checker")
	ctx, span := tr.Start(ctx, "Check",
		trace.WithAttributes(
			attribute.Int64("subscription.id", sub.ID),
			attribute.String("route", sub.Route()),
		),
	)
	res.SubscriptionID = sub.ID
	defer func() {
		checksTotal.WithLabelValues(res.Outcome).Inc()
		span.SetAttributes(
			attribute.String("outcome", res.Outcome),
			attribute.Int("units", res.Units),
			attribute.Int("notified", res.Notified),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, res.Outcome)
		}
		span.End()
	}()

	if !sub.Active {
		res.Outcome = OutcomeSkipped
		return res, nil
	}

	lg := c.Log.With().Int64("sub_id", sub.ID).Str("route", sub.Route()).Logger()
	now := c.now()
	next := NextCheck(now, sub.NextCheckAt, sub.Interval(c.defaultInterval()))

	units, err := c.split(sub, now)
	if errors.Is(err, daterange.ErrWindowEnded) {
		res.Outcome = OutcomeWindowEnded
		if perr := c.Repo.PersistNextCheck(context.WithoutCancel(ctx), c.DB, sub.ID, next, now); perr != nil {
			res.Outcome = OutcomeError
			return res, fmt.Errorf("subscription %d: persist next check: %w", sub.ID, perr)
		}
		res.NextCheckAt = next
		lg.Debug().Err(err).Msg("travel window has ended; nothing to check")
		return res, nil
	}
	if err != nil {
		res.Outcome = OutcomeInvalidRange
		res.Flagged = c.recordInvalid(ctx, sub, err, next, now, lg)
		return res, fmt.Errorf("subscription %d: %w", sub.ID, err)
	}
	res.Units = len(units)

	offers, failed := c.fetch(ctx, sub, units, lg)
	res.UnitsFailed = failed
	res.Offers = len(offers)
	offersTotal.WithLabelValues("fetched").Add(float64(len(offers)))
	if ctx.Err() != nil {
		res.Outcome = OutcomeInterrupted
		return res, fmt.Errorf("subscription %d: %w", sub.ID, ErrCheckInterrupted)
	}

	cands := c.qualify(sub, offers)
	res.Qualified = len(cands)
	offersTotal.WithLabelValues("qualified").Add(float64(len(cands)))

	fresh, err := c.unseen(ctx, sub.ID, cands)
	if err != nil {
		if ctx.Err() != nil {
			res.Outcome = OutcomeInterrupted
			return res, fmt.Errorf("subscription %d: %w", sub.ID, ErrCheckInterrupted)
		}
		res.Outcome = OutcomeDedupUnavailable
		lg.Error().Err(err).Int("candidates", len(cands)).Msg("dedup lookup failed; nothing sent")
		return res, fmt.Errorf("subscription %d: %w: %w", sub.ID, ErrDedupUnavailable, err)
	}
	res.New = len(fresh)
	offersTotal.WithLabelValues("new").Add(float64(len(fresh)))

	if err := c.deliver(ctx, sub, fresh, &res, lg); err != nil {
		if errors.Is(err, ErrDedupUnavailable) {
			res.Outcome = OutcomeDedupUnavailable
			lg.Error().Err(err).Int("notified", res.Notified).Msg("dedup mark failed; cycle aborted")
		} else {
			res.Outcome = OutcomeInterrupted
			lg.Info().Int("notified", res.Notified).Int("deferred", res.Deferred).Msg("check interrupted by shutdown")
		}
		return res, fmt.Errorf("subscription %d: %w", sub.ID, err)
	}

	// The cycle is complete; persist even if shutdown started meanwhile.
	if err := c.Repo.PersistNextCheck(context.WithoutCancel(ctx), c.DB, sub.ID, next, now); err != nil {
		res.Outcome = OutcomeError
		lg.Error().Err(err).Msg("persist next check failed")
		return res, fmt.Errorf("subscription %d: persist next check: %w", sub.ID, err)
	}
	res.Outcome = OutcomeChecked
	res.NextCheckAt = next

	lg.Info().
		Int("units", res.Units).
		Int("units_failed", res.UnitsFailed).
		Int("offers", res.Offers).
		Int("qualified", res.Qualified).
		Int("new", res.New).
		Int("notified", res.Notified).
		Int("drops", res.Drops).
		Int("deferred", res.Deferred).
		Time("next_check_at", next).
		Msg("check complete")
	return res, nil
}

func (c *Checker) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Checker) defaultInterval() time.Duration {
	if c.DefaultInterval > 0 {
		return c.DefaultInterval
	}
	return 5 * time.Minute
}

func (c *Checker) split(sub domain.Subscription, now time.Time) ([]daterange.Unit, error) {
	w, err := sub.Window()
	if err != nil {
		return nil, err
	}
	return daterange.Split(w, now, c.Horizon)
}

// recordInvalid stores the failure and reports whether the subscription is
// now flagged. Storage errors are logged; the cycle's error stays
// ErrInvalidRange.
func (c *Checker) recordInvalid(ctx context.Context, sub domain.Subscription, cause error, retryAt, now time.Time, lg zerolog.Logger) bool {
	flagged, err := c.Repo.RecordFailure(context.WithoutCancel(ctx), c.DB, sub.ID, cause.Error(), retryAt, now, c.MaxFailures)
	if err != nil {
		lg.Error().Err(err).Msg("record failure")
		return false
	}
	if flagged {
		flaggedTotal.Inc()
		lg.Error().Err(cause).Int("max_failures", c.MaxFailures).Msg("subscription needs operator attention")
	} else {
		lg.Warn().Err(cause).Msg("invalid travel window")
	}
	return flagged
}

// fetch queries every unit with bounded concurrency and returns the offers
// that depart inside their unit, in unit order. Failed units are logged and
// counted, never fatal.
func (c *Checker) fetch(ctx context.Context, sub domain.Subscription, units []daterange.Unit, lg zerolog.Logger) ([]domain.Offer, int) {
	results := make([][]domain.Offer, len(units))
	errs := make([]error, len(units))

	var g errgroup.Group
	g.SetLimit(max(1, c.UnitConcurrency))
	for i, u := range units {
		g.Go(func() error {
			offers, err := c.Prices.Fetch(ctx, pricing.Request{
				Origin:      sub.Origin,
				Destination: sub.Destination,
				Unit:        u,
				Currency:    sub.CurrencyCode(),
				DirectOnly:  sub.DirectOnly(),
			})
			if err != nil {
				errs[i] = err
				return nil
			}
			kept := make([]domain.Offer, 0, len(offers))
			for _, o := range offers {
				if u.Contains(o.DepartureAt) {
					kept = append(kept, o)
				}
			}
			results[i] = kept
			return nil
		})
	}
	_ = g.Wait()

	var (
		all    []domain.Offer
		failed int
	)
	for i, u := range units {
		if err := errs[i]; err != nil {
			failed++
			lg.Warn().
				Err(err).
				Str("unit", u.String()).
				Bool("rate_limited", errors.Is(err, pricing.ErrRateLimited)).
				Msg("pricing lookup failed; skipping unit")
			continue
		}
		all = append(all, results[i]...)
	}
	if failed == len(units) && failed > 0 {
		lg.Warn().Int("units", failed).Msg("all units failed; treating as no new offers")
	}
	return all, failed
}

// qualify applies the subscription's filters, optionally collapses to the
// cheapest offer per day, orders cheapest first, and drops duplicate
// fingerprints within the cycle.
func (c *Checker) qualify(sub domain.Subscription, offers []domain.Offer) []candidate {
	currency := sub.CurrencyCode()
	directOnly := sub.DirectOnly()

	kept := make([]domain.Offer, 0, len(offers))
	for _, o := range offers {
		if o.Price > sub.MaxPrice {
			continue
		}
		if directOnly && !o.Direct() {
			continue
		}
		if o.Currency != "" && !strings.EqualFold(o.Currency, currency) {
			continue
		}
		kept = append(kept, o)
	}
	if c.BestPerDay {
		kept = cheapestPerDay(kept)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Price != kept[j].Price {
			return kept[i].Price < kept[j].Price
		}
		return kept[i].DepartureAt.Before(kept[j].DepartureAt)
	})

	seen := make(map[domain.Fingerprint]struct{}, len(kept))
	out := make([]candidate, 0, len(kept))
	for _, o := range kept {
		fp := o.Fingerprint()
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, candidate{offer: o, fp: fp})
	}
	return out
}

// cheapestPerDay keeps the lowest-priced offer for each departure date.
// Ties keep the first offer; output follows first appearance of each date.
func cheapestPerDay(offers []domain.Offer) []domain.Offer {
	idx := make(map[string]int, len(offers))
	out := make([]domain.Offer, 0, len(offers))
	for _, o := range offers {
		day := o.DepartureDate()
		if i, ok := idx[day]; ok {
			if o.Price < out[i].Price {
				out[i] = o
			}
			continue
		}
		idx[day] = len(out)
		out = append(out, o)
	}
	return out
}

// unseen returns the candidates not yet notified. Any lookup error aborts.
func (c *Checker) unseen(ctx context.Context, subID int64, cands []candidate) ([]candidate, error) {
	out := make([]candidate, 0, len(cands))
	for _, cd := range cands {
		seen, err := c.Dedup.HasSeen(ctx, subID, cd.fp)
		if err != nil {
			return nil, err
		}
		if !seen {
			out = append(out, cd)
		}
	}
	return out, nil
}

// deliver sends fresh offers cheapest first. Each notify/mark-seen pair runs
// without cancellation; ctx is consulted only between pairs. A failed
// notification leaves the offer unmarked for the next cycle.
func (c *Checker) deliver(ctx context.Context, sub domain.Subscription, fresh []candidate, res *CheckResult, lg zerolog.Logger) error {
	limit := len(fresh)
	if c.MaxNotifications > 0 && limit > c.MaxNotifications {
		limit = c.MaxNotifications
		res.Deferred = len(fresh) - limit
		lg.Info().Int("cap", c.MaxNotifications).Int("deferred", res.Deferred).Msg("notification cap reached")
	}

	pairCtx := context.WithoutCancel(ctx)
	for i, cd := range fresh[:limit] {
		if ctx.Err() != nil {
			res.Deferred += limit - i
			return ErrCheckInterrupted
		}
		notice := c.notice(pairCtx, sub.ID, cd.offer, lg)
		if err := c.Notifier.Notify(pairCtx, sub, notice); err != nil {
			res.NotifyFailed++
			notificationsTotal.WithLabelValues("failed").Inc()
			lg.Warn().Err(err).Str("departure", cd.offer.DepartureDate()).Float64("price", cd.offer.Price).Msg("notification failed; will retry next cycle")
			continue
		}
		res.Notified++
		notificationsTotal.WithLabelValues("sent").Inc()
		if err := c.Dedup.MarkSeen(pairCtx, sub.ID, cd.fp); err != nil {
			return fmt.Errorf("%w: %w", ErrDedupUnavailable, err)
		}
		if notice.Trend == domain.TrendDrop {
			res.Drops++
		}
		c.rememberPrice(pairCtx, sub.ID, notice, lg)
	}
	return nil
}

// notice looks up the day's previous price. A failed lookup degrades to a
// notice without history; it never blocks delivery.
func (c *Checker) notice(ctx context.Context, subID int64, o domain.Offer, lg zerolog.Logger) domain.Notice {
	if c.History == nil {
		return domain.Notice{Offer: o}
	}
	prev, found, err := c.History.LastPrice(ctx, subID, o.DepartureDate())
	if err != nil {
		lg.Warn().Err(err).Str("departure", o.DepartureDate()).Msg("price history lookup failed")
		return domain.Notice{Offer: o}
	}
	return domain.NewNotice(o, prev, found)
}

// rememberPrice keeps the lowest notified price per day, so a later drop is
// measured against the best price the user has already seen.
func (c *Checker) rememberPrice(ctx context.Context, subID int64, n domain.Notice, lg zerolog.Logger) {
	if c.History == nil || (n.Trend != domain.TrendNew && n.Trend != domain.TrendDrop) {
		return
	}
	if err := c.History.RecordPrice(ctx, subID, n.Offer.DepartureDate(), n.Offer.Price); err != nil {
		lg.Warn().Err(err).Str("departure", n.Offer.DepartureDate()).Msg("price history update failed")
	}
}
