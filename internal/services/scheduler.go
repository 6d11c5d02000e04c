// Package services – Scheduler
//
// The Scheduler is the worker's periodic driver. It alternates between two
// states: Idle (waiting for the next tick) and Sweeping (processing the due
// set). A sweep purges expired dedup records, reads the due subscriptions,
// and dispatches one check per subscription onto a bounded pool. Checks are
// independent: an error or panic in one never affects its siblings.
//
// Shutdown: cancelling the Run context stops new dispatches at once.
// Checks already running keep going on a detached context for up to
// DrainTimeout, and the checker itself stops only at safe checkpoints.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/flymate-worker/internal/domain"
)

// ErrSweepInProgress is returned when Sweep is called while another sweep
// of the same Scheduler is running.
var ErrSweepInProgress = errors.New("sweep already in progress")

// errDrainTimeout is the cancellation cause once the drain grace period ends.
var errDrainTimeout = errors.New("drain timeout exceeded")

// State is the scheduler's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateSweeping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSweeping:
		return "sweeping"
	default:
		return "unknown"
	}
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Due       int   // subscriptions returned by FetchDue
	Checked   int   // checks that completed without error
	Failed    int   // checks that returned an error (or panicked)
	Cancelled int   // due subscriptions never started because of shutdown
	Notified  int   // notifications delivered across all checks
	Purged    int64 // expired dedup records removed
}

// Scheduler periodically sweeps due subscriptions.
type Scheduler struct {
	// DB is the GORM handle passed to Repo.
	DB *gorm.DB
	// Repo supplies the due set.
	Repo SubscriptionRepo
	// Checker runs one subscription's cycle.
	Checker SubscriptionChecker
	// Janitor purges expired dedup records at the start of each sweep
	// (optional).
	Janitor Janitor

	Interval     time.Duration // tick period
	BatchSize    int           // max due subscriptions per sweep; <= 0 means all
	Concurrency  int           // parallel checks
	DrainTimeout time.Duration // grace for in-flight checks after shutdown

	Now func() time.Time
	Log zerolog.Logger

	state atomic.Int32
}

// NewScheduler constructs a Scheduler with production defaults.
func NewScheduler(db *gorm.DB, r SubscriptionRepo, checker SubscriptionChecker) *Scheduler {
	return &Scheduler{
		DB:           db,
		Repo:         r,
		Checker:      checker,
		Interval:     5 * time.Minute,
		BatchSize:    200,
		Concurrency:  4,
		DrainTimeout: 30 * time.Second,
		Now:          time.Now,
		Log:          log.Logger,
	}
}

// State reports whether a sweep is running.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Run sweeps immediately and then on every tick until ctx is cancelled.
// It returns nil on shutdown; a sweep failure is logged and the loop goes on.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %s", s.Interval)
	}
	s.Log.Info().
		Dur("interval", s.Interval).
		Int("batch", s.BatchSize).
		Int("concurrency", s.Concurrency).
		Msg("scheduler started")

	s.tick(ctx)

	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Log.Info().Msg("scheduler stopped")
			return nil
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	res, err := s.Sweep(ctx)
	ev := s.Log.Info()
	if err != nil {
		ev = s.Log.Error().Err(err)
	}
	ev.Int("due", res.Due).
		Int("checked", res.Checked).
		Int("failed", res.Failed).
		Int("cancelled", res.Cancelled).
		Int("notified", res.Notified).
		Int64("purged", res.Purged).
		Msg("sweep finished")
}

// Sweep performs one pass over the due set and returns when every
// dispatched check has finished.
func (s *Scheduler) Sweep(ctx context.Context) (res SweepResult, err error) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateSweeping)) {
		sweepsTotal.WithLabelValues("skipped").Inc()
		return res, ErrSweepInProgress
	}
	defer s.state.Store(int32(StateIdle))

	tr := otel.Tracer("services/Scheduler")
	ctx, span := tr.Start(ctx, "Sweep")
	start := time.Now()
	defer func() {
		sweepDuration.Observe(time.Since(start).Seconds())
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "sweep failed")
		}
		sweepsTotal.WithLabelValues(result).Inc()
		span.SetAttributes(
			attribute.Int("due", res.Due),
			attribute.Int("checked", res.Checked),
			attribute.Int("failed", res.Failed),
			attribute.Int("cancelled", res.Cancelled),
		)
		span.End()
	}()

	if err := ctx.Err(); err != nil {
		return res, err
	}

	if s.Janitor != nil {
		n, perr := s.Janitor.Purge(ctx)
		if perr != nil {
			s.Log.Warn().Err(perr).Msg("dedup purge failed")
		} else {
			res.Purged = n
			dedupPurged.Add(float64(n))
		}
	}

	due, err := s.Repo.FetchDue(ctx, s.DB, s.now(), s.BatchSize)
	if err != nil {
		return res, fmt.Errorf("fetch due: %w", err)
	}
	res.Due = len(due)
	sweepDue.Set(float64(len(due)))
	if len(due) == 0 {
		return res, nil
	}

	workCtx, release := drainContext(ctx, s.DrainTimeout)
	defer release()

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	cancelled := func() {
		mu.Lock()
		res.Cancelled++
		mu.Unlock()
	}
	g.SetLimit(max(1, s.Concurrency))
	for _, sub := range due {
		if ctx.Err() != nil {
			cancelled()
			continue
		}
		g.Go(func() error {
			// A slot may free up only after shutdown began.
			if ctx.Err() != nil {
				cancelled()
				return nil
			}
			r, cerr := s.checkOne(workCtx, sub)
			mu.Lock()
			defer mu.Unlock()
			res.Notified += r.Notified
			if cerr != nil {
				res.Failed++
			} else {
				res.Checked++
			}
			return nil
		})
	}
	_ = g.Wait()
	return res, nil
}

// checkOne runs a single check, converting panics into errors so one bad
// subscription cannot take the sweep down.
func (s *Scheduler) checkOne(ctx context.Context, sub domain.Subscription) (res CheckResult, err error) {
	checksInflight.Inc()
	defer checksInflight.Dec()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("check panicked: %v", r)
			s.Log.Error().Int64("sub_id", sub.ID).Interface("panic", r).Msg("check panicked")
		}
	}()

	res, err = s.Checker.Check(ctx, sub)
	if err != nil {
		var ev *zerolog.Event
		switch {
		case errors.Is(err, ErrInvalidRange):
			ev = s.Log.Warn()
		case errors.Is(err, ErrCheckInterrupted):
			ev = s.Log.Info()
		default:
			ev = s.Log.Error()
		}
		ev.Err(err).Int64("sub_id", sub.ID).Str("outcome", res.Outcome).Msg("check failed")
	}
	return res, err
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// drainContext returns a context for in-flight work that ignores parent's
// cancellation for up to grace, then is cancelled too. A grace <= 0 cancels
// it together with parent. The returned func releases resources.
func drainContext(parent context.Context, grace time.Duration) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(context.WithoutCancel(parent))
	var timer *time.Timer
	var mu sync.Mutex
	stop := context.AfterFunc(parent, func() {
		if grace <= 0 {
			cancel(context.Cause(parent))
			return
		}
		mu.Lock()
		timer = time.AfterFunc(grace, func() { cancel(errDrainTimeout) })
		mu.Unlock()
	})
	return ctx, func() {
		stop()
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		cancel(context.Canceled)
	}
}
