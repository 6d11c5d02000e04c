package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/flymate-worker/internal/domain"
	"github.com/tbourn/flymate-worker/internal/pricing"
)

// ----- Fake subscription repo -----

type failureCall struct {
	id          int64
	reason      string
	retryAt     time.Time
	maxFailures int
}

type fakeSubRepo struct {
	mu sync.Mutex

	due      []domain.Subscription
	dueErr   error
	dueNow   time.Time
	dueLimit int

	persisted  map[int64]time.Time
	persistErr error

	failures []failureCall
	streak   map[int64]int
	failErr  error
}

func newFakeSubRepo() *fakeSubRepo {
	return &fakeSubRepo{persisted: map[int64]time.Time{}, streak: map[int64]int{}}
}

func (r *fakeSubRepo) FetchDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dueNow, r.dueLimit = now, limit
	return r.due, r.dueErr
}

func (r *fakeSubRepo) PersistNextCheck(ctx context.Context, db *gorm.DB, id int64, next, checkedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.persistErr != nil {
		return r.persistErr
	}
	r.persisted[id] = next
	r.streak[id] = 0
	return nil
}

func (r *fakeSubRepo) RecordFailure(ctx context.Context, db *gorm.DB, id int64, reason string, retryAt, checkedAt time.Time, maxFailures int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return false, r.failErr
	}
	r.failures = append(r.failures, failureCall{id: id, reason: reason, retryAt: retryAt, maxFailures: maxFailures})
	r.streak[id]++
	return maxFailures > 0 && r.streak[id] >= maxFailures, nil
}

func (r *fakeSubRepo) persistedAt(id int64) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.persisted[id]
	return t, ok
}

// ----- Fake price fetcher -----

type fakePrices struct {
	mu sync.Mutex

	// byPeriod maps Unit.Period() to the offers returned for it.
	byPeriod map[string][]domain.Offer
	errs     map[string]error
	// all, when set, fails every call.
	all error

	requests []pricing.Request
}

func (p *fakePrices) Fetch(ctx context.Context, req pricing.Request) ([]domain.Offer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.all != nil {
		return nil, p.all
	}
	if err := p.errs[req.Unit.Period()]; err != nil {
		return nil, err
	}
	return p.byPeriod[req.Unit.Period()], nil
}

func (p *fakePrices) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// ----- Fake dedup store -----

type fakeDedup struct {
	mu sync.Mutex

	seen    map[int64]map[domain.Fingerprint]bool
	hasErr  error
	markErr error
	marks   int
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{seen: map[int64]map[domain.Fingerprint]bool{}}
}

func (d *fakeDedup) HasSeen(ctx context.Context, subID int64, fp domain.Fingerprint) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hasErr != nil {
		return false, d.hasErr
	}
	return d.seen[subID][fp], nil
}

func (d *fakeDedup) MarkSeen(ctx context.Context, subID int64, fp domain.Fingerprint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.markErr != nil {
		return d.markErr
	}
	if d.seen[subID] == nil {
		d.seen[subID] = map[domain.Fingerprint]bool{}
	}
	d.seen[subID][fp] = true
	d.marks++
	return nil
}

func (d *fakeDedup) has(subID int64, o domain.Offer) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[subID][o.Fingerprint()]
}

// ----- Fake notifier -----

type sentNote struct {
	subID  int64
	offer  domain.Offer
	notice domain.Notice
}

type fakeNotifier struct {
	mu sync.Mutex

	sent   []sentNote
	failOn func(domain.Offer) bool
	// after runs once per successful send (outside the lock).
	after func()
}

func (n *fakeNotifier) Notify(ctx context.Context, sub domain.Subscription, notice domain.Notice) error {
	offer := notice.Offer
	n.mu.Lock()
	if n.failOn != nil && n.failOn(offer) {
		n.mu.Unlock()
		return errors.New("telegram: 502")
	}
	n.sent = append(n.sent, sentNote{subID: sub.ID, offer: offer, notice: notice})
	after := n.after
	n.mu.Unlock()
	if after != nil {
		after()
	}
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// ----- Fake price history -----

type dayKey struct {
	subID int64
	day   string
}

type fakeHistory struct {
	mu sync.Mutex

	prices    map[dayKey]float64
	lookupErr error
	records   int
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{prices: map[dayKey]float64{}}
}

func (h *fakeHistory) LastPrice(ctx context.Context, subID int64, day string) (float64, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lookupErr != nil {
		return 0, false, h.lookupErr
	}
	p, ok := h.prices[dayKey{subID, day}]
	return p, ok, nil
}

func (h *fakeHistory) RecordPrice(ctx context.Context, subID int64, day string, price float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prices[dayKey{subID, day}] = price
	h.records++
	return nil
}

func (h *fakeHistory) price(subID int64, day string) (float64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.prices[dayKey{subID, day}]
	return p, ok
}

// ----- Fake checker (scheduler tests) -----

type fakeChecker struct {
	mu      sync.Mutex
	checked []int64
	fn      func(ctx context.Context, sub domain.Subscription) (CheckResult, error)
}

func (c *fakeChecker) Check(ctx context.Context, sub domain.Subscription) (CheckResult, error) {
	c.mu.Lock()
	c.checked = append(c.checked, sub.ID)
	c.mu.Unlock()
	if c.fn != nil {
		return c.fn(ctx, sub)
	}
	return CheckResult{SubscriptionID: sub.ID, Outcome: OutcomeChecked}, nil
}

// ----- Fake janitor -----

type fakeJanitor struct {
	n     int64
	err   error
	calls int
}

func (j *fakeJanitor) Purge(ctx context.Context) (int64, error) {
	j.calls++
	return j.n, j.err
}

// ----- Helpers -----

var checkNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func ptrBool(b bool) *bool { return &b }

func newSub(id int64) domain.Subscription {
	return domain.Subscription{
		ID:                   id,
		UserID:               1000 + id,
		Origin:               "IST",
		Destination:          "AMS",
		RangeFrom:            "2025-06-15",
		RangeTo:              "2025-08-10",
		MaxPrice:             450,
		Currency:             "EUR",
		CheckIntervalMinutes: 60,
		Active:               true,
	}
}

func offerOn(day string, price float64, transfers int) domain.Offer {
	dep, err := time.Parse(time.RFC3339, day+"T10:00:00Z")
	if err != nil {
		panic(err)
	}
	return domain.Offer{
		Origin:       "IST",
		Destination:  "AMS",
		DepartureAt:  dep,
		Airline:      "TK",
		FlightNumber: "1951",
		Transfers:    transfers,
		Price:        price,
		Currency:     "EUR",
	}
}
