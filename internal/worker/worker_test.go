package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/flymate-worker/internal/config"
	"github.com/tbourn/flymate-worker/internal/domain"
	"github.com/tbourn/flymate-worker/internal/repo"
)

// upstream fakes both the pricing API and the Telegram Bot API.
type upstream struct {
	mu       sync.Mutex
	queries  []string
	messages []string
}

func (u *upstream) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/aviasales/v3/prices_for_dates", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Access-Token") != "pt" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		period := r.URL.Query().Get("departure_at")
		u.mu.Lock()
		u.queries = append(u.queries, period)
		u.mu.Unlock()

		day := period
		if len(period) == len("2006-01") {
			day = period + "-20"
		}
		fmt.Fprintf(w, `{"success":true,"currency":"eur","data":[
			{"origin":"IST","destination":"AMS","price":120,"airline":"TK","flight_number":1951,
			 "departure_at":"%sT10:00:00Z","transfers":0,"duration":235,"link":"/search/IST2007AMS1"}]}`, day)
	})
	mux.HandleFunc("/botbt/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var req struct {
			ChatID int64  `json:"chat_id"`
			Text   string `json:"text"`
		}
		if err := json.Unmarshal(b, &req); err != nil {
			t.Errorf("bad telegram body: %v", err)
		}
		u.mu.Lock()
		u.messages = append(u.messages, req.Text)
		u.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	return mux
}

func (u *upstream) sent() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.messages...)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:worker_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func testConfig(baseURL string) config.Config {
	return config.Config{
		Pricing: config.PricingConfig{
			BaseURL: baseURL, Token: "pt", Timeout: 5 * time.Second,
			RPS: 100, Burst: 10, PageLimit: 50,
		},
		Telegram: config.TelegramConfig{BaseURL: baseURL, Token: "bt", Timeout: 5 * time.Second, Locale: "en"},
		Worker: config.WorkerConfig{
			SweepInterval:          time.Minute,
			SweepBatch:             10,
			Concurrency:            2,
			UnitConcurrency:        2,
			DefaultCheckInterval:   5 * time.Minute,
			DedupTTL:               24 * time.Hour,
			LookaheadHorizon:       365 * 24 * time.Hour,
			MaxNotificationsPerRun: 10,
			MaxConsecutiveFailures: 3,
			BestPerDay:             true,
			ShutdownTimeout:        5 * time.Second,
		},
	}
}

func TestWorker_RunOnce_NotifiesOnceAcrossSweeps(t *testing.T) {
	up := &upstream{}
	srv := httptest.NewServer(up.handler(t))
	defer srv.Close()

	db := newTestDB(t)
	sub := &domain.Subscription{
		UserID: 555, Origin: "IST", Destination: "AMS",
		RangeFrom: "2025-07", RangeTo: "2025-07",
		MaxPrice: 450, Currency: "EUR", CheckIntervalMinutes: 60, Active: true,
	}
	if err := repo.CreateSubscription(context.Background(), db, sub); err != nil {
		t.Fatalf("seed: %v", err)
	}

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	w := New(db, testConfig(srv.URL), zerolog.Nop(), WithHTTPClient(srv.Client()), WithClock(clock))

	res, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Due != 1 || res.Checked != 1 || res.Notified != 1 {
		t.Fatalf("unexpected first sweep: %+v", res)
	}
	msgs := up.sent()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "IST") || !strings.Contains(msgs[0], "First fare") {
		t.Fatalf("expected one first-fare message about IST, got %q", msgs)
	}
	if price, found, err := w.Dedup.LastPrice(context.Background(), sub.ID, "2025-07-20"); err != nil || !found || price != 120 {
		t.Fatalf("notified price not remembered: %v %v %v", price, found, err)
	}

	got, err := repo.GetSubscription(context.Background(), db, sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.NextCheckAt == nil || !got.NextCheckAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("next check = %v, want %v", got.NextCheckAt, now.Add(time.Hour))
	}

	// Not due yet: nothing checked.
	if res, err = w.RunOnce(context.Background()); err != nil || res.Due != 0 {
		t.Fatalf("second sweep: %+v %v", res, err)
	}

	// Due again: same offer is deduplicated.
	now = now.Add(2 * time.Hour)
	if res, err = w.RunOnce(context.Background()); err != nil || res.Checked != 1 || res.Notified != 0 {
		t.Fatalf("third sweep: %+v %v", res, err)
	}
	if n := len(up.sent()); n != 1 {
		t.Fatalf("offer re-notified: %d messages", n)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	up := &upstream{}
	srv := httptest.NewServer(up.handler(t))
	defer srv.Close()

	w := New(newTestDB(t), testConfig(srv.URL), zerolog.Nop(), WithHTTPClient(srv.Client()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestNew_AppliesConfig(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Worker.Concurrency = 7
	cfg.Worker.MaxNotificationsPerRun = 2
	cfg.Worker.BestPerDay = false

	w := New(newTestDB(t), cfg, zerolog.Nop())
	if w.Checker.History == nil {
		t.Fatalf("price history not wired")
	}
	if w.Scheduler.Concurrency != 7 || w.Scheduler.Janitor == nil {
		t.Fatalf("scheduler not configured: %+v", w.Scheduler)
	}
	if w.Checker.MaxNotifications != 2 || w.Checker.BestPerDay {
		t.Fatalf("checker not configured")
	}
	if w.Dedup.TTL != 24*time.Hour {
		t.Fatalf("dedup ttl = %v", w.Dedup.TTL)
	}
}

func TestNew_SharedHTTPClientKeepsPerConsumerTimeouts(t *testing.T) {
	up := &upstream{}
	inner := up.handler(t)
	// Pricing answers slower than the Telegram budget but well within its own.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/aviasales/") {
			time.Sleep(200 * time.Millisecond)
		}
		inner.ServeHTTP(w, r)
	}))
	defer srv.Close()

	db := newTestDB(t)
	sub := &domain.Subscription{
		UserID: 555, Origin: "IST", Destination: "AMS",
		RangeFrom: "2025-07-10", RangeTo: "2025-07-25",
		MaxPrice: 450, Currency: "EUR", CheckIntervalMinutes: 60, Active: true,
	}
	if err := repo.CreateSubscription(context.Background(), db, sub); err != nil {
		t.Fatalf("seed: %v", err)
	}

	cfg := testConfig(srv.URL)
	cfg.Pricing.Timeout = 5 * time.Second
	cfg.Telegram.Timeout = 50 * time.Millisecond
	shared := srv.Client()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w := New(db, cfg, zerolog.Nop(), WithHTTPClient(shared), WithClock(func() time.Time { return now }))

	if shared.Timeout != 0 {
		t.Fatalf("caller's client was mutated: timeout %v", shared.Timeout)
	}
	res, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Notified != 1 || len(up.sent()) != 1 {
		t.Fatalf("pricing must not inherit the Telegram timeout: %+v", res)
	}
}

func TestParseLocale(t *testing.T) {
	cases := []struct {
		in   string
		want language.Tag
	}{
		{"", language.English},
		{"ru", language.Russian},
		{"de-DE", language.MustParse("de-DE")},
		{"!!", language.English},
	}
	for _, tc := range cases {
		if got := parseLocale(tc.in, zerolog.Nop()); got != tc.want {
			t.Fatalf("parseLocale(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
