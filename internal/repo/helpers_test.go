package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/flymate-worker/internal/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// Use a unique in-memory database per test to avoid schema leakage across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func tp(t time.Time) *time.Time { return &t }

func seedSub(t *testing.T, db *gorm.DB, mut func(s *domain.Subscription)) *domain.Subscription {
	t.Helper()
	s := &domain.Subscription{
		UserID:               42,
		Origin:               "IST",
		Destination:          "AMS",
		RangeFrom:            "2025-06-15",
		RangeTo:              "2025-08-10",
		MaxPrice:             500,
		Currency:             "EUR",
		CheckIntervalMinutes: 60,
		Active:               true,
	}
	if mut != nil {
		mut(s)
	}
	next := s.NextCheckAt
	if err := CreateSubscription(context.Background(), db, s); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	if next != nil {
		if err := db.Model(s).Update("next_check_at", next.UTC()).Error; err != nil {
			t.Fatalf("set next_check_at: %v", err)
		}
		s.NextCheckAt = next
	}
	return s
}
