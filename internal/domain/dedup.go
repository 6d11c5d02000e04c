package domain

import "time"

// DedupRetention is how long a notified offer suppresses repeats.
const DedupRetention = 60 * 24 * time.Hour

// DedupRecord marks an offer fingerprint as already notified for one
// subscription, keyed by (subscription_id, fingerprint). Records past
// ExpiresAt no longer suppress notifications and are purged by the sweep.
type DedupRecord struct {
	ID             string    `gorm:"type:char(36);primaryKey"`
	SubscriptionID int64     `gorm:"not null;uniqueIndex:ux_dedup_sub_fp,priority:1"`
	Fingerprint    string    `gorm:"type:char(64);not null;uniqueIndex:ux_dedup_sub_fp,priority:2"`
	CreatedAt      time.Time `gorm:"not null"`
	ExpiresAt      time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (DedupRecord) TableName() string { return "offer_dedup" }

// PriceMark is the lowest price notified for one subscription and departure
// day. It feeds the "price dropped" line of later messages and never gates
// delivery. It shares the dedup retention and purge.
type PriceMark struct {
	ID             string    `gorm:"type:char(36);primaryKey"`
	SubscriptionID int64     `gorm:"not null;uniqueIndex:ux_price_sub_day,priority:1"`
	DepartureDate  string    `gorm:"type:char(10);not null;uniqueIndex:ux_price_sub_day,priority:2"`
	Price          float64   `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
	ExpiresAt      time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (PriceMark) TableName() string { return "price_marks" }
