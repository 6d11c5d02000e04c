package domain

import (
	"testing"
	"time"
)

func baseOffer() Offer {
	return Offer{
		Origin:          "IST",
		Destination:     "AMS",
		DepartureAt:     time.Date(2025, 11, 15, 10, 30, 0, 0, time.FixedZone("", 3*3600)),
		Airline:         "PC",
		FlightNumber:    "1234",
		Transfers:       0,
		Price:           150,
		Currency:        "EUR",
		DurationMinutes: 235,
		Link:            "/search/IST1511AMS1",
	}
}

func TestFingerprint_EqualForSameDeal(t *testing.T) {
	a, b := baseOffer(), baseOffer()
	// display-only fields do not participate
	b.FlightNumber = "9999"
	b.DurationMinutes = 1
	b.Link = ""
	b.Currency = "RUB"
	// the same instant expressed in another zone is the same departure
	b.DepartureAt = a.DepartureAt.UTC()

	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("fingerprints differ for the same deal")
	}
	if a.Fingerprint() != a.Fingerprint() {
		t.Fatalf("fingerprint not deterministic")
	}
}

func TestFingerprint_SensitiveToEachIdentityField(t *testing.T) {
	base := baseOffer().Fingerprint()
	mutations := map[string]func(*Offer){
		"origin":      func(o *Offer) { o.Origin = "SAW" },
		"destination": func(o *Offer) { o.Destination = "RTM" },
		"departure":   func(o *Offer) { o.DepartureAt = o.DepartureAt.Add(time.Minute) },
		"airline":     func(o *Offer) { o.Airline = "TK" },
		"transfers":   func(o *Offer) { o.Transfers = 1 },
		"price":       func(o *Offer) { o.Price = 150.01 },
		"sub-cent":    func(o *Offer) { o.Price += 0.001 },
		"sub-second":  func(o *Offer) { o.DepartureAt = o.DepartureAt.Add(500 * time.Millisecond) },
	}
	for name, mutate := range mutations {
		o := baseOffer()
		mutate(&o)
		if o.Fingerprint() == base {
			t.Errorf("changing %s did not change the fingerprint", name)
		}
	}
}

func TestFingerprint_StableEncoding(t *testing.T) {
	// Pinned digest: any change to field order or serialization breaks dedup
	// continuity for records already stored.
	o := Offer{
		Origin:      "IST",
		Destination: "AMS",
		DepartureAt: time.Date(2025, 11, 15, 7, 30, 0, 0, time.UTC),
		Airline:     "PC",
		Transfers:   0,
		Price:       150,
	}
	got := o.Fingerprint().String()
	if len(got) != 64 {
		t.Fatalf("hex length = %d, want 64", len(got))
	}
	want := sha256Hex("IST\x1fAMS\x1f2025-11-15T07:30:00Z\x1fPC\x1f0\x1f150")
	if got != want {
		t.Fatalf("fingerprint = %s, want %s", got, want)
	}
}

func TestOffer_DirectAndDepartureDate(t *testing.T) {
	o := baseOffer()
	if !o.Direct() {
		t.Fatalf("0 transfers should be direct")
	}
	o.Transfers = 2
	if o.Direct() {
		t.Fatalf("2 transfers should not be direct")
	}
	if o.DepartureDate() != "2025-11-15" {
		t.Fatalf("DepartureDate = %q", o.DepartureDate())
	}
}

func TestNewNotice_ClassifiesAgainstPreviousPrice(t *testing.T) {
	o := baseOffer()
	o.Price = 90

	cases := []struct {
		name     string
		previous float64
		found    bool
		trend    PriceTrend
		amount   float64
		percent  float64
	}{
		{"first sighting", 0, false, TrendNew, 0, 0},
		{"drop", 120, true, TrendDrop, 30, 25},
		{"same price", 90, true, TrendNotLower, 0, 0},
		{"rise", 80, true, TrendNotLower, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := NewNotice(o, tc.previous, tc.found)
			if n.Trend != tc.trend || n.Offer != o {
				t.Fatalf("notice = %+v, want trend %v", n, tc.trend)
			}
			if amount, pct := n.Savings(); amount != tc.amount || pct != tc.percent {
				t.Fatalf("savings = %v %v, want %v %v", amount, pct, tc.amount, tc.percent)
			}
		})
	}

	if amount, _ := (Notice{Offer: o, PreviousPrice: 120}).Savings(); amount != 0 {
		t.Fatalf("a notice without a known trend has no savings")
	}
}
