package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Offer is one priced flight returned by the pricing API. It lives only for
// the duration of a single check.
type Offer struct {
	Origin          string
	Destination     string
	DepartureAt     time.Time
	Airline         string
	FlightNumber    string
	Transfers       int
	Price           float64
	Currency        string
	DurationMinutes int
	Link            string
}

// Direct reports whether the offer is non-stop.
func (o Offer) Direct() bool { return o.Transfers == 0 }

// DepartureDate is the departure calendar date in the offer's own timezone.
func (o Offer) DepartureDate() string { return o.DepartureAt.Format("2006-01-02") }

// Fingerprint is the SHA-256 identity of an offer for dedup purposes.
type Fingerprint [sha256.Size]byte

// String returns the lowercase hex encoding stored in dedup records.
func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

// fieldSep never appears in IATA codes, timestamps or numbers.
const fieldSep = "\x1f"

// Fingerprint digests (origin, destination, departure, airline, transfers,
// price) in that order. Departure is serialized as RFC 3339 in UTC with
// fractional seconds and price in its shortest exact decimal form, so no two
// distinct values share a serialization and the digest is stable across
// restarts and platforms.
// Display-only fields (flight number, duration, link, currency) do not
// participate.
func (o Offer) Fingerprint() Fingerprint {
	payload := strings.Join([]string{
		o.Origin,
		o.Destination,
		o.DepartureAt.UTC().Format(time.RFC3339Nano),
		o.Airline,
		strconv.Itoa(o.Transfers),
		strconv.FormatFloat(o.Price, 'f', -1, 64),
	}, fieldSep)
	return sha256.Sum256([]byte(payload))
}

// PriceTrend classifies an offer against the price last notified for the same
// subscription and departure day.
type PriceTrend int

const (
	TrendUnknown PriceTrend = iota // no price history available
	TrendNew                       // first notification for this departure day
	TrendDrop                      // cheaper than the last notified price
	TrendNotLower                  // a different deal at the same or a higher price
)

// Notice is an offer about to be delivered, together with its price history.
type Notice struct {
	Offer         Offer
	PreviousPrice float64 // last notified price for the day; 0 unless found
	Trend         PriceTrend
}

// NewNotice classifies o. found reports whether a previous price exists.
func NewNotice(o Offer, previous float64, found bool) Notice {
	n := Notice{Offer: o, Trend: TrendNew}
	if !found {
		return n
	}
	n.PreviousPrice = previous
	if o.Price < previous {
		n.Trend = TrendDrop
	} else {
		n.Trend = TrendNotLower
	}
	return n
}

// Savings returns the drop against the previous price as an absolute amount
// and a percentage. Both are zero unless Trend is TrendDrop.
func (n Notice) Savings() (amount, percent float64) {
	if n.Trend != TrendDrop || n.PreviousPrice <= 0 {
		return 0, 0
	}
	amount = n.PreviousPrice - n.Offer.Price
	return amount, amount / n.PreviousPrice * 100
}
