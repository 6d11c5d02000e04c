// Package pricing adapts the Travelpayouts "prices for dates" endpoint
// (GET /aviasales/v3/prices_for_dates) to domain offers.
//
// A Client performs exactly one bounded-timeout HTTP attempt per Fetch and
// never retries: retry policy belongs to the caller, which simply tries
// again on the next scheduling tick. All Fetch calls made through the same
// Client share one token bucket so the worker pool as a whole stays inside
// the provider's request budget.
//
// Failures are returned as *UpstreamError, matching ErrUpstream or
// ErrRateLimited via errors.Is. An empty offer list is a valid success.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/tbourn/flymate-worker/internal/daterange"
	"github.com/tbourn/flymate-worker/internal/domain"
)

// PricesForDatesPath is the endpoint queried for every unit.
const PricesForDatesPath = "/aviasales/v3/prices_for_dates"

const (
	defaultTimeout   = 30 * time.Second
	defaultPageLimit = 100
	maxBodySnippet   = 512
)

// Request is one (route, unit) lookup.
type Request struct {
	Origin      string
	Destination string
	Unit        daterange.Unit
	Currency    string
	DirectOnly  bool
}

// Config configures a Client. Zero values fall back to defaults; a nil
// Limiter disables outbound throttling.
type Config struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	PageLimit int
	Limiter   *rate.Limiter

	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

// Client fetches offers from the pricing API. Safe for concurrent use.
type Client struct {
	http      *resty.Client
	endpoint  string
	token     string
	pageLimit int
	limiter   *rate.Limiter
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := cfg.PageLimit
	if limit <= 0 {
		limit = defaultPageLimit
	}

	var rc *resty.Client
	if cfg.HTTPClient != nil {
		// resty sets the timeout on the *http.Client itself; copy it so a
		// client shared with the notifier keeps its own timeout.
		hc := *cfg.HTTPClient
		rc = resty.NewWithClient(&hc)
	} else {
		rc = resty.New()
	}
	rc.SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")

	return &Client{
		http:      rc,
		endpoint:  strings.TrimRight(cfg.BaseURL, "/") + PricesForDatesPath,
		token:     cfg.Token,
		pageLimit: limit,
		limiter:   cfg.Limiter,
	}
}

// Fetch performs one lookup. Offers are returned in upstream order; entries
// without a parseable departure time or price are dropped.
func (c *Client) Fetch(ctx context.Context, req Request) (offers []domain.Offer, err error) {
	tr := otel.Tracer("pricing/Client")
	ctx, span := tr.Start(ctx, "Fetch",
		trace.WithAttributes(
			attribute.String("route.origin", req.Origin),
			attribute.String("route.destination", req.Destination),
			attribute.String("unit.period", req.Unit.Period()),
			attribute.Bool("direct_only", req.DirectOnly),
		),
	)
	start := time.Now()
	defer func() {
		outcome := Outcome(err)
		requestsTotal.WithLabelValues(outcome).Inc()
		requestDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		} else {
			span.SetAttributes(attribute.Int("offers", len(offers)))
		}
		span.End()
	}()

	if c.limiter != nil {
		if werr := c.limiter.Wait(ctx); werr != nil {
			return nil, &UpstreamError{Err: fmt.Errorf("wait for rate limiter: %w", werr)}
		}
	}

	resp, herr := c.http.R().
		SetContext(ctx).
		SetHeader("X-Access-Token", c.token).
		SetQueryParams(c.query(req)).
		Get(c.endpoint)
	if herr != nil {
		return nil, &UpstreamError{Err: herr}
	}

	status := resp.StatusCode()
	if status < 200 || status > 299 {
		return nil, &UpstreamError{
			StatusCode: status,
			Body:       snippet(resp.Body()),
			RetryAfter: parseRetryAfter(resp.Header().Get("Retry-After")),
		}
	}

	var payload pricesResponse
	if jerr := json.Unmarshal(resp.Body(), &payload); jerr != nil {
		return nil, &UpstreamError{StatusCode: status, Body: snippet(resp.Body()), Err: fmt.Errorf("decode payload: %w", jerr)}
	}
	if !payload.Success {
		reason := payload.Error
		if reason == "" {
			reason = "success=false"
		}
		return nil, &UpstreamError{StatusCode: status, Err: errors.New(reason)}
	}

	currency := strings.ToUpper(strings.TrimSpace(payload.Currency))
	if currency == "" {
		currency = strings.ToUpper(req.Currency)
	}
	offers = make([]domain.Offer, 0, len(payload.Data))
	for _, p := range payload.Data {
		o, ok := p.toOffer(currency)
		if !ok {
			continue
		}
		offers = append(offers, o)
	}
	return offers, nil
}

// query builds the upstream parameters. The token travels in the
// X-Access-Token header so it never shows up in URLs or error strings.
func (c *Client) query(req Request) map[string]string {
	return map[string]string{
		"origin":       req.Origin,
		"destination":  req.Destination,
		"departure_at": req.Unit.Period(),
		"sorting":      "price",
		"direct":       strconv.FormatBool(req.DirectOnly),
		"limit":        strconv.Itoa(c.pageLimit),
		"page":         "1",
		"one_way":      "true",
		"currency":     strings.ToLower(req.Currency),
	}
}

// --- wire format ---

type pricesResponse struct {
	Success  bool        `json:"success"`
	Data     []wireOffer `json:"data"`
	Currency string      `json:"currency"`
	Error    string      `json:"error"`
}

type wireOffer struct {
	Origin       string     `json:"origin"`
	Destination  string     `json:"destination"`
	Price        *float64   `json:"price"`
	Airline      string     `json:"airline"`
	FlightNumber flexString `json:"flight_number"`
	DepartureAt  string     `json:"departure_at"`
	Transfers    int        `json:"transfers"`
	Duration     int        `json:"duration"`
	Link         string     `json:"link"`
}

func (w wireOffer) toOffer(currency string) (domain.Offer, bool) {
	if w.Price == nil || w.DepartureAt == "" {
		return domain.Offer{}, false
	}
	dep, err := time.Parse(time.RFC3339, w.DepartureAt)
	if err != nil {
		return domain.Offer{}, false
	}
	return domain.Offer{
		Origin:          w.Origin,
		Destination:     w.Destination,
		DepartureAt:     dep,
		Airline:         w.Airline,
		FlightNumber:    string(w.FlightNumber),
		Transfers:       w.Transfers,
		Price:           *w.Price,
		Currency:        currency,
		DurationMinutes: w.Duration,
		Link:            w.Link,
	}, true
}

// flexString accepts either a JSON string or a JSON number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxBodySnippet {
		s = s[:maxBodySnippet] + "…"
	}
	return s
}

// parseRetryAfter understands delta-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
