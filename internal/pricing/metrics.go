package pricing

import "github.com/prometheus/client_golang/prometheus"

var (
	// requestsTotal counts pricing API calls by outcome (ok|error|rate_limited).
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flymate_pricing_requests_total",
			Help: "Total number of pricing API requests by outcome.",
		},
		[]string{"outcome"},
	)

	// requestDuration records pricing API latency, including limiter wait.
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flymate_pricing_request_duration_seconds",
			Help:    "Duration of pricing API requests in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration)
}
