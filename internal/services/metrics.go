package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// checksTotal counts check cycles by outcome.
	checksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flymate_checks_total",
			Help: "Total number of subscription check cycles by outcome.",
		},
		[]string{"outcome"},
	)

	// offersTotal counts offers at each stage of the pipeline
	// (fetched|qualified|new).
	offersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flymate_offers_total",
			Help: "Offers observed per pipeline stage.",
		},
		[]string{"stage"},
	)

	// notificationsTotal counts delivery attempts by outcome (sent|failed).
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flymate_notifications_total",
			Help: "Total number of notification attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// flaggedTotal counts subscriptions flagged for operator attention.
	flaggedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flymate_subscriptions_flagged_total",
			Help: "Subscriptions flagged after repeated invalid-range failures.",
		},
	)

	// sweepsTotal counts sweeps by result (ok|error|skipped).
	sweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flymate_sweeps_total",
			Help: "Total number of scheduler sweeps by result.",
		},
		[]string{"result"},
	)

	// sweepDuration records how long a sweep takes end to end.
	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flymate_sweep_duration_seconds",
			Help:    "Duration of scheduler sweeps in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	// sweepDue reports the size of the last due set.
	sweepDue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flymate_sweep_due_subscriptions",
			Help: "Number of due subscriptions picked up by the last sweep.",
		},
	)

	// checksInflight gauges checks currently running.
	checksInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flymate_checks_inflight",
			Help: "Current number of in-flight subscription checks.",
		},
	)

	// dedupPurged counts expired dedup records removed by the janitor.
	dedupPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flymate_dedup_purged_total",
			Help: "Expired dedup records removed.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		checksTotal, offersTotal, notificationsTotal, flaggedTotal,
		sweepsTotal, sweepDuration, sweepDue, checksInflight, dedupPurged,
	)
}
