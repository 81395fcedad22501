package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		settlementOutcomes,
		settlementDuration,
		settlementRevenue,
	)
}

var (
	// outcome: applied|already_applied|ignored|rejected
	// reason (bounded): missing_fields|bad_signature|order_not_found|amount_mismatch|
	// order_closed|unknown_product|storage|replay_cache|none
	settlementOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_callbacks_total",
			Help: "Payment callbacks by outcome and reason.",
		},
		[]string{"outcome", "reason"},
	)

	settlementDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "settlement_callback_duration_seconds",
			Help:    "Duration of callback settlement in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"outcome"},
	)

	settlementRevenue = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_revenue_total",
			Help: "Money settled by applied callbacks, labeled by channel.",
		},
		[]string{"channel"},
	)
)

func ObserveSettlement(outcome, reason string, d time.Duration) {
	if reason == "" {
		reason = "none"
	}
	settlementOutcomes.WithLabelValues(norm(outcome), norm(reason)).Inc()
	settlementDuration.WithLabelValues(norm(outcome)).Observe(d.Seconds())
}

func AddRevenue(channel string, amount float64) {
	settlementRevenue.WithLabelValues(norm(channel)).Add(amount)
}
