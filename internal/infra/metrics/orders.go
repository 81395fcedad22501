package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(ordersTotal, ordersSwept, providerRequests) }

var (
	// event: created|duplicate|rate_limited|closed|cancelled
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_orders_total",
			Help: "Payment order lifecycle events.",
		},
		[]string{"event"},
	)

	ordersSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_orders_swept_total",
			Help: "Stale pending orders closed by the sweeper.",
		},
	)

	// result: ok|rejected|error
	providerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_provider_requests_total",
			Help: "Create calls to the payment provider by result.",
		},
		[]string{"provider", "result"},
	)
)

func IncOrder(event string) { ordersTotal.WithLabelValues(norm(event)).Inc() }

func AddSwept(n int64) { ordersSwept.Add(float64(n)) }

func IncProviderRequest(provider, result string) {
	providerRequests.WithLabelValues(norm(provider), norm(result)).Inc()
}
