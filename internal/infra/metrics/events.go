package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(paymentEventsTotal, membershipsActivatedTotal) }

var (
	paymentEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_events_total",
			Help: "Payment processor events by type and outcome (processed/duplicate/ignored/failed).",
		},
		[]string{"type", "outcome"},
	)

	membershipsActivatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "memberships_activated_total",
			Help: "Deferred memberships switched to active.",
		},
	)
)

func IncPaymentEvent(eventType, outcome string) {
	paymentEventsTotal.WithLabelValues(norm(eventType), norm(outcome)).Inc()
}

func AddMembershipsActivated(n int) {
	membershipsActivatedTotal.Add(float64(n))
}
