package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		bookingTransitionsTotal,
		bookingOutcomesTotal,
		rollbackFailuresTotal,
		waitlistPromotionsTotal,
	)
}

var (
	bookingTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_state_transitions_total",
			Help: "Registration coordinator state entries by state.",
		},
		[]string{"flow", "state"}, // flow="book"|"promote"
	)

	bookingOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_outcomes_total",
			Help: "Final booking outcomes (confirmed/waitlisted/denied/failed).",
		},
		[]string{"outcome", "kind"},
	)

	rollbackFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_rollback_failures_total",
			Help: "Compensating actions that failed and need manual repair.",
		},
	)

	waitlistPromotionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waitlist_promotions_total",
			Help: "Waitlist promotion attempts by result (promoted/skipped/no_candidate).",
		},
		[]string{"result"},
	)
)

func IncBookingTransition(flow, state string) {
	bookingTransitionsTotal.WithLabelValues(norm(flow), norm(state)).Inc()
}

func IncBookingOutcome(outcome, kind string) {
	bookingOutcomesTotal.WithLabelValues(norm(outcome), norm(kind)).Inc()
}

func IncRollbackFailure() { rollbackFailuresTotal.Inc() }

func IncWaitlistPromotion(result string) {
	waitlistPromotionsTotal.WithLabelValues(norm(result)).Inc()
}
