package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(ledgerOpsTotal, ledgerCASRetriesTotal) }

var (
	ledgerOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Credit ledger operations by op (debit/credit/reverse) and result.",
		},
		[]string{"op", "result"}, // result="applied"|"replayed"|"insufficient"|"conflict"|"error"
	)

	ledgerCASRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_cas_retries_total",
			Help: "Version conflicts that caused a ledger write to be retried.",
		},
	)
)

func IncLedgerOp(op, result string) {
	ledgerOpsTotal.WithLabelValues(norm(op), norm(result)).Inc()
}

func IncLedgerRetry() { ledgerCASRetriesTotal.Inc() }
