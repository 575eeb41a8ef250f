// Package metrics holds the prometheus collectors of the booking engine:
// coordinator transitions and outcomes, ledger writes, payment events,
// HTTP traffic, plan cache and database pool gauges.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once       sync.Once
	collectors []prometheus.Collector
)

// register queues collectors from each file's init.
func register(cs ...prometheus.Collector) {
	collectors = append(collectors, cs...)
}

// MustRegister registers every queued collector with the default registry,
// once per process.
func MustRegister() {
	once.Do(func() { MustRegisterWith(prometheus.DefaultRegisterer) })
}

// MustRegisterWith registers every queued collector with r.
func MustRegisterWith(r prometheus.Registerer) {
	if len(collectors) > 0 {
		r.MustRegister(collectors...)
	}
}
