package account

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var lifecycleEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "account_lifecycle_events_total",
		Help: "Account lifecycle operations by outcome",
	},
	[]string{"operation", "outcome"},
)

func observe(operation string, err error) {
	lifecycleEvents.WithLabelValues(operation, code(err)).Inc()
}
