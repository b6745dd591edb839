package expiry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var expiredTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "chatkit",
	Subsystem: "expiry",
	Name:      "expired_total",
	Help:      "Interactions removed by disappearing-message sweeps.",
})
