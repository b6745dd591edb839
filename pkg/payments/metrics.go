package payments

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "chatkit",
	Subsystem: "payments",
	Name:      "transitions_total",
	Help:      "Payment state transitions recorded, by target status.",
}, []string{"status"})
