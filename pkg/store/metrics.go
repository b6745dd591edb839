package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var opsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "chatkit",
	Subsystem: "store",
	Name:      "ops_total",
	Help:      "Entity store operations by kind.",
}, []string{"op"})
