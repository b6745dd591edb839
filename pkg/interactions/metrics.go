package interactions

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	appendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatkit",
		Subsystem: "interactions",
		Name:      "appends_total",
		Help:      "Interactions appended, by variant kind.",
	}, []string{"kind"})

	conflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatkit",
		Subsystem: "interactions",
		Name:      "update_conflicts_total",
		Help:      "Optimistic update rejections.",
	})

	removalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatkit",
		Subsystem: "interactions",
		Name:      "removals_total",
		Help:      "Interactions removed.",
	})

	droppedNotifies = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatkit",
		Subsystem: "interactions",
		Name:      "observer_drops_total",
		Help:      "Change notifications dropped for slow observers.",
	})
)
