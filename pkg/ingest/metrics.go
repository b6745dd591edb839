package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatkit_ingest_events_total",
		Help: "Inbound events accepted into the queue, by type.",
	}, []string{"type"})
	rejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatkit_ingest_rejected_total",
		Help: "Inbound events rejected at validation, by type.",
	}, []string{"type"})
	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatkit_ingest_dropped_total",
		Help: "Events dropped because the queue was full.",
	})
	applyFailTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatkit_ingest_apply_failures_total",
		Help: "Events that failed while being applied, by type.",
	}, []string{"type"})
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatkit_ingest_queue_depth",
		Help: "Current ingest queue depth.",
	})
)
