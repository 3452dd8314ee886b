package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsWriteConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "requests",
		Subsystem: "write",
		Name:      "conflicts_total",
		Help:      "Total number of rejected writes broken down by kind.",
	}, []string{"kind"})

	requestsTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "requests",
		Subsystem: "workflow",
		Name:      "transitions_total",
		Help:      "Total number of status action attempts broken down by action and result.",
	}, []string{"action", "result"})

	requestsIdempotency = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "requests",
		Subsystem: "create",
		Name:      "idempotency_total",
		Help:      "Total number of create calls carrying an idempotency key, by cache result.",
	}, []string{"result"})
)

func recordWriteConflict(kind string) {
	if kind == "" {
		kind = "other"
	}
	requestsWriteConflicts.WithLabelValues(kind).Inc()
}

func recordTransition(action, result string) {
	requestsTransitions.WithLabelValues(action, result).Inc()
}

func recordIdempotency(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	requestsIdempotency.WithLabelValues(result).Inc()
}
