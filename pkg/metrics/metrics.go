// Package metrics exposes Prometheus collectors for session and execution
// activity. All metrics are namespaced with "loom_".
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsApplied counts committed operations per kind.
	OperationsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loom",
		Name:      "operations_applied_total",
		Help:      "Operations committed by session authorities.",
	}, []string{"kind"})

	// OperationsRejected counts rejected operations per reason.
	OperationsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loom",
		Name:      "operations_rejected_total",
		Help:      "Operations rejected by session authorities.",
	}, []string{"reason"})

	// ActiveSessions tracks running session authorities.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "loom",
		Name:      "active_sessions",
		Help:      "Session authorities currently running.",
	})

	// LockConflicts counts lock acquisitions rejected because another user
	// holds the lock.
	LockConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "loom",
		Name:      "lock_conflicts_total",
		Help:      "Node lock acquisitions rejected due to a foreign holder.",
	})

	// ExecutionsStarted counts executions by type.
	ExecutionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loom",
		Name:      "executions_started_total",
		Help:      "Executions started.",
	}, []string{"type"})

	// ExecutionsRunning tracks live execution runners.
	ExecutionsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "loom",
		Name:      "executions_running",
		Help:      "Execution runners currently active.",
	})

	// EventsPublished counts bus publications per event type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loom",
		Name:      "events_published_total",
		Help:      "Events published to the bus.",
	}, []string{"event_type"})
)
