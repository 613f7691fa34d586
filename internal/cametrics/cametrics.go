// Package cametrics exposes Prometheus collectors for the Client Agent:
// live session/interest counts and operation-FSM activity, mirroring
// internal/mdmetrics for the MD (spec.md §5 concurrency/resource model).
package cametrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the CA's Prometheus collectors.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	AuthenticatedGauge prometheus.Gauge
	ActiveInterests    prometheus.Gauge
	OperationsStarted  prometheus.Counter
	OperationsRejected prometheus.Counter
	Disconnects        *prometheus.CounterVec
}

// New registers and returns the CA metrics on reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid collisions with the default
// registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "otpedge",
			Subsystem: "ca",
			Name:      "active_sessions",
			Help:      "Number of currently connected client sessions.",
		}),
		AuthenticatedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "otpedge",
			Subsystem: "ca",
			Name:      "authenticated_sessions",
			Help:      "Number of sessions past the login gate.",
		}),
		ActiveInterests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "otpedge",
			Subsystem: "ca",
			Name:      "active_interests",
			Help:      "Sum of open Interests across all sessions.",
		}),
		OperationsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "otpedge",
			Subsystem: "ca",
			Name:      "operations_started_total",
			Help:      "Operation FSMs started.",
		}),
		OperationsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "otpedge",
			Subsystem: "ca",
			Name:      "operations_rejected_total",
			Help:      "Operation FSMs rejected because one was already active on the channel.",
		}),
		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otpedge",
			Subsystem: "ca",
			Name:      "disconnects_total",
			Help:      "Client disconnects by reason code.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		m.ActiveSessions, m.AuthenticatedGauge, m.ActiveInterests,
		m.OperationsStarted, m.OperationsRejected, m.Disconnects,
	)
	return m
}
