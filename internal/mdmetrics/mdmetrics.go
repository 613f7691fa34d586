// Package mdmetrics exposes Prometheus collectors for the Message
// Director: dropped-datagram counts and live participant/channel gauges
// (spec.md §4.3, §7 "unknown channel on MD -> drop datagram, increment
// counter, no disconnect").
package mdmetrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the MD's Prometheus collectors.
type Metrics struct {
	DroppedDatagrams prometheus.Counter
	ActiveParticipants prometheus.Gauge
	SubscribedChannels prometheus.Gauge
	RoutedDatagrams   prometheus.Counter
}

// New registers and returns the MD metrics on reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid collisions with the default
// registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DroppedDatagrams: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "otpedge",
			Subsystem: "md",
			Name:      "dropped_datagrams_total",
			Help:      "Datagrams dropped because their recipient channel has no owner.",
		}),
		ActiveParticipants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "otpedge",
			Subsystem: "md",
			Name:      "active_participants",
			Help:      "Number of currently connected MD participants.",
		}),
		SubscribedChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "otpedge",
			Subsystem: "md",
			Name:      "subscribed_channels",
			Help:      "Number of channels currently owned by a participant.",
		}),
		RoutedDatagrams: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "otpedge",
			Subsystem: "md",
			Name:      "routed_datagrams_total",
			Help:      "Datagrams successfully forwarded to at least one recipient.",
		}),
	}
	reg.MustRegister(m.DroppedDatagrams, m.ActiveParticipants, m.SubscribedChannels, m.RoutedDatagrams)
	return m
}
