// Package metrics exposes the counters and gauges of a simulation run.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hubsim"

// Metrics groups the collectors updated by the driver once per tick.
type Metrics struct {
	Sent              prometheus.Counter
	Delivered         prometheus.Counter
	TransportDropped  prometheus.Counter
	PendingDropped    prometheus.Counter
	Unroutable        prometheus.Counter
	ChurnEvents       prometheus.Counter
	Elections         prometheus.Counter
	Demotions         prometheus.Counter
	Conflicts         prometheus.Counter
	HandshakeFailures prometheus.Counter
	ConnectionsLost   prometheus.Counter

	Orphans    prometheus.Gauge
	Live       prometheus.Gauge
	HubPresent prometheus.Gauge
	InFlight   prometheus.Gauge
	Tick       prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is what tests and one-shot runs want.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	return &Metrics{
		Sent:              counter("messages_sent_total", "Messages originated by nodes."),
		Delivered:         counter("messages_delivered_total", "Messages appended to an inbox."),
		TransportDropped:  counter("packets_lost_total", "Packets discarded by the transport loss model."),
		PendingDropped:    counter("pending_dropped_total", "Messages dropped from full pending queues."),
		Unroutable:        counter("packets_unroutable_total", "Delivered packets whose destination no longer exists."),
		ChurnEvents:       counter("churn_events_total", "Injected hub crashes."),
		Elections:         counter("elections_total", "Successful hub registrations."),
		Demotions:         counter("demotions_total", "Stale hubs that stepped down."),
		Conflicts:         counter("registration_conflicts_total", "Lost registration races."),
		HandshakeFailures: counter("handshake_failures_total", "Failed connect handshakes."),
		ConnectionsLost:   counter("connections_lost_total", "Hub connections found missing."),
		Orphans:           gauge("orphans", "Nodes that are neither hub nor connected to it."),
		Live:              gauge("live_nodes", "Nodes alive in the current tick."),
		HubPresent:        gauge("hub_present", "1 when the hub slot is held."),
		InFlight:          gauge("packets_in_flight", "Packets queued in the transport."),
		Tick:              gauge("tick", "Last completed tick."),
	}
}
