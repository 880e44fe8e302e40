// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package labrad

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// connMetrics record connection activity counters. They are shared by all
// connections in the process.
var connMetrics = struct {
	packetRecv     prometheus.Counter
	packetSent     prometheus.Counter
	packetDropped  prometheus.Counter // undecodable or unmatched
	requestOut     prometheus.Counter // outbound requests sent
	requestOutErr  prometheus.Counter // outbound requests that failed
	requestPending prometheus.Gauge   // outbound requests awaiting a response
	requestIn      prometheus.Counter // inbound requests received
	messageIn      prometheus.Counter // inbound message records delivered
	lookups        prometheus.Counter // name lookups sent to the manager
}{
	packetRecv:     counter("packets_received_total", "Packets received."),
	packetSent:     counter("packets_sent_total", "Packets sent."),
	packetDropped:  counter("packets_dropped_total", "Packets dropped as undecodable or unmatched."),
	requestOut:     counter("requests_out_total", "Outbound requests sent."),
	requestOutErr:  counter("requests_out_failed_total", "Outbound requests that reported an error."),
	requestIn:      counter("requests_in_total", "Inbound requests received."),
	messageIn:      counter("messages_in_total", "Inbound message records delivered to listeners."),
	lookups:        counter("lookups_total", "Name lookups sent to the manager."),
	requestPending: prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "labrad",
		Subsystem: "conn",
		Name:      "requests_pending",
		Help:      "Outbound requests awaiting a response.",
	}),
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "labrad",
		Subsystem: "conn",
		Name:      name,
		Help:      help,
	})
}

var registerOnce sync.Once

// RegisterMetrics registers the connection metrics with reg. Only the first
// call has any effect. If reg == nil, the default registerer is used.
func RegisterMetrics(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		m := &connMetrics
		reg.MustRegister(m.packetRecv, m.packetSent, m.packetDropped,
			m.requestOut, m.requestOutErr, m.requestPending,
			m.requestIn, m.messageIn, m.lookups)
	})
}
