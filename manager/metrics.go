// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package manager

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var managerMetrics = struct {
	sessions      prometheus.Gauge
	logins        *prometheus.CounterVec
	packetsIn     prometheus.Counter
	packetsOut    prometheus.Counter
	forwarded     prometheus.Counter
	undeliverable prometheus.Counter
}{
	sessions: prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "labrad",
		Subsystem: "manager",
		Name:      "sessions",
		Help:      "Connections currently open to the manager.",
	}),
	logins: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "labrad",
		Subsystem: "manager",
		Name:      "logins_total",
		Help:      "Login attempts, by result.",
	}, []string{"result"}),
	packetsIn: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "labrad",
		Subsystem: "manager",
		Name:      "packets_in_total",
		Help:      "Packets received from all sessions.",
	}),
	packetsOut: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "labrad",
		Subsystem: "manager",
		Name:      "packets_out_total",
		Help:      "Packets sent to all sessions.",
	}),
	forwarded: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "labrad",
		Subsystem: "manager",
		Name:      "requests_forwarded_total",
		Help:      "Requests forwarded from clients to servers.",
	}),
	undeliverable: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "labrad",
		Subsystem: "manager",
		Name:      "packets_undeliverable_total",
		Help:      "Packets addressed to an unknown or closed session.",
	}),
}

var registerOnce sync.Once

// RegisterMetrics registers the manager metrics with reg. Only the first
// call has any effect. If reg == nil, the default registerer is used.
func RegisterMetrics(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		m := &managerMetrics
		reg.MustRegister(m.sessions, m.logins, m.packetsIn, m.packetsOut, m.forwarded, m.undeliverable)
	})
}
