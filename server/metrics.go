// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package server

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var serverMetrics = struct {
	packetsIn prometheus.Counter
	calls     prometheus.Counter
	errors    prometheus.Counter
	contexts  prometheus.Gauge
}{
	packetsIn: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "labrad",
		Subsystem: "server",
		Name:      "packets_in_total",
		Help:      "Request packets submitted for execution.",
	}),
	calls: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "labrad",
		Subsystem: "server",
		Name:      "calls_total",
		Help:      "Setting calls executed.",
	}),
	errors: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "labrad",
		Subsystem: "server",
		Name:      "call_errors_total",
		Help:      "Setting calls that reported an error or panicked.",
	}),
	contexts: prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "labrad",
		Subsystem: "server",
		Name:      "contexts",
		Help:      "Request contexts with executor state.",
	}),
}

var registerOnce sync.Once

// RegisterMetrics registers the server metrics with reg. Only the first call
// has any effect. If reg == nil, the default registerer is used.
func RegisterMetrics(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		m := &serverMetrics
		reg.MustRegister(m.packetsIn, m.calls, m.errors, m.contexts)
	})
}
