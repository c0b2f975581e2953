// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package sandbox

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MessagesTotal counts worker messages by direction ("in" to the worker,
// "out" from it) and type.
var MessagesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tet_sandbox_messages_total",
		Help: "Total number of sandbox worker messages by direction and type",
	},
	[]string{"direction", "type"},
)

// ScriptDuration observes game script evaluation time.
var ScriptDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "tet_sandbox_script_duration_seconds",
		Help:    "Duration of game script evaluations",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	},
)

// RegisterMetrics registers sandbox metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(MessagesTotal)
	reg.MustRegister(ScriptDuration)
}
