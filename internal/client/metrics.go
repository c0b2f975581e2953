// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package client

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MessagesReceived counts decoded inbound messages by kind.
// Use RegisterMetrics to register this with a Prometheus registry.
var MessagesReceived = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tet_client_messages_total",
		Help: "Total number of decoded inbound protocol messages by kind",
	},
	[]string{"kind"},
)

// DecodeFailures counts dropped inbound messages by decode error code.
var DecodeFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tet_client_decode_failures_total",
		Help: "Total number of inbound messages dropped because they failed to decode",
	},
	[]string{"code"},
)

// MessagesSent counts outbound messages by kind.
var MessagesSent = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tet_client_messages_sent_total",
		Help: "Total number of published protocol messages by kind",
	},
	[]string{"kind"},
)

// RegisterMetrics registers client metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(MessagesReceived)
	reg.MustRegister(DecodeFailures)
	reg.MustRegister(MessagesSent)
}
