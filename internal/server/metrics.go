// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StateGauge exposes the numeric value of the current State.
var StateGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "tet_server_state",
		Help: "Current server state (0 uninitialized, 1 connecting, 2 connected, 3 running, 4 paused)",
	},
)

// ErrorsReported counts error events published by the server, by code.
var ErrorsReported = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tet_server_errors_reported_total",
		Help: "Total number of errors reported on the server event topic by code",
	},
	[]string{"code"},
)

// CommandsTotal counts operator commands by name and outcome.
var CommandsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tet_server_commands_total",
		Help: "Total number of server commands by command and status",
	},
	[]string{"command", "status"},
)

// RegisterMetrics registers server metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(StateGauge)
	reg.MustRegister(ErrorsReported)
	reg.MustRegister(CommandsTotal)
}

func recordCommand(command string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	CommandsTotal.WithLabelValues(command, status).Inc()
}
