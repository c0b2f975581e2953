// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package server

import "github.com/samber/oops"

// Error codes.
const (
	CodeAlreadyInitialized = "ALREADY_INITIALIZED"
	CodeNotInitialized     = "NOT_INITIALIZED"
	CodeNotConnected       = "NOT_CONNECTED"
	CodeNotRunning         = "NOT_RUNNING"
	CodeNoGameInProgress   = "NO_GAME_IN_PROGRESS"
	CodeUnknownDevice      = "UNKNOWN_DEVICE"
	CodeUnknownEvent       = "UNKNOWN_EVENT"
	CodeUnknownCommand     = "UNKNOWN_COMMAND"
	CodeInvalidCommand     = "INVALID_COMMAND"
	CodeInvalidEventData   = "INVALID_EVENT_DATA"
	CodeWorkerNotReady     = "WORKER_NOT_READY"
)

func stateError(code string, state State, format string, args ...any) error {
	return oops.In("server").Code(code).With("state", state.String()).Errorf(format, args...)
}

func unknownDevice(id string) error {
	return oops.In("server").Code(CodeUnknownDevice).With("device", id).
		Errorf("received event from unknown device %q", id)
}

func unknownEvent(id, event string) error {
	return oops.In("server").Code(CodeUnknownEvent).With("device", id).With("event", event).
		Errorf("device %q has no event %q", id, event)
}

func unknownCommand(command string) error {
	return oops.In("server").Code(CodeUnknownCommand).With("command", command).
		Errorf("unknown server command %q", command)
}

func invalidCommand(command string, err error) error {
	return oops.In("server").Code(CodeInvalidCommand).With("command", command).
		Errorf("invalid data for %s: %v", command, err)
}

func invalidEventData(id, event string, err error) error {
	b := oops.In("server").Code(CodeInvalidEventData).With("device", id).With("event", event)
	if o, ok := oops.AsOops(err); ok {
		if path, ok := o.Context()["path"]; ok {
			b = b.With("path", path)
		}
	}
	return b.Errorf("invalid data for event %s of %q: %v", event, id, err)
}
