// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

// Package sandbox runs game code in an isolated worker and defines the
// message boundary between that worker and the server.
//
// The server talks to a worker only through a Transport carrying JSON
// encoded Request and Reply messages. No memory is shared across it.
package sandbox

import (
	"context"

	"github.com/samber/oops"
)

// Error codes.
const (
	CodeScriptError       = "SCRIPT_ERROR"
	CodeInvalidMessage    = "INVALID_WORKER_MESSAGE"
	CodeTransportDisposed = "TRANSPORT_DISPOSED"
	CodeWorkerFailed      = "WORKER_FAILED"
)

// Transport is a message channel to a worker.
//
// Messages are delivered in send order in each direction. Listeners are
// invoked from a transport goroutine and must not block. Dispose is
// idempotent; replies still in flight when it is called are dropped.
type Transport interface {
	// Start launches the worker. Register listeners before calling it: the
	// worker announces readiness with a ready reply.
	Start(ctx context.Context) error
	// PostMessage queues an encoded Request for the worker.
	PostMessage(msg []byte) error
	// OnMessage registers fn for encoded Replies.
	OnMessage(fn func([]byte)) func()
	// OnError registers fn for failures of the transport itself.
	OnError(fn func(error)) func()
	Dispose(ctx context.Context) error
}

func disposed() error {
	return oops.In("sandbox").Code(CodeTransportDisposed).Errorf("transport is disposed")
}

// Post encodes req and posts it on t.
func Post(t Transport, req Request) error {
	data, err := Encode(req)
	if err != nil {
		return err
	}
	return t.PostMessage(data)
}
