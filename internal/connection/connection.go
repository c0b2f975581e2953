// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

// Package connection defines the publish/subscribe capability the game
// server and devices talk over, with an in-process bus and an MQTT broker
// implementation.
package connection

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/tetgame/tet/internal/emitter"
	"github.com/tetgame/tet/pkg/errutil"
)

// Error codes.
const (
	CodeNotConnected     = "NOT_CONNECTED"
	CodeAlreadyConnected = "ALREADY_CONNECTED"
	CodeConnectFailed    = "CONNECT_FAILED"
	CodePublishFailed    = "PUBLISH_FAILED"
	CodeSubscribeFailed  = "SUBSCRIBE_FAILED"
	CodeInvalidFilter    = "INVALID_FILTER"
)

// Message is a raw message as delivered by the transport.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Connection is a duplex publish/subscribe link.
type Connection interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	// Publish sends payload on topic. A retained publish is stored by the
	// transport and replayed to later subscribers.
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error
	// Subscribe starts delivery of messages matching filter. '+' matches one
	// topic level and a trailing '#' matches the remaining levels.
	Subscribe(ctx context.Context, filter string) error

	OnConnect(fn func()) (off func())
	OnDisconnect(fn func(err error)) (off func())
	OnMessage(fn func(Message)) (off func())
}

// EventKind enumerates connection notifications.
type EventKind int

// Connection notifications.
const (
	EventConnect EventKind = iota + 1
	EventDisconnect
	EventMessage
)

// Event is the payload of a connection notification.
type Event struct {
	Message Message
	Err     error
}

// listeners implements the On* half of Connection.
type listeners struct {
	em     emitter.Emitter[EventKind, Event]
	logger *slog.Logger
}

func (l *listeners) OnConnect(fn func()) func() {
	return l.em.On(EventConnect, func(Event) error { fn(); return nil })
}

func (l *listeners) OnDisconnect(fn func(error)) func() {
	return l.em.On(EventDisconnect, func(ev Event) error { fn(ev.Err); return nil })
}

func (l *listeners) OnMessage(fn func(Message)) func() {
	return l.em.On(EventMessage, func(ev Event) error { fn(ev.Message); return nil })
}

func (l *listeners) emit(kind EventKind, ev Event) {
	if err := l.em.Emit(kind, ev); err != nil {
		errutil.LogWarn(l.log(), "connection listener failed", err, "topic", ev.Message.Topic)
	}
}

func (l *listeners) log() *slog.Logger {
	if l.logger == nil {
		return slog.Default()
	}
	return l.logger
}

func notConnected(op string) error {
	return oops.In("connection").Code(CodeNotConnected).With("operation", op).Errorf("%s: not connected", op)
}

func alreadyConnected() error {
	return oops.In("connection").Code(CodeAlreadyConnected).Errorf("already connected")
}
