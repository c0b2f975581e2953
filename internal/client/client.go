// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

// Package client speaks the device protocol over a connection: it decodes
// inbound traffic into typed messages and encodes outbound sends.
package client

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/tetgame/tet/internal/connection"
	"github.com/tetgame/tet/internal/emitter"
	"github.com/tetgame/tet/internal/protocol"
	"github.com/tetgame/tet/pkg/errutil"
)

// EventKind enumerates client notifications.
type EventKind int

// Client notifications.
const (
	EventConnect EventKind = iota + 1
	EventDisconnect
	EventRawMessage
	EventMessage
	EventHello
	EventCommand
	EventEvent
)

// Notification is the payload delivered to client listeners.
type Notification struct {
	Raw     connection.Message
	Message protocol.Message
	Err     error
}

// Client wraps a Connection with the protocol codec.
type Client struct {
	conn   connection.Connection
	logger *slog.Logger
	em     emitter.Emitter[EventKind, Notification]
	offs   []func()
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New wraps conn. The client listens to conn for its whole lifetime.
func New(conn connection.Connection, opts ...Option) *Client {
	c := &Client{conn: conn, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.offs = []func(){
		conn.OnConnect(func() { c.emit(EventConnect, Notification{}) }),
		conn.OnDisconnect(func(err error) { c.emit(EventDisconnect, Notification{Err: err}) }),
		conn.OnMessage(c.receive),
	}
	return c
}

// Close detaches the client from its connection without disconnecting it.
func (c *Client) Close() {
	for _, off := range c.offs {
		off()
	}
	c.offs = nil
	c.em.Clear()
}

// Connection returns the underlying connection.
func (c *Client) Connection() connection.Connection { return c.conn }

// Connect connects the underlying connection.
func (c *Client) Connect(ctx context.Context) error {
	return c.conn.Connect(ctx)
}

// Disconnect disconnects the underlying connection.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.conn.Disconnect(ctx)
}

// IsConnected reports whether the underlying connection is up.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// SendHello announces device id with def. The publish is retained so that
// late subscribers learn the last known definition.
func (c *Client) SendHello(ctx context.Context, id string, def protocol.DeviceDefinition) error {
	topic, payload, err := protocol.EncodeHello(id, def)
	if err != nil {
		return err
	}
	return c.publish(ctx, protocol.KindHello, topic, payload, true)
}

// SendCommand sends command to device id. The publish is retained: the last
// command is the last known desired state.
func (c *Client) SendCommand(ctx context.Context, id, command string, data any) error {
	topic, payload, err := protocol.EncodeCommand(id, command, data)
	if err != nil {
		return err
	}
	return c.publish(ctx, protocol.KindCommand, topic, payload, true)
}

// SendEvent publishes event on behalf of device id.
func (c *Client) SendEvent(ctx context.Context, id, event string, data any) error {
	topic, payload, err := protocol.EncodeEvent(id, event, data)
	if err != nil {
		return err
	}
	return c.publish(ctx, protocol.KindEvent, topic, payload, false)
}

func (c *Client) publish(ctx context.Context, kind protocol.Kind, topic string, payload []byte, retain bool) error {
	if err := c.conn.Publish(ctx, topic, payload, retain); err != nil {
		return oops.In("client").With("topic", topic).With("kind", kind.String()).Wrap(err)
	}
	MessagesSent.WithLabelValues(kind.String()).Inc()
	c.logger.Debug("message sent", "kind", kind.String(), "topic", topic)
	return nil
}

// SubscribeToDevices subscribes to every device announcement.
func (c *Client) SubscribeToDevices(ctx context.Context) error {
	return c.conn.Subscribe(ctx, protocol.DevicesWildcard)
}

// SubscribeToCommands subscribes to the commands addressed to device id.
func (c *Client) SubscribeToCommands(ctx context.Context, id string) error {
	return c.conn.Subscribe(ctx, protocol.CommandTopic(id))
}

// SubscribeToEvents subscribes to the events published by device id.
func (c *Client) SubscribeToEvents(ctx context.Context, id string) error {
	return c.conn.Subscribe(ctx, protocol.EventTopic(id))
}

func (c *Client) receive(raw connection.Message) {
	c.emit(EventRawMessage, Notification{Raw: raw})

	msg, err := protocol.Decode(raw.Topic, raw.Payload)
	if err != nil {
		DecodeFailures.WithLabelValues(errutil.Code(err)).Inc()
		errutil.LogWarn(c.logger, "dropping undecodable message", err, "topic", raw.Topic)
		return
	}
	MessagesReceived.WithLabelValues(msg.Kind().String()).Inc()

	n := Notification{Raw: raw, Message: msg}
	c.emit(EventMessage, n)
	switch msg.Kind() {
	case protocol.KindHello:
		c.emit(EventHello, n)
	case protocol.KindCommand:
		c.emit(EventCommand, n)
	case protocol.KindEvent:
		c.emit(EventEvent, n)
	}
}

func (c *Client) emit(kind EventKind, n Notification) {
	if err := c.em.Emit(kind, n); err != nil {
		errutil.LogWarn(c.logger, "client listener failed", err, "topic", n.Raw.Topic)
	}
}

// OnConnect registers fn for connection establishment.
func (c *Client) OnConnect(fn func()) func() {
	return c.em.On(EventConnect, func(Notification) error { fn(); return nil })
}

// OnDisconnect registers fn for connection loss or disconnect. err is nil
// for a requested disconnect.
func (c *Client) OnDisconnect(fn func(err error)) func() {
	return c.em.On(EventDisconnect, func(n Notification) error { fn(n.Err); return nil })
}

// OnRawMessage registers fn for every inbound message before decoding.
func (c *Client) OnRawMessage(fn func(connection.Message)) func() {
	return c.em.On(EventRawMessage, func(n Notification) error { fn(n.Raw); return nil })
}

// OnMessage registers fn for every successfully decoded message.
func (c *Client) OnMessage(fn func(protocol.Message)) func() {
	return c.em.On(EventMessage, func(n Notification) error { fn(n.Message); return nil })
}

// OnHello registers fn for device announcements.
func (c *Client) OnHello(fn func(protocol.Hello)) func() {
	return c.em.On(EventHello, func(n Notification) error {
		fn(n.Message.(protocol.Hello))
		return nil
	})
}

// OnCommand registers fn for commands.
func (c *Client) OnCommand(fn func(protocol.Command)) func() {
	return c.em.On(EventCommand, func(n Notification) error {
		fn(n.Message.(protocol.Command))
		return nil
	})
}

// OnEvent registers fn for device events.
func (c *Client) OnEvent(fn func(protocol.Event)) func() {
	return c.em.On(EventEvent, func(n Notification) error {
		fn(n.Message.(protocol.Event))
		return nil
	})
}
