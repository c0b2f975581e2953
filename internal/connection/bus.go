// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package connection

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/oops"

	"github.com/tetgame/tet/internal/async"
)

// Bus is an in-process broker. Connections created from the same Bus see
// each other's publishes, and retained messages are kept per topic.
type Bus struct {
	mu       sync.Mutex
	conns    map[*Loopback]struct{}
	retained map[string][]byte
	logger   *slog.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBusLogger sets the logger handed to connections of the bus.
func WithBusLogger(l *slog.Logger) BusOption {
	return func(b *Bus) { b.logger = l }
}

// NewBus returns an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		conns:    make(map[*Loopback]struct{}),
		retained: make(map[string][]byte),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewConnection returns a disconnected connection attached to the bus.
func (b *Bus) NewConnection(name string) *Loopback {
	c := &Loopback{bus: b, name: name}
	c.logger = b.logger.With("connection", name)
	return c
}

// Retained returns a copy of the retained payload for topic.
func (b *Bus) Retained(topic string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.retained[topic]
	return slices.Clone(p), ok
}

func (b *Bus) attach(c *Loopback) {
	b.mu.Lock()
	b.conns[c] = struct{}{}
	b.mu.Unlock()
}

func (b *Bus) detach(c *Loopback) {
	b.mu.Lock()
	delete(b.conns, c)
	b.mu.Unlock()
}

func (b *Bus) publish(topic string, payload []byte, retain bool) {
	b.mu.Lock()
	if retain {
		if len(payload) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = slices.Clone(payload)
		}
	}
	conns := make([]*Loopback, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.deliver(Message{Topic: topic, Payload: slices.Clone(payload)})
	}
}

func (b *Bus) retainedMatching(f *Filter) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Message
	for topic, payload := range b.retained {
		if f.Match(topic) {
			out = append(out, Message{Topic: topic, Payload: slices.Clone(payload), Retained: true})
		}
	}
	slices.SortFunc(out, func(a, b Message) int {
		switch {
		case a.Topic < b.Topic:
			return -1
		case a.Topic > b.Topic:
			return 1
		}
		return 0
	})
	return out
}

// Loopback is a Connection on a Bus. Messages are delivered on a per
// connection goroutine in publish order, never from inside Publish.
type Loopback struct {
	listeners

	bus  *Bus
	name string

	mu        sync.Mutex
	connected bool
	filters   []*Filter
	inbox     *async.Queue[Message]
	stop      context.CancelFunc
}

var _ Connection = (*Loopback)(nil)

// Connect attaches the connection to its bus.
func (c *Loopback) Connect(_ context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return alreadyConnected()
	}
	c.connected = true
	c.filters = nil
	c.inbox = async.NewQueue[Message]()
	ctx, cancel := context.WithCancel(context.Background())
	c.stop = cancel
	go c.dispatch(ctx, c.inbox)
	c.mu.Unlock()

	c.bus.attach(c)
	c.logger.Debug("loopback connected")
	c.emit(EventConnect, Event{})
	return nil
}

// Disconnect detaches the connection. Messages not yet delivered are dropped.
func (c *Loopback) Disconnect(_ context.Context) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return notConnected("disconnect")
	}
	c.connected = false
	c.filters = nil
	c.inbox.Discard()
	c.stop()
	c.mu.Unlock()

	c.bus.detach(c)
	c.logger.Debug("loopback disconnected")
	c.emit(EventDisconnect, Event{})
	return nil
}

// IsConnected reports whether the connection is attached.
func (c *Loopback) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Publish hands the message to the bus.
func (c *Loopback) Publish(_ context.Context, topic string, payload []byte, retain bool) error {
	if !c.IsConnected() {
		return notConnected("publish")
	}
	if !ValidTopic(topic) {
		return oops.In("connection").Code(CodePublishFailed).With("topic", topic).Errorf("invalid topic %q", topic)
	}
	c.bus.publish(topic, payload, retain)
	return nil
}

// Subscribe registers filter and queues the retained messages it matches.
func (c *Loopback) Subscribe(_ context.Context, filter string) error {
	f, err := CompileFilter(filter)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return notConnected("subscribe")
	}
	for _, existing := range c.filters {
		if existing.String() == filter {
			c.mu.Unlock()
			return nil
		}
	}
	c.filters = append(c.filters, f)
	inbox := c.inbox
	c.mu.Unlock()

	for _, msg := range c.bus.retainedMatching(f) {
		inbox.Push(msg)
	}
	return nil
}

func (c *Loopback) deliver(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return
	}
	for _, f := range c.filters {
		if f.Match(msg.Topic) {
			c.inbox.Push(msg)
			return
		}
	}
}

func (c *Loopback) dispatch(ctx context.Context, inbox *async.Queue[Message]) {
	for {
		msg, ok := inbox.Pop(ctx)
		if !ok {
			return
		}
		c.emit(EventMessage, Event{Message: msg})
	}
}
