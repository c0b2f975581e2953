// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package client_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tetgame/tet/internal/client"
	"github.com/tetgame/tet/internal/connection"
	"github.com/tetgame/tet/internal/protocol"
	"github.com/tetgame/tet/internal/schema"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func buttonDefinition() protocol.DeviceDefinition {
	return protocol.DeviceDefinition{
		TypeTag: "MockButton#0.0.0",
		Commands: map[string]*schema.Type{
			protocol.CommandUpdateState: schema.Object(map[string]*schema.Type{"on": schema.Boolean()}),
			protocol.CommandShutdown:    schema.Null(),
		},
		Events: map[string]*schema.Type{"buttonPressed": schema.Null()},
	}
}

func newConnected(t *testing.T, bus *connection.Bus, name string) *client.Client {
	t.Helper()
	c := client.New(bus.NewConnection(name))
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() {
		if c.IsConnected() {
			_ = c.Disconnect(context.Background())
		}
		c.Close()
	})
	return c
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

func TestClient_HelloRoundTrip(t *testing.T) {
	bus := connection.NewBus()
	server := newConnected(t, bus, "server")
	device := newConnected(t, bus, "device")
	ctx := context.Background()

	hellos := make(chan protocol.Hello, 1)
	server.OnHello(func(h protocol.Hello) { hellos <- h })
	require.NoError(t, server.SubscribeToDevices(ctx))

	require.NoError(t, device.SendHello(ctx, "btn1", buttonDefinition()))

	h := receive(t, hellos)
	assert.Equal(t, "btn1", h.SourceID)
	assert.Equal(t, "MockButton#0.0.0", h.Definition.TypeTag)
}

func TestClient_HelloIsRetained(t *testing.T) {
	bus := connection.NewBus()
	device := newConnected(t, bus, "device")
	ctx := context.Background()
	require.NoError(t, device.SendHello(ctx, "btn1", buttonDefinition()))

	server := newConnected(t, bus, "server")
	hellos := make(chan protocol.Hello, 1)
	server.OnHello(func(h protocol.Hello) { hellos <- h })
	require.NoError(t, server.SubscribeToDevices(ctx))

	assert.Equal(t, "btn1", receive(t, hellos).SourceID)
}

func TestClient_CommandsAndEvents(t *testing.T) {
	bus := connection.NewBus()
	server := newConnected(t, bus, "server")
	device := newConnected(t, bus, "device")
	ctx := context.Background()

	commands := make(chan protocol.Command, 1)
	events := make(chan protocol.Event, 1)
	device.OnCommand(func(c protocol.Command) { commands <- c })
	server.OnEvent(func(e protocol.Event) { events <- e })
	require.NoError(t, device.SubscribeToCommands(ctx, "btn1"))
	require.NoError(t, server.SubscribeToEvents(ctx, "btn1"))

	require.NoError(t, server.SendCommand(ctx, "btn1", "stateChange", map[string]any{"on": true}))
	cmd := receive(t, commands)
	assert.Equal(t, "btn1", cmd.TargetID)
	assert.JSONEq(t, `{"on":true}`, string(cmd.Data))

	require.NoError(t, device.SendEvent(ctx, "btn1", "buttonPressed", nil))
	ev := receive(t, events)
	assert.Equal(t, "buttonPressed", ev.Event)
	assert.JSONEq(t, "null", string(ev.Data))

	_, ok := bus.Retained(protocol.EventTopic("btn1"))
	assert.False(t, ok, "events are not retained")
	_, ok = bus.Retained(protocol.CommandTopic("btn1"))
	assert.True(t, ok, "commands are retained")
}

func TestClient_MalformedTrafficIsSwallowed(t *testing.T) {
	bus := connection.NewBus()
	c := newConnected(t, bus, "server")
	ctx := context.Background()

	raws := make(chan connection.Message, 4)
	messages := make(chan protocol.Message, 4)
	c.OnRawMessage(func(m connection.Message) { raws <- m })
	c.OnMessage(func(m protocol.Message) { messages <- m })
	require.NoError(t, c.Connection().Subscribe(ctx, "#"))

	conn := c.Connection()
	require.NoError(t, conn.Publish(ctx, "garbage/topic", []byte(`{}`), false))
	require.NoError(t, conn.Publish(ctx, "tet/devices/x/events", []byte(`not json`), false))
	require.NoError(t, conn.Publish(ctx, "tet/devices/x/events", []byte(`{"event":"ok"}`), false))

	receive(t, raws)
	receive(t, raws)
	receive(t, raws)
	msg := receive(t, messages)
	assert.Equal(t, protocol.KindEvent, msg.Kind())
	select {
	case m := <-messages:
		t.Fatalf("unexpected message %v", m)
	default:
	}
}

func TestClient_PanickingListenerDoesNotBlockOthers(t *testing.T) {
	bus := connection.NewBus()
	c := newConnected(t, bus, "server")
	ctx := context.Background()

	got := make(chan protocol.Event, 1)
	c.OnEvent(func(protocol.Event) { panic("listener bug") })
	c.OnEvent(func(e protocol.Event) { got <- e })
	require.NoError(t, c.SubscribeToEvents(ctx, "x"))

	require.NoError(t, c.SendEvent(ctx, "x", "ping", 1))
	assert.Equal(t, "ping", receive(t, got).Event)
}

func TestClient_LifecycleNotifications(t *testing.T) {
	c := client.New(connection.NewBus().NewConnection("a"))
	defer c.Close()
	connected, disconnected := 0, 0
	c.OnConnect(func() { connected++ })
	c.OnDisconnect(func(error) { disconnected++ })

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Disconnect(context.Background()))

	assert.Equal(t, 1, connected)
	assert.Equal(t, 1, disconnected)
}

func TestClient_SendRequiresConnection(t *testing.T) {
	c := client.New(connection.NewBus().NewConnection("a"))
	defer c.Close()
	err := c.SendEvent(context.Background(), "x", "e", nil)
	assert.Error(t, err)
}
