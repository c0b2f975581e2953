// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

//go:build integration

package integration

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tetgame/tet/internal/client"
	"github.com/tetgame/tet/internal/connection"
	"github.com/tetgame/tet/internal/device"
	"github.com/tetgame/tet/internal/protocol"
	"github.com/tetgame/tet/internal/sandbox"
	"github.com/tetgame/tet/internal/sandbox/lua"
	"github.com/tetgame/tet/internal/server"
)

// startBroker runs a Mosquitto broker that accepts anonymous clients and
// returns its tcp:// URL.
func startBroker(ctx context.Context) (testcontainers.Container, string) {
	container, err := testcontainers.Run(ctx,
		"eclipse-mosquitto:2",
		testcontainers.WithExposedPorts("1883/tcp"),
		testcontainers.WithCmd("mosquitto", "-c", "/mosquitto-no-auth.conf"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("1883/tcp").WithStartupTimeout(30*time.Second),
		),
	)
	Expect(err).NotTo(HaveOccurred())

	host, err := container.Host(ctx)
	Expect(err).NotTo(HaveOccurred())
	port, err := container.MappedPort(ctx, "1883/tcp")
	Expect(err).NotTo(HaveOccurred())
	return container, fmt.Sprintf("tcp://%s:%s", host, port.Port())
}

var _ = Describe("Game session over MQTT", Ordered, func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		container testcontainers.Container
		brokerURL string
	)

	open := func(name string) *client.Client {
		return client.New(connection.NewMQTT(connection.MQTTOptions{
			Broker:   brokerURL,
			ClientID: connection.NewClientID("it-" + name),
		}))
	}

	BeforeAll(func() {
		SetDefaultEventuallyTimeout(10 * time.Second)
		ctx, cancel = context.WithCancel(context.Background())
		container, brokerURL = startBroker(ctx)
	})

	AfterAll(func() {
		if container != nil {
			_ = container.Terminate(context.Background())
		}
		cancel()
	})

	It("toggles a lamp through a real broker", func() {
		engine, err := lua.NewEngine(lua.WithScriptTimeout(time.Second))
		Expect(err).NotTo(HaveOccurred())
		srv := server.New(open("server"))
		Expect(srv.Init(ctx, func() (sandbox.Transport, error) {
			return sandbox.NewLocal(engine, nil), nil
		})).To(Succeed())
		defer srv.Close(context.Background())

		dc := open("b1")
		button, err := device.New(dc, "b1", device.Button())
		Expect(err).NotTo(HaveOccurred())
		Expect(button.Start(ctx)).To(Succeed())
		defer func() {
			button.Stop()
			_ = dc.Disconnect(context.Background())
		}()
		Eventually(srv.Devices).Should(HaveKey("b1"))

		op := open("operator")
		Expect(op.Connect(ctx)).To(Succeed())
		defer func() { _ = op.Disconnect(context.Background()) }()
		Expect(op.SendCommand(ctx, protocol.ServerID, server.CommandUploadGameCode, gameScript)).To(Succeed())
		Expect(op.SendCommand(ctx, protocol.ServerID, server.CommandStartGame, nil)).To(Succeed())
		Eventually(srv.State).Should(Equal(server.StateRunning))

		Expect(button.Emit(ctx, "pressed", nil)).To(Succeed())
		Eventually(button.State).Should(Equal(map[string]any{"on": true}))
	})
})
