// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/tetgame/tet/internal/client"
	"github.com/tetgame/tet/internal/connection"
	"github.com/tetgame/tet/internal/device"
	"github.com/tetgame/tet/internal/protocol"
	"github.com/tetgame/tet/internal/sandbox"
	"github.com/tetgame/tet/internal/sandbox/lua"
	"github.com/tetgame/tet/internal/server"
	"github.com/tetgame/tet/pkg/errutil"
)

const gameScript = `
local Lamp = game.defineDeviceClass("lamp", Types.object({ on = Types.boolean() }), { pressed = true })
Lamp:on("pressed", function(source, data, state)
	game.updateDeviceState("lamp", source, { on = not state.on })
end)
game.linkDeviceType("lamp", "MockButton#0.0.0")

local rgb = Types.object({ r = Types.integer(0, 255), g = Types.integer(0, 255), b = Types.integer(0, 255) })
local Sem = game.defineDeviceClass("sem", Types.object({ leds = Types.fixedArray(rgb, 12) }), { leftPressed = true, rightPressed = true })
local function fill(r, g, b)
	local leds = {}
	for i = 1, 12 do leds[i] = { r = r, g = g, b = b } end
	return { leds = leds }
end
Sem:on("leftPressed", function(id) game.updateDeviceState("sem", id, fill(255, 0, 0)) end)
Sem:on("rightPressed", function(id) game.updateDeviceState("sem", id, fill(0, 0, 255)) end)
game.linkDeviceType("sem", "Semaphore#1.0.0")
`

// session is one server with its operator on a private bus.
type session struct {
	ctx     context.Context
	bus     *connection.Bus
	srv     *server.Server
	op      *client.Client
	reports chan errutil.Report
	dumps   chan protocol.GameDump
	devices []*device.Simulator
}

func newSession(ctx context.Context) *session {
	s := &session{
		ctx:     ctx,
		bus:     connection.NewBus(),
		reports: make(chan errutil.Report, 16),
		dumps:   make(chan protocol.GameDump, 4),
	}
	engine, err := lua.NewEngine(lua.WithScriptTimeout(time.Second))
	Expect(err).NotTo(HaveOccurred())
	s.srv = server.New(client.New(s.bus.NewConnection("server")))
	Expect(s.srv.Init(ctx, func() (sandbox.Transport, error) {
		return sandbox.NewLocal(engine, nil), nil
	})).To(Succeed())

	s.op = client.New(s.bus.NewConnection("operator"))
	s.op.OnEvent(func(ev protocol.Event) {
		defer GinkgoRecover()
		switch ev.Event {
		case server.EventError:
			var r errutil.Report
			Expect(json.Unmarshal(ev.Data, &r)).To(Succeed())
			s.reports <- r
		case server.EventGameDump:
			d, err := protocol.DecodeGameDump(ev.Data)
			Expect(err).NotTo(HaveOccurred())
			s.dumps <- d
		}
	})
	Expect(s.op.Connect(ctx)).To(Succeed())
	Expect(s.op.SubscribeToEvents(ctx, protocol.ServerID)).To(Succeed())
	return s
}

func (s *session) close() {
	for _, d := range s.devices {
		d.Stop()
	}
	s.srv.Close(context.Background())
	_ = s.op.Disconnect(context.Background())
}

func (s *session) attach(id string, def protocol.DeviceDefinition) *device.Simulator {
	sim, err := device.New(client.New(s.bus.NewConnection(id)), id, def)
	Expect(err).NotTo(HaveOccurred())
	Expect(sim.Start(s.ctx)).To(Succeed())
	s.devices = append(s.devices, sim)
	Eventually(s.srv.Devices).Should(HaveKey(id))
	return sim
}

func (s *session) command(name string, data any) {
	Expect(s.op.SendCommand(s.ctx, protocol.ServerID, name, data)).To(Succeed())
}

func (s *session) state() server.State { return s.srv.State() }

var _ = Describe("Game session", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		s      *session
		button *device.Simulator
		sem    *device.Simulator
	)

	BeforeEach(func() {
		SetDefaultEventuallyTimeout(5 * time.Second)
		ctx, cancel = context.WithCancel(context.Background())
		s = newSession(ctx)
		button = s.attach("b1", device.Button())
		sem = s.attach("s1", device.Semaphore())

		s.command(server.CommandUploadGameCode, gameScript)
		s.command(server.CommandStartGame, nil)
		Eventually(s.state).Should(Equal(server.StateRunning))
	})

	AfterEach(func() {
		s.close()
		cancel()
	})

	It("toggles the lamp when the button is pressed", func() {
		Expect(button.Emit(ctx, "pressed", nil)).To(Succeed())
		Eventually(button.State).Should(Equal(map[string]any{"on": true}))

		Expect(button.Emit(ctx, "pressed", nil)).To(Succeed())
		Eventually(button.State).Should(Equal(map[string]any{"on": false}))
	})

	It("paints the semaphore from either button", func() {
		led := func(i int) func() any {
			return func() any {
				leds := sem.State().(map[string]any)["leds"].([]any)
				return leds[i]
			}
		}

		Expect(sem.Emit(ctx, "leftPressed", nil)).To(Succeed())
		Eventually(led(0)).Should(Equal(map[string]any{"r": float64(255), "g": float64(0), "b": float64(0)}))

		Expect(sem.Emit(ctx, "rightPressed", nil)).To(Succeed())
		Eventually(led(11)).Should(Equal(map[string]any{"r": float64(0), "g": float64(0), "b": float64(255)}))
	})

	It("ignores device events while paused", func() {
		s.command(server.CommandPauseGame, nil)
		Eventually(s.state).Should(Equal(server.StatePaused))

		Expect(button.Emit(ctx, "pressed", nil)).To(Succeed())
		Consistently(button.State, 200*time.Millisecond).Should(Equal(map[string]any{"on": false}))

		s.command(server.CommandStartGame, nil)
		Eventually(s.state).Should(Equal(server.StateRunning))
		Expect(button.Emit(ctx, "pressed", nil)).To(Succeed())
		Eventually(button.State).Should(Equal(map[string]any{"on": true}))
	})

	It("reports script errors to the operator", func() {
		s.command(server.CommandUploadGameCode, `game.linkDeviceType("ghost", "Ghost#1.0.0")`)

		var r errutil.Report
		Eventually(s.reports).Should(Receive(&r))
		Expect(r.Message).To(ContainSubstring("ghost"))
		Expect(r.Context).To(HaveKey("errorId"))
		Expect(s.state()).To(Equal(server.StateRunning))
	})

	It("restores a dumped game on a fresh server", func() {
		Expect(button.Emit(ctx, "pressed", nil)).To(Succeed())
		Eventually(button.State).Should(Equal(map[string]any{"on": true}))

		s.command(server.CommandDumpGame, nil)
		var dump protocol.GameDump
		Eventually(s.dumps).Should(Receive(&dump))
		Expect(dump.Devices).To(HaveKey("b1"))
		Expect(dump.GameCode).To(Equal(gameScript))

		restored := newSession(ctx)
		defer restored.close()
		restored.command(server.CommandLoadGame, dump)
		Eventually(restored.srv.Devices).Should(And(HaveKey("b1"), HaveKey("s1")))

		restored.command(server.CommandDumpGame, nil)
		var again protocol.GameDump
		Eventually(restored.dumps).Should(Receive(&again))
		Expect(again.GameData).To(Equal(dump.GameData))
	})

	It("stops a device on shutdown", func() {
		Expect(s.op.SendCommand(ctx, "b1", protocol.CommandShutdown, nil)).To(Succeed())
		Eventually(button.Done()).Should(BeClosed())
	})
})
