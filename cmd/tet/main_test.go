// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetgame/tet/internal/client"
	"github.com/tetgame/tet/internal/config"
	"github.com/tetgame/tet/internal/connection"
	"github.com/tetgame/tet/internal/protocol"
	"github.com/tetgame/tet/internal/sandbox"
	"github.com/tetgame/tet/internal/server"
	"github.com/tetgame/tet/internal/tls"
	"github.com/tetgame/tet/pkg/errutil"
)

const lampScript = `
local Lamp = game.defineDeviceClass("lamp", Types.object({ on = Types.boolean() }), { pressed = true })
Lamp:on("pressed", function(source, data, state)
	game.updateDeviceState("lamp", source, { on = not state.on })
end)
game.linkDeviceType("lamp", "MockButton#0.0.0")
`

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testGlobals() *globals {
	cfg := config.Default()
	cfg.Broker.Kind = config.BrokerLoopback
	return &globals{cfg: cfg, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := NewRootCmd()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "ctl", "device", "certs", "schema", "version"})
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSchemaCmd(t *testing.T) {
	out, err := execute(t, "schema")
	require.NoError(t, err)
	assert.Contains(t, out, "# hello")
	assert.Contains(t, out, "# game-dump")
	assert.Contains(t, out, "# worker-request")

	out, err = execute(t, "schema", "worker-reply")
	require.NoError(t, err)
	assert.Contains(t, out, "Sandbox worker reply")

	_, err = execute(t, "schema", "nope")
	assert.Error(t, err)
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "tet dev"), out)
}

func TestRootCmd_RejectsInvalidConfig(t *testing.T) {
	path := writeFile(t, "config.yaml", "log:\n  format: xml\n")
	_, err := execute(t, "--config", path, "version")
	errutil.AssertErrorCode(t, err, config.CodeInvalidConfig)
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		name string
		data any
	}{
		{"startGame", "startGame", nil},
		{"  pressed   ", "pressed", nil},
		{`level 3`, "level", float64(3)},
		{`uploadGameCode "print(1)"`, "uploadGameCode", "print(1)"},
		{`moved {"x": 1}`, "moved", map[string]any{"x": float64(1)}},
		{"", "", nil},
	}
	for _, tt := range tests {
		name, data, err := parseLine(tt.line)
		require.NoError(t, err, tt.line)
		assert.Equal(t, tt.name, name, tt.line)
		assert.Equal(t, tt.data, data, tt.line)
	}

	_, _, err := parseLine("level {broken")
	assert.Error(t, err)
}

func TestReadLines(t *testing.T) {
	var got []string
	var errOut bytes.Buffer
	in := strings.NewReader("a 1\n\nb {oops\nfail\nc\n")

	err := readLines(context.Background(), in, &errOut, func(name string, _ any) error {
		if name == "fail" {
			return errors.New("refused")
		}
		got = append(got, name)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, got)
	assert.Contains(t, errOut.String(), "data is not JSON")
	assert.Contains(t, errOut.String(), "refused")
}

func TestCommandData(t *testing.T) {
	script := writeFile(t, "game.lua", lampScript)
	dump := writeFile(t, "dump.json", `{"gameData":{"devices":[],"links":{}},"devices":{},"gameCode":"x = 1"}`)

	data, err := commandData([]string{server.CommandStartGame})
	require.NoError(t, err)
	assert.Nil(t, data)

	data, err = commandData([]string{server.CommandUploadGameCode, script})
	require.NoError(t, err)
	assert.Equal(t, lampScript, data)

	data, err = commandData([]string{server.CommandLoadGame, dump})
	require.NoError(t, err)
	assert.Equal(t, "x = 1", data.(protocol.GameDump).GameCode)

	_, err = commandData([]string{"explode"})
	errutil.AssertErrorCode(t, err, server.CodeUnknownCommand)
	_, err = commandData([]string{server.CommandLoadGame})
	assert.Error(t, err)
	_, err = commandData([]string{server.CommandPauseGame, script})
	assert.Error(t, err)
}

func TestNewTransportFactory(t *testing.T) {
	g := testGlobals()

	factory, err := newTransportFactory(g.cfg, g.logger)
	require.NoError(t, err)
	tr, err := factory()
	require.NoError(t, err)
	assert.IsType(t, &sandbox.Local{}, tr)

	g.cfg.Sandbox.Isolation = config.IsolationProcess
	g.cfg.Sandbox.Executable = "tet-sandbox-that-does-not-exist"
	_, err = newTransportFactory(g.cfg, g.logger)
	errutil.AssertErrorCode(t, err, sandbox.CodeWorkerFailed)
}

func TestConnector(t *testing.T) {
	g := testGlobals()
	conns, err := newConnector(g.cfg, g.logger)
	require.NoError(t, err)
	assert.IsType(t, &connection.Loopback{}, conns.open("a", true))

	g.cfg.Broker.Kind = config.BrokerMQTT
	conns, err = newConnector(g.cfg, g.logger)
	require.NoError(t, err)
	assert.IsType(t, &connection.MQTT{}, conns.open("a", true))

	g.cfg.Broker.TLS.CAFile = filepath.Join(t.TempDir(), "missing.crt")
	_, err = newConnector(g.cfg, g.logger)
	errutil.AssertErrorCode(t, err, config.CodeInvalidConfig)
}

func TestServe_Console(t *testing.T) {
	g := testGlobals()
	opts := &serveOptions{
		game:    writeFile(t, "game.lua", lampScript),
		start:   true,
		devices: []string{"button=b1"},
		console: true,
	}
	in, feed := io.Pipe()
	out := &syncBuffer{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, g, opts, in, out, nil) }()

	_, err := io.WriteString(feed, "dumpGame\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "gameDump ")
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "MockButton#0.0.0")

	_, err = io.WriteString(feed, "selfDestruct\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "UNKNOWN_COMMAND")
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, feed.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop when stdin closed")
	}
}

func TestServe_BadDevice(t *testing.T) {
	err := runServe(context.Background(), testGlobals(), &serveOptions{devices: []string{"button"}}, strings.NewReader(""), io.Discard, nil)
	assert.Error(t, err)
}

func TestRunCtl(t *testing.T) {
	ctx := context.Background()
	bus := connection.NewBus()
	g := testGlobals()
	factory, err := newTransportFactory(g.cfg, g.logger)
	require.NoError(t, err)

	srv := server.New(client.New(bus.NewConnection("server")), server.WithLogger(g.logger))
	require.NoError(t, srv.Init(ctx, factory))
	t.Cleanup(func() { srv.Close(context.Background()) })

	ctl := func(wait time.Duration, args ...string) (string, error) {
		c := client.New(bus.NewConnection("ctl"))
		defer c.Close()
		var out bytes.Buffer
		err := runCtl(ctx, c, args, &ctlOptions{wait: wait}, &out)
		return out.String(), err
	}

	out, err := ctl(100*time.Millisecond, server.CommandStartGame)
	require.NoError(t, err)
	assert.Equal(t, "startGame sent\n", out)
	require.Eventually(t, func() bool { return srv.State() == server.StateRunning }, 5*time.Second, 10*time.Millisecond)

	out, err = ctl(5*time.Second, server.CommandDumpGame)
	require.NoError(t, err)
	assert.Contains(t, out, `"gameData"`)

	path := filepath.Join(t.TempDir(), "dump.json")
	c := client.New(bus.NewConnection("ctl-file"))
	defer c.Close()
	var msg bytes.Buffer
	require.NoError(t, runCtl(ctx, c, []string{server.CommandDumpGame}, &ctlOptions{wait: 5 * time.Second, output: path}, &msg))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = protocol.DecodeGameDump(data)
	require.NoError(t, err)

	require.NoError(t, srv.ResetGame(ctx))
	_, err = ctl(5*time.Second, server.CommandPauseGame)
	var report errutil.Report
	require.ErrorAs(t, err, &report)
	assert.Equal(t, server.CodeNotRunning, report.Code)
}

func TestRunCerts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	var out bytes.Buffer
	require.NoError(t, runCerts(&certsOptions{dir: dir, name: "arcade", hosts: []string{"mqtt.local"}}, &out))
	assert.Contains(t, out.String(), "certificates written to "+dir)
	for _, name := range []string{"root-ca.crt", "root-ca.key", "broker.crt", "broker.key", "tet.crt", "tet.key"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	first, err := tls.LoadCA(dir)
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, runCerts(&certsOptions{dir: dir, name: "arcade"}, &out))
	assert.Contains(t, out.String(), "using existing CA")
	again, err := tls.LoadCA(dir)
	require.NoError(t, err)
	assert.True(t, first.Certificate.Equal(again.Certificate))
}
