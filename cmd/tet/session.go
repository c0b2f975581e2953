// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package main

import (
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/samber/oops"

	"github.com/tetgame/tet/internal/config"
	"github.com/tetgame/tet/internal/connection"
	"github.com/tetgame/tet/internal/game"
	"github.com/tetgame/tet/internal/sandbox"
	"github.com/tetgame/tet/internal/sandbox/lua"
	"github.com/tetgame/tet/internal/sandbox/process"
	"github.com/tetgame/tet/internal/server"
)

// connector opens connections to the configured broker. Loopback
// connections of one connector share a bus.
type connector struct {
	mqtt connection.MQTTOptions
	bus  *connection.Bus
}

func newConnector(cfg *config.Config, logger *slog.Logger) (*connector, error) {
	if cfg.Broker.Kind == config.BrokerLoopback {
		return &connector{bus: connection.NewBus(connection.WithBusLogger(logger))}, nil
	}
	opts, err := cfg.MQTTOptions(logger)
	if err != nil {
		return nil, err
	}
	return &connector{mqtt: opts}, nil
}

// open returns a connection for name. Only the primary connection uses the
// configured client id; the others get generated ones.
func (c *connector) open(name string, primary bool) connection.Connection {
	if c.bus != nil {
		return c.bus.NewConnection(name)
	}
	opts := c.mqtt
	if !primary || opts.ClientID == "" {
		opts.ClientID = connection.NewClientID("tet-" + name)
	}
	return connection.NewMQTT(opts)
}

// sandboxExecutable finds exe on PATH or next to the running binary.
func sandboxExecutable(exe string) (string, error) {
	if path, err := exec.LookPath(exe); err == nil {
		return path, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", oops.In("sandbox").Code(sandbox.CodeWorkerFailed).Wrapf(err, "locate tet binary")
	}
	path := filepath.Join(filepath.Dir(self), filepath.Base(exe))
	if _, err := os.Stat(path); err != nil {
		return "", oops.In("sandbox").Code(sandbox.CodeWorkerFailed).With("executable", exe).
			Errorf("sandbox executable %q not found on PATH or next to %s", exe, self)
	}
	return path, nil
}

// newTransportFactory builds workers the way cfg.Sandbox asks for.
func newTransportFactory(cfg *config.Config, logger *slog.Logger) (server.TransportFactory, error) {
	sc := cfg.Sandbox
	policy, err := game.ParseRedefinitionPolicy(sc.ClassRedefinition)
	if err != nil {
		return nil, err
	}

	if sc.Isolation == config.IsolationProcess {
		exe, err := sandboxExecutable(sc.Executable)
		if err != nil {
			return nil, err
		}
		args := process.StartArgs{
			ScriptTimeout: sc.ScriptTimeout,
			Libraries:     sc.Libraries,
			Redefinition:  sc.ClassRedefinition,
		}
		factory := &process.DefaultClientFactory{LogLevel: cfg.Log.Level}
		return func() (sandbox.Transport, error) {
			return process.New(exe, args, process.WithLogger(logger), process.WithClientFactory(factory)), nil
		}, nil
	}

	opts := []lua.EngineOption{lua.WithScriptTimeout(sc.ScriptTimeout), lua.WithLogger(logger)}
	if len(sc.Libraries) > 0 {
		opts = append(opts, lua.WithLibraries(sc.Libraries...))
	}
	engine, err := lua.NewEngine(opts...)
	if err != nil {
		return nil, err
	}
	return func() (sandbox.Transport, error) {
		return sandbox.NewLocal(engine, logger, sandbox.WithRedefinitionPolicy(policy)), nil
	}, nil
}
