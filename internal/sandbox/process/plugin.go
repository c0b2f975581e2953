// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package process

import (
	"context"
	"errors"
	"log/slog"

	hashiplug "github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
)

// HandshakeConfig is shared by the server and the sandbox executable. A
// mismatch makes the child refuse to start.
var HandshakeConfig = hashiplug.HandshakeConfig{
	ProtocolVersion:  2,
	MagicCookieKey:   "TET_SANDBOX",
	MagicCookieValue: "d3ad1f6a-worker",
}

const pluginName = "worker"

// PluginMap is the map of plugins the host can dispense.
var PluginMap = map[string]hashiplug.Plugin{
	pluginName: &WorkerPlugin{},
}

// WorkerPlugin carries the worker service across go-plugin's gRPC protocol.
type WorkerPlugin struct {
	hashiplug.NetRPCUnsupportedPlugin
	// Impl is set on the child side only.
	Impl WorkerServer
}

// GRPCServer registers the worker service (called in the child).
func (p *WorkerPlugin) GRPCServer(_ *hashiplug.GRPCBroker, s *grpc.Server) error {
	if p.Impl == nil {
		return errors.New("sandbox: worker implementation is nil")
	}
	RegisterWorkerServer(s, p.Impl)
	return nil
}

// GRPCClient returns the worker stub (called in the host).
func (*WorkerPlugin) GRPCClient(_ context.Context, _ *hashiplug.GRPCBroker, c *grpc.ClientConn) (any, error) {
	return NewGRPCClient(c), nil
}

// Serve runs the sandbox child. It is called from the sandbox executable's
// main and returns when the host kills the process.
func Serve(logger *slog.Logger) {
	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins: map[string]hashiplug.Plugin{
			pluginName: &WorkerPlugin{Impl: NewGRPCServer(logger)},
		},
		GRPCServer: hashiplug.DefaultGRPCServer,
	})
}
