// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/tetgame/tet/internal/client"
	"github.com/tetgame/tet/internal/config"
	"github.com/tetgame/tet/internal/device"
	"github.com/tetgame/tet/internal/observability"
	"github.com/tetgame/tet/internal/protocol"
	"github.com/tetgame/tet/internal/sandbox"
	"github.com/tetgame/tet/internal/server"
)

// serveOptions holds the flags of the serve command that are not config.
type serveOptions struct {
	game    string
	start   bool
	load    string
	devices []string
	console bool
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ServeDeps contains injectable dependencies for the serve command. Nil
// fields use their default implementations.
type ServeDeps struct {
	// TransportFactory creates workers.
	// Default: newTransportFactory from the sandbox config
	TransportFactory server.TransportFactory

	// ObservabilityServerFactory creates the metrics and health server.
	// Default: observability.NewServer with the tet collectors
	ObservabilityServerFactory func(addr string, status observability.SessionStatus) ObservabilityServer
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd(g *globals) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the game server",
		Long: `Run the game server: connect to the broker, start a script worker and
route device events into the game until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), g, opts, cmd.InOrStdin(), cmd.OutOrStdout(), nil)
		},
	}

	addBrokerFlags(cmd)
	def := config.Default()
	cmd.Flags().String("isolation", def.Sandbox.Isolation, "worker isolation (inprocess or process)")
	cmd.Flags().String("sandbox-exe", def.Sandbox.Executable, "sandbox executable for process isolation")
	cmd.Flags().Duration("script-timeout", def.Sandbox.ScriptTimeout, "deadline for each script evaluation")
	cmd.Flags().String("metrics-addr", "", "metrics/health HTTP address (empty = disabled)")

	cmd.Flags().StringVar(&opts.game, "game", "", "Lua game script to upload on start")
	cmd.Flags().BoolVar(&opts.start, "start", false, "start the game once initialized")
	cmd.Flags().StringVar(&opts.load, "load", "", "game dump to restore on start")
	cmd.Flags().StringArrayVar(&opts.devices, "device", nil, "simulated device as definition=id (definition is a file or a built-in: "+strings.Join(device.BuiltinNames(), ", ")+")")
	cmd.Flags().BoolVar(&opts.console, "console", false, "read operator commands from stdin")

	return cmd
}

// sessionStatus is ready once the server is connected and its worker runs.
func sessionStatus(srv *server.Server) observability.SessionStatus {
	return func() (string, bool) {
		st := srv.State()
		switch st {
		case server.StateConnected, server.StateRunning, server.StatePaused:
			return st.String(), true
		}
		return st.String(), false
	}
}

// runServe runs the server with injectable dependencies. If deps is nil,
// default implementations are used.
func runServe(ctx context.Context, g *globals, opts *serveOptions, in io.Reader, out io.Writer, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	cfg, logger := g.cfg, g.logger
	if deps.TransportFactory == nil {
		factory, err := newTransportFactory(cfg, logger)
		if err != nil {
			return err
		}
		deps.TransportFactory = factory
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, status observability.SessionStatus) ObservabilityServer {
			return observability.NewServer(addr, status, server.RegisterMetrics, client.RegisterMetrics, sandbox.RegisterMetrics)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conns, err := newConnector(cfg, logger)
	if err != nil {
		return err
	}
	c := client.New(conns.open("server", true), client.WithLogger(logger))
	defer c.Close()
	srv := server.New(c,
		server.WithLogger(logger),
		server.WithReadyTimeout(cfg.Server.ReadyTimeout),
		server.WithPublishTimeout(cfg.Server.PublishTimeout),
	)

	logger.Info("starting game server", "broker", cfg.Broker.Kind, "isolation", cfg.Sandbox.Isolation)

	if cfg.Metrics.Addr != "" {
		obs := deps.ObservabilityServerFactory(cfg.Metrics.Addr, sessionStatus(srv))
		obsErr, err := obs.Start()
		if err != nil {
			return oops.In("serve").Wrapf(err, "start observability server")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := obs.Stop(shutdownCtx); err != nil {
				logger.Warn("failed to stop observability server", "error", err)
			}
		}()
		go monitorServerErrors(ctx, stop, obsErr, "observability")
	}

	if err := srv.Init(ctx, deps.TransportFactory); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Close(shutdownCtx)
		logger.Info("game server stopped")
	}()

	for _, spec := range opts.devices {
		sim, err := startSimulator(ctx, conns, spec, logger)
		if err != nil {
			return err
		}
		defer sim.stop()
	}

	if err := prepareGame(ctx, srv, opts); err != nil {
		return err
	}

	if opts.console {
		return runConsole(ctx, c, in, out)
	}
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// prepareGame applies --load, --game and --start in that order.
func prepareGame(ctx context.Context, srv *server.Server, opts *serveOptions) error {
	if opts.load != "" {
		data, err := os.ReadFile(opts.load)
		if err != nil {
			return oops.In("serve").With("path", opts.load).Wrapf(err, "read game dump")
		}
		dump, err := protocol.DecodeGameDump(data)
		if err != nil {
			return oops.In("serve").With("path", opts.load).Wrap(err)
		}
		if err := srv.LoadGame(ctx, dump); err != nil {
			return err
		}
	}
	if opts.game != "" {
		code, err := os.ReadFile(opts.game)
		if err != nil {
			return oops.In("serve").With("path", opts.game).Wrapf(err, "read game script")
		}
		if err := srv.UploadGameCode(ctx, string(code)); err != nil {
			return err
		}
	}
	if opts.start {
		return srv.StartGame(ctx)
	}
	return nil
}

// runConsole forwards stdin lines as server commands and prints the
// server's events until ctx is done or stdin ends.
func runConsole(ctx context.Context, c *client.Client, in io.Reader, out io.Writer) error {
	off := c.OnEvent(func(ev protocol.Event) {
		if ev.SourceID == protocol.ServerID {
			printJSON(out, ev.Event, ev.Data)
		}
	})
	defer off()
	if err := c.SubscribeToEvents(ctx, protocol.ServerID); err != nil {
		return err
	}
	return readLines(ctx, in, out, func(name string, data any) error {
		return c.SendCommand(ctx, protocol.ServerID, name, data)
	})
}

type runningSimulator struct {
	sim    *device.Simulator
	client *client.Client
}

func (r runningSimulator) stop() {
	r.sim.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = r.client.Disconnect(ctx)
	r.client.Close()
}

// startSimulator attaches a simulated device given as "definition=id".
func startSimulator(ctx context.Context, conns *connector, spec string, logger *slog.Logger) (runningSimulator, error) {
	defPath, id, ok := strings.Cut(spec, "=")
	if !ok || defPath == "" || id == "" {
		return runningSimulator{}, oops.In("serve").With("device", spec).Errorf("device %q is not definition=id", spec)
	}
	def, err := device.LoadDefinition(defPath)
	if err != nil {
		return runningSimulator{}, err
	}
	c := client.New(conns.open(id, false), client.WithLogger(logger))
	sim, err := device.New(c, id, def, device.WithLogger(logger))
	if err != nil {
		c.Close()
		return runningSimulator{}, err
	}
	r := runningSimulator{sim: sim, client: c}
	if err := sim.Start(ctx); err != nil {
		r.stop()
		return runningSimulator{}, err
	}
	return r, nil
}

// monitorServerErrors cancels the command when a background server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
