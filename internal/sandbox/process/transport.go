// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

// Package process runs the sandbox worker in a child process, reached over
// HashiCorp go-plugin's gRPC protocol. Killing the child is the only way
// to stop a script that ignores its deadline.
package process

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"sync"

	"github.com/hashicorp/go-hclog"
	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"

	"github.com/tetgame/tet/internal/async"
	"github.com/tetgame/tet/internal/sandbox"
)

// PluginClient wraps a go-plugin client for testability.
type PluginClient interface {
	// Client starts the child if needed and returns its protocol client.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the child.
	Kill()
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	NewClient(execPath string) PluginClient
}

// LogLevelEnv carries the log level to the sandbox executable.
const LogLevelEnv = "TET_SANDBOX_LOG_LEVEL"

// DefaultClientFactory launches real sandbox executables.
type DefaultClientFactory struct {
	// LogLevel applies to the child's own logger and to the hclog logger
	// that relays its output.
	LogLevel string
}

// NewClient returns a go-plugin client for execPath.
func (f *DefaultClientFactory) NewClient(execPath string) PluginClient {
	cmd := exec.Command(execPath) // #nosec G204 -- path comes from operator configuration
	cmd.Env = append(os.Environ(), LogLevelEnv+"="+f.LogLevel)
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig:  HandshakeConfig,
		Plugins:          PluginMap,
		Cmd:              cmd,
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolGRPC},
		Logger: hclog.New(&hclog.LoggerOptions{
			Name:   "tet-sandbox",
			Level:  hclog.LevelFromString(f.LogLevel),
			Output: os.Stderr,
		}),
	})
}

// Transport is a sandbox.Transport backed by a child process.
type Transport struct {
	sandbox.Listeners

	execPath string
	args     StartArgs
	factory  ClientFactory
	logger   *slog.Logger

	mu       sync.Mutex
	client   PluginClient
	inbox    *async.Queue[[]byte]
	cancel   context.CancelFunc
	done     chan struct{}
	started  bool
	disposed bool
}

var _ sandbox.Transport = (*Transport)(nil)

// Option configures a Transport.
type Option func(*Transport)

// WithClientFactory replaces the go-plugin client factory.
func WithClientFactory(f ClientFactory) Option {
	return func(t *Transport) { t.factory = f }
}

// WithLogger sets the transport logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// New returns an unstarted transport for the sandbox executable at execPath.
func New(execPath string, args StartArgs, opts ...Option) *Transport {
	t := &Transport{
		execPath: execPath,
		args:     args,
		factory:  &DefaultClientFactory{},
		logger:   slog.Default(),
		inbox:    async.NewQueue[[]byte](),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("transport", "process", "executable", execPath)
	t.SetLogger(t.logger)
	return t
}

// Start launches the child and opens the worker channel with the worker
// configuration. The ready reply arrives through OnMessage.
func (t *Transport) Start(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return oops.In("sandbox").Code(sandbox.CodeTransportDisposed).Errorf("transport is disposed")
	}
	if t.started {
		return nil
	}

	if _, err := os.Stat(t.execPath); err != nil {
		return oops.In("sandbox").Code(sandbox.CodeWorkerFailed).With("executable", t.execPath).Wrapf(err, "sandbox executable")
	}
	client := t.factory.NewClient(t.execPath)
	proto, err := client.Client()
	if err != nil {
		client.Kill()
		return oops.In("sandbox").Code(sandbox.CodeWorkerFailed).Wrapf(err, "connect to sandbox")
	}
	raw, err := proto.Dispense(pluginName)
	if err != nil {
		client.Kill()
		return oops.In("sandbox").Code(sandbox.CodeWorkerFailed).Wrapf(err, "dispense worker")
	}
	worker, ok := raw.(workerClient)
	if !ok {
		client.Kill()
		return oops.In("sandbox").Code(sandbox.CodeWorkerFailed).Errorf("sandbox returned %T, not a worker", raw)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := worker.Open(ctx, t.args)
	if err != nil {
		cancel()
		client.Kill()
		return err
	}

	t.client = client
	t.started = true
	t.cancel = cancel
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		t.send(ctx, ch)
	}()
	go func() {
		defer wg.Done()
		t.receive(ch, cancel)
	}()
	go func() {
		wg.Wait()
		close(t.done)
	}()
	t.logger.Info("sandbox process started")
	return nil
}

// send forwards queued requests in order until ctx ends or the stream
// breaks. A broken stream surfaces through receive.
func (t *Transport) send(ctx context.Context, ch *Channel) {
	for {
		msg, ok := t.inbox.Pop(ctx)
		if !ok {
			return
		}
		if err := ch.Send(msg); err != nil {
			return
		}
	}
}

// receive emits replies as they arrive and reports the end of the stream
// unless the transport is being disposed. A failed stream stops send too.
func (t *Transport) receive(ch *Channel, stop context.CancelFunc) {
	for {
		msg, err := ch.Recv()
		if t.isDisposed() {
			return
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = oops.In("sandbox").Code(sandbox.CodeWorkerFailed).Errorf("sandbox ended the worker channel")
			}
			stop()
			t.logger.Error("sandbox process failed", "error", err)
			t.EmitError(err)
			return
		}
		t.EmitMessage(msg)
	}
}

func (t *Transport) isDisposed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disposed
}

// PostMessage queues a copy of msg for the child.
func (t *Transport) PostMessage(msg []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return oops.In("sandbox").Code(sandbox.CodeTransportDisposed).Errorf("transport is disposed")
	}
	t.inbox.Push(slices.Clone(msg))
	return nil
}

// Dispose kills the child and waits for the delivery goroutine until ctx
// expires.
func (t *Transport) Dispose(ctx context.Context) error {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return nil
	}
	t.disposed = true
	started := t.started
	client := t.client
	t.inbox.Discard()
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()

	t.Clear()
	if !started {
		return nil
	}
	client.Kill()
	t.logger.Info("sandbox process stopped")
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
