// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

// Package server runs a game session: it tracks the devices announced on
// the bus, forwards their events to the sandboxed game code, and sends the
// resulting state changes back out as commands.
//
// Work arriving from the connection or the worker is queued and handled by
// one goroutine per session, in arrival order. Public methods may be called
// from any goroutine.
package server

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/tetgame/tet/internal/async"
	"github.com/tetgame/tet/internal/client"
	"github.com/tetgame/tet/internal/connection"
	"github.com/tetgame/tet/internal/protocol"
	"github.com/tetgame/tet/internal/sandbox"
	"github.com/tetgame/tet/internal/schema"
	"github.com/tetgame/tet/pkg/errutil"
)

// Default timeouts.
const (
	DefaultReadyTimeout   = 10 * time.Second
	DefaultPublishTimeout = 5 * time.Second
)

// State is the session state.
type State int

// Session states.
const (
	StateUninitialized State = iota
	StateConnecting
	StateConnected
	StateRunning
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return "uninitialized"
	}
}

// connected reports whether the client is up and a worker exists.
func (s State) connected() bool {
	return s == StateConnected || s == StateRunning || s == StatePaused
}

func (s State) gameInProgress() bool {
	return s == StateRunning || s == StatePaused
}

// TransportFactory creates the worker transport for a session.
type TransportFactory func() (sandbox.Transport, error)

// work is a unit of queued session work.
type work func(ctx context.Context)

type device struct {
	def    protocol.DeviceDefinition
	events map[string]*schema.Validator
}

// Server is a game session over a client.
type Server struct {
	client         *client.Client
	logger         *slog.Logger
	readyTimeout   time.Duration
	publishTimeout time.Duration

	mu        sync.Mutex
	state     State
	devices   map[string]*device
	gameCode  string
	hasCode   bool
	transport sandbox.Transport
	ready     *async.Future[struct{}]
	inbox     *async.Queue[work]
	offs      []func()
	stop      context.CancelFunc
	done      chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithReadyTimeout bounds how long Init waits for the worker.
func WithReadyTimeout(d time.Duration) Option {
	return func(s *Server) { s.readyTimeout = d }
}

// WithPublishTimeout bounds each publish made while handling queued work.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Server) { s.publishTimeout = d }
}

// New returns an uninitialized server speaking over c.
func New(c *client.Client, opts ...Option) *Server {
	s := &Server{
		client:         c,
		logger:         slog.Default(),
		readyTimeout:   DefaultReadyTimeout,
		publishTimeout: DefaultPublishTimeout,
		devices:        make(map[string]*device),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")
	return s
}

// State returns the current session state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Devices returns the known device definitions by id.
func (s *Server) Devices() map[string]protocol.DeviceDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]protocol.DeviceDefinition, len(s.devices))
	for id, d := range s.devices {
		out[id] = d.def
	}
	return out
}

// GameCode returns the last uploaded game code and whether any was uploaded.
func (s *Server) GameCode() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gameCode, s.hasCode
}

func (s *Server) setState(st State) {
	if s.state != st {
		s.logger.Info("server state changed", "from", s.state.String(), "to", st.String())
	}
	s.state = st
	StateGauge.Set(float64(st))
}

// Init connects the client, subscribes to device announcements and server
// commands, starts a worker from newTransport and waits until it is ready.
// A worker error before readiness fails Init with that error. On failure
// everything Init set up is torn down again.
func (s *Server) Init(ctx context.Context, newTransport TransportFactory) error {
	s.mu.Lock()
	if s.state != StateUninitialized {
		defer s.mu.Unlock()
		return stateError(CodeAlreadyInitialized, s.state, "server already initialized")
	}
	s.logger.Info("initializing server")
	s.setState(StateConnecting)

	inbox := async.NewQueue[work]()
	loopCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.inbox, s.stop, s.done = inbox, stop, done
	go s.loop(loopCtx, inbox, done)

	enqueue := func(w work) { inbox.Push(w) }
	s.offs = []func(){
		s.client.OnConnect(func() { enqueue(s.handleConnect) }),
		s.client.OnDisconnect(func(err error) { enqueue(func(context.Context) { s.handleDisconnect(err) }) }),
		s.client.OnHello(func(h protocol.Hello) { enqueue(func(ctx context.Context) { s.handleHello(ctx, h) }) }),
		s.client.OnCommand(func(c protocol.Command) { enqueue(func(ctx context.Context) { s.handleCommand(ctx, c) }) }),
		s.client.OnEvent(func(e protocol.Event) { enqueue(func(ctx context.Context) { s.handleEvent(ctx, e) }) }),
	}
	ready := async.NewFuture[struct{}]()
	s.ready = ready
	s.mu.Unlock()

	if err := s.connect(ctx); err != nil {
		s.teardown(ctx)
		return err
	}

	s.logger.Debug("creating worker")
	tr, err := newTransport()
	if err != nil {
		s.teardown(ctx)
		return oops.In("server").Code(sandbox.CodeWorkerFailed).Wrapf(err, "create worker transport")
	}
	tr.OnMessage(func(b []byte) { enqueue(func(ctx context.Context) { s.handleWorkerMessage(ctx, b) }) })
	tr.OnError(func(err error) { enqueue(func(ctx context.Context) { s.handleWorkerError(ctx, err) }) })
	s.mu.Lock()
	s.transport = tr
	s.mu.Unlock()

	if err := tr.Start(ctx); err != nil {
		s.teardown(ctx)
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.readyTimeout)
	defer cancel()
	if _, err := ready.Wait(waitCtx); err != nil {
		switch {
		case ctx.Err() != nil:
			err = oops.In("server").Wrapf(ctx.Err(), "init interrupted while waiting for the worker")
		case waitCtx.Err() != nil && !ready.Settled():
			err = oops.In("server").Code(CodeWorkerNotReady).Wrapf(err, "worker did not become ready")
		}
		s.teardown(context.WithoutCancel(ctx))
		return err
	}
	s.logger.Info("server initialized")
	return nil
}

func (s *Server) connect(ctx context.Context) error {
	s.logger.Debug("connecting to broker")
	if err := s.client.Connect(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.setState(StateConnected)
	s.mu.Unlock()

	if err := s.client.SubscribeToDevices(ctx); err != nil {
		return err
	}
	return s.client.SubscribeToCommands(ctx, protocol.ServerID)
}

func (s *Server) loop(ctx context.Context, inbox *async.Queue[work], done chan struct{}) {
	defer close(done)
	for {
		w, ok := inbox.Pop(ctx)
		if !ok {
			return
		}
		w(ctx)
	}
}

// Deinit resets a game in progress, disposes the worker and disconnects.
// Teardown failures are logged and do not stop the remaining steps.
func (s *Server) Deinit(ctx context.Context) error {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st == StateUninitialized {
		return stateError(CodeNotInitialized, st, "server not initialized")
	}
	s.logger.Info("deinitializing server")
	if st.gameInProgress() {
		if err := s.ResetGame(ctx); err != nil {
			errutil.LogWarn(s.logger, "reset during deinit failed", err)
		}
	}
	s.teardown(ctx)
	return nil
}

// Close deinitializes the server if needed and ignores errors.
func (s *Server) Close(ctx context.Context) {
	_ = s.Deinit(ctx)
}

func (s *Server) teardown(ctx context.Context) {
	s.mu.Lock()
	offs, tr, stop, done := s.offs, s.transport, s.stop, s.done
	s.offs, s.transport, s.stop, s.done, s.inbox, s.ready = nil, nil, nil, nil, nil, nil
	s.mu.Unlock()

	for _, off := range offs {
		off()
	}
	if tr != nil {
		s.logger.Debug("disposing worker")
		if err := tr.Dispose(ctx); err != nil {
			errutil.LogWarn(s.logger, "dispose worker failed", err)
		}
	}
	if stop != nil {
		stop()
		<-done
	}
	// A reconnecting link reports itself down but still has to be stopped.
	s.logger.Debug("disconnecting from broker")
	if err := s.client.Disconnect(ctx); err != nil && errutil.Code(err) != connection.CodeNotConnected {
		errutil.LogWarn(s.logger, "disconnect failed", err)
	}

	s.mu.Lock()
	s.setState(StateUninitialized)
	s.mu.Unlock()
}

// post sends req to the worker. The caller holds s.mu.
func (s *Server) post(req sandbox.Request) error {
	if s.transport == nil {
		return stateError(CodeNotConnected, s.state, "no worker")
	}
	return sandbox.Post(s.transport, req)
}

// StartGame starts or resumes the game.
func (s *Server) StartGame(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.connected() {
		return stateError(CodeNotConnected, s.state, "server not connected")
	}
	if err := s.post(sandbox.Control(sandbox.TypeStart)); err != nil {
		return err
	}
	s.setState(StateRunning)
	return nil
}

// PauseGame pauses a running game.
func (s *Server) PauseGame(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return stateError(CodeNotRunning, s.state, "server not running")
	}
	if err := s.post(sandbox.Control(sandbox.TypePause)); err != nil {
		return err
	}
	s.setState(StatePaused)
	return nil
}

// ResetGame stops a running or paused game. Registry state inside the
// worker is kept.
func (s *Server) ResetGame(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.gameInProgress() {
		return stateError(CodeNoGameInProgress, s.state, "game not in progress")
	}
	if err := s.post(sandbox.Control(sandbox.TypeReset)); err != nil {
		return err
	}
	s.setState(StateConnected)
	return nil
}

// UploadGameCode stores code for later dumps and runs it in the worker.
func (s *Server) UploadGameCode(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.connected() {
		return stateError(CodeNotConnected, s.state, "server not connected")
	}
	s.logger.Debug("uploading game code", "bytes", len(code))
	s.gameCode, s.hasCode = code, true
	return s.post(sandbox.RunScript(code))
}

// DumpGame asks the worker for a registry snapshot. The GameDump is
// published as a gameDump event once the worker answers.
func (s *Server) DumpGame(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.connected() {
		return stateError(CodeNotConnected, s.state, "server not connected")
	}
	return s.post(sandbox.Control(sandbox.TypeDump))
}

// LoadGame restores dump: its code is uploaded, its device definitions are
// announced again and the worker loads its registry snapshot.
func (s *Server) LoadGame(ctx context.Context, dump protocol.GameDump) error {
	if err := s.UploadGameCode(ctx, dump.GameCode); err != nil {
		return err
	}
	for _, id := range slices.Sorted(maps.Keys(dump.Devices)) {
		pubCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
		err := s.client.SendHello(pubCtx, id, dump.Devices[id])
		cancel()
		if err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.post(sandbox.Load(dump.GameData))
}
