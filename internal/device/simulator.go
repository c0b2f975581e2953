// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

// Package device simulates tet devices: it announces a definition, applies
// state commands and emits the events the definition declares.
package device

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/samber/oops"

	"github.com/tetgame/tet/internal/client"
	"github.com/tetgame/tet/internal/emitter"
	"github.com/tetgame/tet/internal/protocol"
	"github.com/tetgame/tet/internal/schema"
	"github.com/tetgame/tet/pkg/errutil"
)

// Error codes.
const (
	CodeUnknownEvent = "UNKNOWN_EVENT"
	CodeInvalidData  = "INVALID_DATA"
	CodeStopped      = "DEVICE_STOPPED"
)

// Simulator plays one device on a client.
type Simulator struct {
	id     string
	def    protocol.DeviceDefinition
	client *client.Client
	logger *slog.Logger

	stateType *schema.Validator
	events    map[string]*schema.Validator

	mu      sync.Mutex
	state   any
	offs    []func()
	stopped bool
	done    chan struct{}

	changes *emitter.Emitter[struct{}, any]
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithLogger sets the simulator logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulator) { s.logger = l }
}

// New builds a simulator for device id. The initial state is the
// definition's initialState, or the default of its updateState descriptor.
func New(c *client.Client, id string, def protocol.DeviceDefinition, opts ...Option) (*Simulator, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	s := &Simulator{
		id:      id,
		def:     def,
		client:  c,
		logger:  slog.Default(),
		events:  make(map[string]*schema.Validator, len(def.Events)),
		done:    make(chan struct{}),
		changes: emitter.New[struct{}, any](),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("device", id)

	v, err := schema.Compile(def.Commands[protocol.CommandUpdateState])
	if err != nil {
		return nil, oops.In("device").With("device", id).Wrapf(err, "compile state descriptor")
	}
	s.stateType = v
	for name, typ := range def.Events {
		ev, err := schema.Compile(typ)
		if err != nil {
			return nil, oops.In("device").With("device", id).With("event", name).Wrapf(err, "compile event descriptor")
		}
		s.events[name] = ev
	}

	s.state = def.Commands[protocol.CommandUpdateState].Default()
	if len(def.InitialState) > 0 {
		initial, err := v.ValidateJSON(def.InitialState)
		if err != nil {
			return nil, oops.In("device").With("device", id).Wrapf(err, "initial state")
		}
		s.state = initial
	}
	return s, nil
}

// ID returns the device id.
func (s *Simulator) ID() string { return s.id }

// Definition returns the announced definition.
func (s *Simulator) Definition() protocol.DeviceDefinition { return s.def }

// Start connects the client if needed, follows the device's command topic
// and announces the definition.
func (s *Simulator) Start(ctx context.Context) error {
	s.mu.Lock()
	s.offs = append(s.offs, s.client.OnCommand(s.handleCommand))
	s.mu.Unlock()

	if !s.client.IsConnected() {
		if err := s.client.Connect(ctx); err != nil {
			return err
		}
	}
	if err := s.client.SubscribeToCommands(ctx, s.id); err != nil {
		return err
	}
	if err := s.client.SendHello(ctx, s.id, s.def); err != nil {
		return err
	}
	s.logger.Info("device announced", "tag", s.def.TypeTag)
	return nil
}

// State returns the current state.
func (s *Simulator) State() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnStateChange registers fn for every applied state.
func (s *Simulator) OnStateChange(fn func(state any)) func() {
	return s.changes.On(struct{}{}, func(state any) error { fn(state); return nil })
}

// Done is closed once the device received shutdown or was stopped.
func (s *Simulator) Done() <-chan struct{} { return s.done }

// Emit publishes a declared event after checking data against its
// descriptor.
func (s *Simulator) Emit(ctx context.Context, event string, data any) error {
	v, ok := s.events[event]
	if !ok {
		return oops.In("device").Code(CodeUnknownEvent).With("device", s.id).With("event", event).
			Errorf("device %q declares no event %q", s.id, event)
	}
	normalized, err := schema.Normalize(data)
	if err != nil {
		return oops.In("device").Code(CodeInvalidData).With("event", event).Wrap(err)
	}
	if err := v.Validate(normalized); err != nil {
		return oops.In("device").Code(CodeInvalidData).With("event", event).Wrap(err)
	}
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return oops.In("device").Code(CodeStopped).With("device", s.id).Errorf("device stopped")
	}
	return s.client.SendEvent(ctx, s.id, event, normalized)
}

func (s *Simulator) handleCommand(cmd protocol.Command) {
	if cmd.TargetID != s.id {
		return
	}
	switch cmd.Command {
	case protocol.CommandStateChange, protocol.CommandUpdateState:
		if err := s.apply(cmd.Data); err != nil {
			errutil.LogWarn(s.logger, "state rejected", err, "command", cmd.Command)
		}
	case protocol.CommandShutdown:
		s.logger.Info("shutdown requested")
		s.halt()
	default:
		if _, ok := s.def.Commands[cmd.Command]; ok {
			s.logger.Info("command received", "command", cmd.Command, "data", string(cmd.Data))
			return
		}
		s.logger.Warn("undeclared command", "command", cmd.Command)
	}
}

func (s *Simulator) apply(data json.RawMessage) error {
	state, err := s.stateType.ValidateJSON(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.state = state
	s.mu.Unlock()

	s.logger.Debug("state applied")
	if err := s.changes.Emit(struct{}{}, state); err != nil {
		errutil.LogWarn(s.logger, "state listener failed", err)
	}
	return nil
}

// halt stops reacting to commands and closes Done. Safe to call twice.
func (s *Simulator) halt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	for _, off := range s.offs {
		off()
	}
	s.offs = nil
	close(s.done)
}

// Stop halts the device. The client stays connected; its owner
// disconnects it.
func (s *Simulator) Stop() {
	s.halt()
}
