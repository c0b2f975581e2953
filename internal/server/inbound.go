// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package server

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/tetgame/tet/internal/async"
	"github.com/tetgame/tet/internal/protocol"
	"github.com/tetgame/tet/internal/sandbox"
	"github.com/tetgame/tet/internal/schema"
	"github.com/tetgame/tet/pkg/errutil"
)

// Server events.
const (
	EventError    = "error"
	EventGameDump = "gameDump"
)

func (s *Server) handleConnect(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("connected")
	if s.state == StateConnecting {
		s.setState(StateConnected)
	}
}

func (s *Server) handleDisconnect(err error) {
	if err != nil {
		errutil.LogWarn(s.logger, "connection lost", err)
		return
	}
	s.logger.Info("disconnected")
}

// handleHello records the definition and follows the device's events. A
// device announced during a game is handed to the worker right away.
func (s *Server) handleHello(ctx context.Context, h protocol.Hello) {
	s.logger.Debug("received hello", "device", h.SourceID, "tag", h.Definition.TypeTag)

	subCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	if err := s.client.SubscribeToEvents(subCtx, h.SourceID); err != nil {
		s.ReportError(ctx, err)
	}

	s.mu.Lock()
	s.devices[h.SourceID] = &device{def: h.Definition}
	var err error
	if s.state.gameInProgress() {
		err = s.post(sandbox.AddDevice(h.SourceID, h.Definition))
	}
	s.mu.Unlock()
	if err != nil {
		s.ReportError(ctx, err)
	}
}

// handleEvent forwards a device event to the worker while the game runs.
func (s *Server) handleEvent(ctx context.Context, ev protocol.Event) {
	if ev.SourceID == protocol.ServerID {
		return
	}
	if err := s.forwardEvent(ev); err != nil {
		s.ReportError(ctx, err)
	}
}

func (s *Server) forwardEvent(ev protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		s.logger.Debug("ignoring event, game not running", "device", ev.SourceID, "event", ev.Event)
		return nil
	}
	d, ok := s.devices[ev.SourceID]
	if !ok {
		return unknownDevice(ev.SourceID)
	}
	typ, ok := d.def.Events[ev.Event]
	if !ok {
		return unknownEvent(ev.SourceID, ev.Event)
	}
	v, err := d.validator(ev.Event, typ)
	if err != nil {
		return invalidEventData(ev.SourceID, ev.Event, err)
	}
	if _, err := v.ValidateJSON(ev.Data); err != nil {
		return invalidEventData(ev.SourceID, ev.Event, err)
	}
	s.logger.Debug("forwarding event", "device", ev.SourceID, "tag", d.def.TypeTag, "event", ev.Event)
	return s.post(sandbox.EventRequest(d.def.TypeTag, ev))
}

// validator compiles event validators on first use.
func (d *device) validator(event string, typ *schema.Type) (*schema.Validator, error) {
	if v, ok := d.events[event]; ok {
		return v, nil
	}
	v, err := schema.Compile(typ)
	if err != nil {
		return nil, err
	}
	if d.events == nil {
		d.events = make(map[string]*schema.Validator)
	}
	d.events[event] = v
	return v, nil
}

func (s *Server) handleWorkerMessage(ctx context.Context, raw []byte) {
	rep, err := sandbox.DecodeReply(raw)
	if err != nil {
		s.ReportError(ctx, err)
		return
	}
	switch rep.Type {
	case sandbox.TypeReady:
		if f := s.readyFuture(); f != nil && f.Resolve(struct{}{}) {
			s.logger.Info("worker ready")
		}
	case sandbox.TypeError:
		s.handleWorkerError(ctx, *rep.Error)
	case sandbox.TypeUpdateDeviceState:
		pubCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
		defer cancel()
		if err := s.client.SendCommand(pubCtx, rep.ID, protocol.CommandStateChange, rep.State); err != nil {
			s.ReportError(ctx, err)
		}
	case sandbox.TypeDump:
		s.publishDump(ctx, *rep.Data)
	}
}

// handleWorkerError fails a pending Init and reports err.
func (s *Server) handleWorkerError(ctx context.Context, err error) {
	if f := s.readyFuture(); f != nil && f.Reject(err) {
		errutil.LogError(s.logger, "worker failed before ready", err)
	}
	s.ReportError(ctx, err)
}

// readyFuture returns the pending Init rendezvous, nil outside a session.
func (s *Server) readyFuture() *async.Future[struct{}] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Server) publishDump(ctx context.Context, data protocol.GameData) {
	s.mu.Lock()
	dump := protocol.GameDump{
		GameData: data,
		Devices:  make(map[string]protocol.DeviceDefinition, len(s.devices)),
		GameCode: s.gameCode,
	}
	for id, d := range s.devices {
		dump.Devices[id] = d.def
	}
	s.mu.Unlock()

	pubCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	if err := s.client.SendEvent(pubCtx, protocol.ServerID, EventGameDump, dump); err != nil {
		s.ReportError(ctx, err)
		return
	}
	s.logger.Info("game dump published", "devices", len(dump.Devices))
}

// ReportError logs err and publishes it as an error event of the server.
// This is how failures inside a session become visible to operators.
func (s *Server) ReportError(ctx context.Context, err error) {
	report := errutil.NewReport(err)
	id := ulid.Make().String()
	if report.Context == nil {
		report.Context = map[string]any{}
	}
	report.Context["errorId"] = id

	code := report.Code
	if code == "" {
		code = "UNKNOWN"
	}
	ErrorsReported.WithLabelValues(code).Inc()
	errutil.LogError(s.logger, "reporting error", err, "error_id", id)

	pubCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	if perr := s.client.SendEvent(pubCtx, protocol.ServerID, EventError, report); perr != nil {
		errutil.LogWarn(s.logger, "publish error report failed", perr, "error_id", id)
	}
}
