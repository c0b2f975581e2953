// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/tetgame/tet/internal/game"
	"github.com/tetgame/tet/internal/protocol"
	"github.com/tetgame/tet/internal/sandbox/lua"
	"github.com/tetgame/tet/pkg/errutil"
)

// Phase is the game phase the worker was last told about.
type Phase int

// Worker phases.
const (
	PhaseStopped Phase = iota
	PhaseRunning
	PhasePaused
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhasePaused:
		return "paused"
	default:
		return "stopped"
	}
}

// Worker executes requests against a registry and a Lua runtime. It is the
// code that runs inside the isolation boundary; a Transport feeds it.
//
// A Worker is not safe for concurrent use.
type Worker struct {
	engine  *lua.Engine
	game    *game.Game
	runtime *lua.Runtime
	send    func([]byte)
	logger  *slog.Logger
	phase   Phase
	policy  game.RedefinitionPolicy
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkerLogger sets the worker logger.
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = l }
}

// WithRedefinitionPolicy sets the registry's class redefinition policy.
func WithRedefinitionPolicy(p game.RedefinitionPolicy) WorkerOption {
	return func(w *Worker) { w.policy = p }
}

// NewWorker returns a worker that hands every encoded Reply to send.
func NewWorker(engine *lua.Engine, send func([]byte), opts ...WorkerOption) *Worker {
	w := &Worker{engine: engine, send: send, logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "sandbox-worker")
	return w
}

// Start creates the registry and runtime and announces readiness. ctx bounds
// every handler call for the lifetime of the worker.
func (w *Worker) Start(ctx context.Context) error {
	w.game = game.New(
		game.WithLogger(w.logger),
		game.WithRedefinitionPolicy(w.policy),
		game.WithErrorSink(w.reportError),
	)
	w.game.OnStateChange(func(sc game.StateChange) {
		reply, err := StateReply(sc.ID, sc.State)
		if err != nil {
			w.reportError(err)
			return
		}
		w.reply(reply)
	})

	rt, err := w.engine.NewRuntime(ctx, w.game)
	if err != nil {
		w.reportError(oops.In("sandbox").Code(CodeWorkerFailed).Errorf("create runtime: %v", err))
		return err
	}
	w.runtime = rt
	w.reply(ReadyReply())
	w.logger.Info("sandbox worker started")
	return nil
}

// Close releases the runtime.
func (w *Worker) Close() {
	if w.runtime != nil {
		w.runtime.Close()
		w.runtime = nil
	}
}

// Phase returns the current phase.
func (w *Worker) Phase() Phase { return w.phase }

// Handle decodes and executes one encoded Request. Every failure, including
// a panic, is reported back as an error reply.
func (w *Worker) Handle(ctx context.Context, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			w.reportError(oops.In("sandbox").Code(CodeWorkerFailed).Errorf("worker panic: %v", rec))
		}
	}()

	req, err := DecodeRequest(raw)
	if err != nil {
		w.reportError(err)
		return
	}
	MessagesTotal.WithLabelValues("in", string(req.Type)).Inc()
	if w.game == nil {
		w.reportError(oops.In("sandbox").Code(CodeWorkerFailed).Errorf("worker is not started"))
		return
	}

	switch req.Type {
	case TypeStart:
		w.setPhase(PhaseRunning)
	case TypePause:
		w.setPhase(PhasePaused)
	case TypeReset:
		// Registry state survives a reset; only the phase changes.
		w.setPhase(PhaseStopped)
	case TypeRunScript:
		w.runScript(ctx, *req.Script)
	case TypeEvent:
		w.event(req)
	case TypeAddDevice:
		w.addDevice(req.ID, *req.Definition)
	case TypeDump:
		w.reply(DumpReply(w.game.Dump()))
	case TypeLoad:
		if err := w.game.Load(*req.Data); err != nil {
			w.reportError(err)
		}
	default:
		w.reportError(invalidMessage("unhandled request type %q", req.Type))
	}
}

func (w *Worker) setPhase(p Phase) {
	w.logger.Debug("game phase changed", "from", w.phase, "to", p)
	w.phase = p
}

func (w *Worker) runScript(ctx context.Context, src string) {
	start := time.Now()
	_, err := w.runtime.Eval(ctx, src)
	ScriptDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		w.logger.Warn("game script failed", "error", err)
		w.reportScriptError(err)
		return
	}
	w.logger.Info("game script evaluated", "bytes", len(src))
}

func (w *Worker) event(req Request) {
	if w.phase != PhaseRunning {
		w.logger.Debug("event dropped, game not running", "device", req.Source.ID, "phase", w.phase)
		return
	}
	var data any
	if len(req.Event.Data) > 0 {
		if err := json.Unmarshal(req.Event.Data, &data); err != nil {
			w.reportError(invalidMessage("event data: %v", err))
			return
		}
	}
	w.game.ReceiveEvent(game.Event{Source: *req.Source, Name: req.Event.Event, Data: data})
}

// addDevice creates the device when its type tag is linked and leaves it to
// lazy resolution otherwise.
func (w *Worker) addDevice(id string, def protocol.DeviceDefinition) {
	if _, ok := w.game.Links()[def.TypeTag]; !ok {
		w.logger.Debug("device type not linked", "device", id, "tag", def.TypeTag)
		return
	}
	if _, err := w.game.ResolveDevice(id, def.TypeTag); err != nil {
		w.reportError(err)
	}
}

func (w *Worker) reportScriptError(err error) {
	report := errutil.NewReport(err)
	if report.Code == "" {
		report.Code = CodeScriptError
	}
	w.reply(Reply{Type: TypeError, Error: &report})
}

func (w *Worker) reportError(err error) {
	w.reply(ErrorReply(err))
}

func (w *Worker) reply(r Reply) {
	data, err := Encode(r)
	if err != nil {
		report := errutil.NewReport(err)
		data, _ = Encode(Reply{Type: TypeError, Error: &report})
	}
	MessagesTotal.WithLabelValues("out", string(r.Type)).Inc()
	w.send(data)
}

var _ fmt.Stringer = PhaseRunning
