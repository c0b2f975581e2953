// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package sandbox

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/tetgame/tet/internal/async"
	"github.com/tetgame/tet/internal/emitter"
	"github.com/tetgame/tet/internal/sandbox/lua"
)

type channel int

const (
	channelMessage channel = iota
	channelError
)

// Listeners implements the listener half of Transport. Transports embed it.
type Listeners struct {
	messages emitter.Emitter[channel, []byte]
	errs     emitter.Emitter[channel, error]
	logger   *slog.Logger
}

// SetLogger sets where listener failures are logged.
func (h *Listeners) SetLogger(l *slog.Logger) { h.logger = l }

// OnMessage registers fn for encoded replies.
func (h *Listeners) OnMessage(fn func([]byte)) func() {
	return h.messages.On(channelMessage, func(b []byte) error {
		fn(b)
		return nil
	})
}

// OnError registers fn for transport failures.
func (h *Listeners) OnError(fn func(error)) func() {
	return h.errs.On(channelError, func(err error) error {
		fn(err)
		return nil
	})
}

// EmitMessage hands a copy of b to every message listener.
func (h *Listeners) EmitMessage(b []byte) {
	if err := h.messages.Emit(channelMessage, slices.Clone(b)); err != nil {
		h.log().Error("worker message listener failed", "error", err)
	}
}

// EmitError hands e to every error listener.
func (h *Listeners) EmitError(e error) {
	if err := h.errs.Emit(channelError, e); err != nil {
		h.log().Error("worker error listener failed", "error", err)
	}
}

// Clear removes every listener.
func (h *Listeners) Clear() {
	h.messages.Clear()
	h.errs.Clear()
}

func (h *Listeners) log() *slog.Logger {
	if h.logger == nil {
		return slog.Default()
	}
	return h.logger
}

// Local runs a Worker on its own goroutine in this process. Requests and
// replies are copied byte slices, so no memory is shared with the worker.
type Local struct {
	Listeners

	engine *lua.Engine
	opts   []WorkerOption

	mu       sync.Mutex
	inbox    *async.Queue[[]byte]
	cancel   context.CancelFunc
	done     chan struct{}
	started  bool
	disposed bool
}

var _ Transport = (*Local)(nil)

// NewLocal returns an unstarted in-process transport. A nil logger selects
// slog.Default; the worker logs through it too.
func NewLocal(engine *lua.Engine, logger *slog.Logger, opts ...WorkerOption) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Local{
		engine: engine,
		opts:   append([]WorkerOption{WithWorkerLogger(logger)}, opts...),
		inbox:  async.NewQueue[[]byte](),
		done:   make(chan struct{}),
	}
	t.logger = logger.With("transport", "local")
	return t
}

// Start launches the worker goroutine.
func (t *Local) Start(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return disposed()
	}
	if t.started {
		return nil
	}
	t.started = true

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	go t.run(ctx)
	return nil
}

func (t *Local) run(ctx context.Context) {
	defer close(t.done)
	w := NewWorker(t.engine, t.deliver, t.opts...)
	defer w.Close()
	if err := w.Start(ctx); err != nil {
		t.EmitError(err)
		return
	}
	for {
		msg, ok := t.inbox.Pop(ctx)
		if !ok {
			return
		}
		w.Handle(ctx, msg)
	}
}

func (t *Local) deliver(b []byte) {
	t.mu.Lock()
	gone := t.disposed
	t.mu.Unlock()
	if gone {
		return
	}
	t.EmitMessage(b)
}

// PostMessage queues a copy of msg for the worker.
func (t *Local) PostMessage(msg []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return disposed()
	}
	t.inbox.Push(slices.Clone(msg))
	return nil
}

// Dispose stops the worker, interrupting a running script, and waits for
// its goroutine until ctx expires.
func (t *Local) Dispose(ctx context.Context) error {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return nil
	}
	t.disposed = true
	started := t.started
	t.inbox.Discard()
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()

	t.Clear()
	if !started {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
