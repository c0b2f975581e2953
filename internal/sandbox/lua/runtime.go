// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

// Package lua is the script engine game code runs in: sandboxed gopher-lua
// states exposing the registry through the global game table and the type
// builder Types.
package lua

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

// DefaultScriptTimeout bounds a single evaluation or handler call.
const DefaultScriptTimeout = 5 * time.Second

// Engine creates runtimes. It is created once per process and shared by
// every worker.
type Engine struct {
	factory *StateFactory
	timeout time.Duration
	logger  *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	libraries []string
	timeout   time.Duration
	logger    *slog.Logger
}

// WithLibraries selects the Lua libraries opened in every state.
func WithLibraries(names ...string) EngineOption {
	return func(c *engineConfig) { c.libraries = names }
}

// WithScriptTimeout bounds every evaluation and handler call. Zero or a
// negative value selects DefaultScriptTimeout.
func WithScriptTimeout(d time.Duration) EngineOption {
	return func(c *engineConfig) { c.timeout = d }
}

// WithLogger sets the logger script output is written to.
func WithLogger(l *slog.Logger) EngineOption {
	return func(c *engineConfig) { c.logger = l }
}

// NewEngine returns an engine.
func NewEngine(opts ...EngineOption) (*Engine, error) {
	cfg := engineConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.timeout <= 0 {
		cfg.timeout = DefaultScriptTimeout
	}
	factory, err := NewStateFactory(cfg.libraries...)
	if err != nil {
		return nil, err
	}
	return &Engine{factory: factory, timeout: cfg.timeout, logger: cfg.logger}, nil
}

// Timeout returns the per call deadline.
func (e *Engine) Timeout() time.Duration { return e.timeout }

// Runtime is one Lua state bound to a registry. It is not safe for
// concurrent use.
type Runtime struct {
	state   *lua.LState
	host    Host
	base    context.Context
	timeout time.Duration
	logger  *slog.Logger
	depth   int
}

// NewRuntime creates a state with the game and Types globals bound to host.
// ctx bounds handler calls made outside of Eval, such as event dispatch.
func (e *Engine) NewRuntime(ctx context.Context, host Host) (*Runtime, error) {
	L, err := e.factory.NewState(ctx)
	if err != nil {
		return nil, err
	}
	r := &Runtime{state: L, host: host, base: ctx, timeout: e.timeout, logger: e.logger.With("component", "script")}
	registerTypes(L)
	r.registerHost(L)
	L.SetGlobal("print", L.NewFunction(r.print))
	return r, nil
}

// Eval runs src as a chunk and returns its first result converted to a
// JSON-compatible value. Results that cannot leave the sandbox yield nil.
// Failures are returned as *EvalError.
func (r *Runtime) Eval(ctx context.Context, src string) (any, error) {
	var result any
	err := r.call(ctx, func(L *lua.LState) error {
		fn, err := L.LoadString(src)
		if err != nil {
			return err
		}
		L.Push(fn)
		if err := L.PCall(0, 1, nil); err != nil {
			return err
		}
		ret := L.Get(-1)
		L.Pop(1)
		if v, convErr := FromLua(ret, nil); convErr == nil {
			result = v
		} else {
			r.logger.Debug("script result dropped", "error", convErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// call runs fn under the runtime deadline. Nested calls share the deadline
// of the outermost one.
func (r *Runtime) call(ctx context.Context, fn func(L *lua.LState) error) error {
	if r.state == nil {
		return oops.In("lua").Errorf("runtime is closed")
	}
	if r.depth > 0 {
		r.depth++
		defer func() { r.depth-- }()
		if err := fn(r.state); err != nil {
			return newEvalError(r.state.Context(), err)
		}
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	r.state.SetContext(callCtx)
	r.depth++
	defer func() {
		r.depth--
		r.state.RemoveContext()
	}()

	top := r.state.GetTop()
	err := fn(r.state)
	r.state.SetTop(top)
	if err != nil {
		return newEvalError(callCtx, err)
	}
	return nil
}

func (r *Runtime) print(L *lua.LState) int {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	r.logger.Info(strings.Join(parts, "\t"))
	return 0
}

// Close releases the Lua state.
func (r *Runtime) Close() {
	if r.state != nil {
		r.state.Close()
		r.state = nil
	}
}
