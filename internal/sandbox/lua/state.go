// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package lua

import (
	"context"
	"slices"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

type library struct {
	name string
	fn   lua.LGFunction
}

// safeLibraries are the libraries a game script may ask for. os, io, debug,
// package and channel are never available.
var safeLibraries = map[string]library{
	"base":      {lua.BaseLibName, lua.OpenBase},
	"table":     {lua.TabLibName, lua.OpenTable},
	"string":    {lua.StringLibName, lua.OpenString},
	"math":      {lua.MathLibName, lua.OpenMath},
	"coroutine": {lua.CoroutineLibName, lua.OpenCoroutine},
}

// DefaultLibraries is what a StateFactory opens when given no list.
var DefaultLibraries = []string{"base", "table", "string", "math"}

// unsafeBaseFunctions load code from the filesystem or from strings that
// would bypass the runtime's chunk accounting.
var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load", "require", "module"}

// StateFactory creates sandboxed Lua states.
type StateFactory struct {
	libraries []library
}

// NewStateFactory returns a factory opening the named libraries. Base is
// always opened first.
func NewStateFactory(names ...string) (*StateFactory, error) {
	if len(names) == 0 {
		names = DefaultLibraries
	}
	if !slices.Contains(names, "base") {
		names = append([]string{"base"}, names...)
	}
	f := &StateFactory{}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		lib, ok := safeLibraries[name]
		if !ok {
			return nil, oops.In("lua").With("library", name).Errorf("library %q is not available to game scripts", name)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		if name == "base" {
			f.libraries = append([]library{lib}, f.libraries...)
			continue
		}
		f.libraries = append(f.libraries, lib)
	}
	return f, nil
}

// NewState creates a fresh state with only the configured libraries and
// without the code loading functions of the base library.
func (f *StateFactory) NewState(_ context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, oops.In("lua").With("library", lib.name).Wrapf(err, "open library")
		}
	}
	for _, fn := range unsafeBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}
	return L, nil
}
