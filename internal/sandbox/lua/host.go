// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package lua

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/tetgame/tet/internal/game"
	"github.com/tetgame/tet/internal/schema"
)

// Host is the registry surface game scripts can reach. Nothing else of the
// registry is exposed.
type Host interface {
	DefineDeviceClass(name string, state *schema.Type, events map[string]*schema.Type) (*game.DeviceClass, error)
	GetDeviceClass(name string) (*game.DeviceClass, bool)
	GetDevice(id string) (game.Device, bool)
	GetDevicesByClass(name string) []game.Device
	UpdateDeviceState(className, id string, state any) error
	CreateDevice(className, id string, initialState any) (game.Device, error)
	LinkDeviceType(className, tag string) error
}

var _ Host = (*game.Game)(nil)

const classMetatable = "tet.DeviceClass"

// registerHost installs the global game table bound to r's host.
func (r *Runtime) registerHost(L *lua.LState) {
	mt := L.NewTypeMetatable(classMetatable)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"on":     r.classOn,
		"name":   className,
		"events": classEvents,
	}))
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString("DeviceClass(" + checkClass(L, 1).Name() + ")"))
		return 1
	}))

	mod := L.NewTable()
	L.SetFuncs(mod, map[string]lua.LGFunction{
		"defineDeviceClass": r.defineDeviceClass,
		"getDeviceClass":    r.getDeviceClass,
		"getDevice":         r.getDevice,
		"getDevicesByClass": r.getDevicesByClass,
		"updateDeviceState": r.updateDeviceState,
		"createDevice":      r.createDevice,
		"linkDeviceType":    r.linkDeviceType,
	})
	L.SetGlobal("game", mod)
}

func pushClass(L *lua.LState, c *game.DeviceClass) int {
	ud := L.NewUserData()
	ud.Value = c
	L.SetMetatable(ud, L.GetTypeMetatable(classMetatable))
	L.Push(ud)
	return 1
}

func checkClass(L *lua.LState, n int) *game.DeviceClass {
	ud := L.CheckUserData(n)
	c, ok := ud.Value.(*game.DeviceClass)
	if !ok {
		L.ArgError(n, "device class expected")
		return nil
	}
	return c
}

func raise(L *lua.LState, err error) int {
	L.RaiseError("%s", err.Error())
	return 0
}

// defineDeviceClass(name, stateType, events) where events maps event names
// to types. true or an empty table declares an event without data.
func (r *Runtime) defineDeviceClass(L *lua.LState) int {
	name := L.CheckString(1)
	state := checkType(L, 2)
	events := make(map[string]*schema.Type)
	if tbl := L.OptTable(3, nil); tbl != nil {
		for _, event := range sortedKeys(tbl) {
			v := tbl.RawGetString(event)
			if v == lua.LTrue {
				events[event] = schema.Null()
				continue
			}
			if t, ok := v.(*lua.LTable); ok && isEmpty(t) {
				events[event] = schema.Null()
				continue
			}
			t, err := toType(v)
			if err != nil {
				L.ArgError(3, "event "+event+": "+err.Error())
				return 0
			}
			events[event] = t
		}
	}
	c, err := r.host.DefineDeviceClass(name, state, events)
	if err != nil {
		return raise(L, err)
	}
	return pushClass(L, c)
}

func isEmpty(t *lua.LTable) bool {
	empty := true
	t.ForEach(func(_, _ lua.LValue) { empty = false })
	return empty
}

func (r *Runtime) getDeviceClass(L *lua.LState) int {
	c, ok := r.host.GetDeviceClass(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	return pushClass(L, c)
}

func deviceTable(L *lua.LState, d game.Device) *lua.LTable {
	t := L.CreateTable(0, 3)
	t.RawSetString("id", lua.LString(d.ID))
	t.RawSetString("class", lua.LString(d.Class.Name()))
	t.RawSetString("state", ToLua(L, d.State))
	return t
}

func (r *Runtime) getDevice(L *lua.LState) int {
	d, ok := r.host.GetDevice(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(deviceTable(L, d))
	return 1
}

func (r *Runtime) getDevicesByClass(L *lua.LState) int {
	devices := r.host.GetDevicesByClass(L.CheckString(1))
	t := L.CreateTable(len(devices), 0)
	for _, d := range devices {
		t.Append(deviceTable(L, d))
	}
	L.Push(t)
	return 1
}

// stateArg converts the state argument at n using the class state type.
func (r *Runtime) stateArg(L *lua.LState, className string, n int) any {
	var hint *schema.Type
	if c, ok := r.host.GetDeviceClass(className); ok {
		hint = c.StateType()
	}
	v, err := FromLua(L.Get(n), hint)
	if err != nil {
		raise(L, err)
		return nil
	}
	return v
}

func (r *Runtime) updateDeviceState(L *lua.LState) int {
	className := L.CheckString(1)
	id := L.CheckString(2)
	state := r.stateArg(L, className, 3)
	if err := r.host.UpdateDeviceState(className, id, state); err != nil {
		return raise(L, err)
	}
	return 0
}

// createDevice(className, id, initialState?)
func (r *Runtime) createDevice(L *lua.LState) int {
	className := L.CheckString(1)
	id := L.CheckString(2)
	var initial any
	if L.GetTop() >= 3 && L.Get(3) != lua.LNil {
		initial = r.stateArg(L, className, 3)
	}
	d, err := r.host.CreateDevice(className, id, initial)
	if err != nil {
		return raise(L, err)
	}
	L.Push(deviceTable(L, d))
	return 1
}

func (r *Runtime) linkDeviceType(L *lua.LState) int {
	if err := r.host.LinkDeviceType(L.CheckString(1), L.CheckString(2)); err != nil {
		return raise(L, err)
	}
	return 0
}

// classOn implements Class:on(event, fn). fn receives the source device id,
// the event data and a copy of the device state. It returns a function that
// removes the handler.
func (r *Runtime) classOn(L *lua.LState) int {
	c := checkClass(L, 1)
	event := L.CheckString(2)
	fn := L.CheckFunction(3)

	off, err := c.On(event, func(sourceID string, data, state any) error {
		return r.call(r.base, func(L *lua.LState) error {
			return L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true},
				lua.LString(sourceID), ToLua(L, data), ToLua(L, state))
		})
	})
	if err != nil {
		return raise(L, err)
	}
	L.Push(L.NewFunction(func(L *lua.LState) int {
		off()
		return 0
	}))
	return 1
}

func className(L *lua.LState) int {
	L.Push(lua.LString(checkClass(L, 1).Name()))
	return 1
}

func classEvents(L *lua.LState) int {
	names := checkClass(L, 1).Events()
	t := L.CreateTable(len(names), 0)
	for _, n := range names {
		t.Append(lua.LString(n))
	}
	L.Push(t)
	return 1
}
