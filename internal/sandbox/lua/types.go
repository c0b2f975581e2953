// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package lua

import (
	"encoding/json"

	lua "github.com/yuin/gopher-lua"

	"github.com/tetgame/tet/internal/schema"
)

const typeMetatable = "tet.Type"

// registerTypes installs the global Types table, a builder for state and
// event type descriptors:
//
//	local rgb = Types.object({ r = Types.integer(0, 255), g = Types.integer(0, 255), b = Types.integer(0, 255) }, "Rgb")
//	local state = Types.object({ leds = Types.fixedArray(rgb, 12) })
func registerTypes(L *lua.LState) {
	mt := L.NewTypeMetatable(typeMetatable)
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		t := checkType(L, 1)
		data, _ := json.Marshal(t)
		L.Push(lua.LString(data))
		return 1
	}))

	mod := L.NewTable()
	L.SetFuncs(mod, map[string]lua.LGFunction{
		"string":     typeString,
		"enum":       typeEnum,
		"number":     typeNumeric(schema.Number),
		"integer":    typeNumeric(schema.Integer),
		"boolean":    typeConst(schema.Boolean),
		"null":       typeConst(schema.Null),
		"object":     typeObject,
		"array":      typeArray,
		"fixedArray": typeFixedArray,
	})
	L.SetGlobal("Types", mod)
}

func pushType(L *lua.LState, t *schema.Type) int {
	ud := L.NewUserData()
	ud.Value = t
	L.SetMetatable(ud, L.GetTypeMetatable(typeMetatable))
	L.Push(ud)
	return 1
}

// checkType returns the descriptor at stack position n. Besides Types
// values, plain tables in the descriptor JSON shape are accepted.
func checkType(L *lua.LState, n int) *schema.Type {
	t, err := toType(L.Get(n))
	if err != nil {
		L.ArgError(n, err.Error())
		return nil
	}
	return t
}

func toType(v lua.LValue) (*schema.Type, error) {
	if ud, ok := v.(*lua.LUserData); ok {
		if t, ok := ud.Value.(*schema.Type); ok {
			return t.Clone(), nil
		}
	}
	if tbl, ok := v.(*lua.LTable); ok {
		raw, err := FromLua(tbl, nil)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, err
		}
		return schema.Parse(data)
	}
	return nil, valueError("", "type descriptor expected, got %s", v.Type().String())
}

func withTitle(L *lua.LState, t *schema.Type, n int) *schema.Type {
	if title := L.OptString(n, ""); title != "" {
		t.Title = title
	}
	return t
}

func typeString(L *lua.LState) int {
	return pushType(L, withTitle(L, schema.String(), 1))
}

func typeEnum(L *lua.LState) int {
	values := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		values = append(values, L.CheckString(i))
	}
	if len(values) == 0 {
		L.ArgError(1, "enum needs at least one value")
		return 0
	}
	return pushType(L, schema.String(values...))
}

// typeNumeric builds number(min?, max?) and integer(min?, max?).
func typeNumeric(build func() *schema.Type) lua.LGFunction {
	return func(L *lua.LState) int {
		t := build()
		if L.GetTop() >= 1 && L.Get(1) != lua.LNil {
			v := float64(L.CheckNumber(1))
			t.Minimum = &v
		}
		if L.GetTop() >= 2 && L.Get(2) != lua.LNil {
			v := float64(L.CheckNumber(2))
			t.Maximum = &v
		}
		if err := t.Check(); err != nil {
			L.ArgError(1, err.Error())
			return 0
		}
		return pushType(L, t)
	}
}

func typeConst(build func() *schema.Type) lua.LGFunction {
	return func(L *lua.LState) int {
		return pushType(L, build())
	}
}

// typeObject builds object(properties, title?).
func typeObject(L *lua.LState) int {
	props := L.OptTable(1, L.NewTable())
	t := schema.Object(nil)
	for _, name := range sortedKeys(props) {
		p, err := toType(props.RawGetString(name))
		if err != nil {
			L.ArgError(1, "property "+name+": "+err.Error())
			return 0
		}
		t.Properties[name] = p
	}
	return pushType(L, withTitle(L, t, 2))
}

// typeArray builds array(items, minItems?, maxItems?).
func typeArray(L *lua.LState) int {
	t := schema.Array(checkType(L, 1))
	if L.GetTop() >= 2 && L.Get(2) != lua.LNil {
		n := L.CheckInt(2)
		t.MinItems = &n
	}
	if L.GetTop() >= 3 && L.Get(3) != lua.LNil {
		n := L.CheckInt(3)
		t.MaxItems = &n
	}
	if err := t.Check(); err != nil {
		L.ArgError(2, err.Error())
		return 0
	}
	return pushType(L, t)
}

// typeFixedArray builds fixedArray(items, n).
func typeFixedArray(L *lua.LState) int {
	items := checkType(L, 1)
	n := L.CheckInt(2)
	if n < 0 {
		L.ArgError(2, "length must not be negative")
		return 0
	}
	return pushType(L, schema.FixedArray(items, n))
}
