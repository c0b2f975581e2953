// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package lua

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/tetgame/tet/internal/schema"
)

// maxDepth bounds table nesting, which also rejects cyclic tables.
const maxDepth = 64

// ToLua converts a JSON-compatible Go value into a Lua value. Arrays become
// sequences and objects become tables keyed by string.
func ToLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case string:
		return lua.LString(x)
	case float64:
		return lua.LNumber(x)
	case float32:
		return lua.LNumber(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case json.Number:
		f, _ := x.Float64()
		return lua.LNumber(f)
	case []any:
		t := L.CreateTable(len(x), 0)
		for _, item := range x {
			t.Append(ToLua(L, item))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(x))
		for k, item := range x {
			t.RawSetString(k, ToLua(L, item))
		}
		return t
	default:
		normalized, err := schema.Normalize(v)
		if err != nil {
			return lua.LNil
		}
		return ToLua(L, normalized)
	}
}

// FromLua converts a Lua value into a JSON-compatible Go value. hint, when
// not nil, resolves what Lua cannot express: an empty table becomes an
// array when the hint is an array type, and object properties of null type
// that are absent from the table are filled in.
func FromLua(v lua.LValue, hint *schema.Type) (any, error) {
	return fromLua(v, hint, 0, "")
}

func valueError(path, format string, args ...any) error {
	if path == "" {
		path = "(root)"
	}
	return oops.In("lua").
		Code(schema.CodeInvalidData).
		With("path", path).
		Errorf("%s: "+format, append([]any{path}, args...)...)
}

func fromLua(v lua.LValue, hint *schema.Type, depth int, path string) (any, error) {
	if depth > maxDepth {
		return nil, valueError(path, "value is nested too deeply or cyclic")
	}
	switch x := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(x), nil
	case lua.LString:
		return string(x), nil
	case lua.LNumber:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, valueError(path, "number %v has no JSON representation", f)
		}
		return f, nil
	case *lua.LTable:
		return tableFromLua(x, hint, depth, path)
	default:
		return nil, valueError(path, "%s values cannot leave the sandbox", v.Type().String())
	}
}

func tableFromLua(t *lua.LTable, hint *schema.Type, depth int, path string) (any, error) {
	asArray := false
	switch {
	case hint != nil && hint.Kind == schema.KindArray:
		asArray = true
	case hint != nil && hint.Kind == schema.KindObject:
	default:
		asArray = isSequence(t)
	}

	if asArray {
		var items *schema.Type
		if hint != nil {
			items = hint.Items
		}
		n := t.Len()
		out := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			item, err := fromLua(t.RawGetInt(i), items, depth+1, join(path, strconv.Itoa(i-1)))
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	}

	out := make(map[string]any)
	var err error
	t.ForEach(func(k, item lua.LValue) {
		if err != nil {
			return
		}
		key, ok := k.(lua.LString)
		if !ok {
			err = valueError(path, "object keys must be strings, got %s", k.Type().String())
			return
		}
		var prop *schema.Type
		if hint != nil {
			prop = hint.Properties[string(key)]
		}
		out[string(key)], err = fromLua(item, prop, depth+1, join(path, string(key)))
	})
	if err != nil {
		return nil, err
	}
	if hint != nil {
		for name, prop := range hint.Properties {
			if _, ok := out[name]; !ok && prop != nil && prop.Kind == schema.KindNull {
				out[name] = nil
			}
		}
	}
	return out, nil
}

// isSequence reports whether t holds exactly the keys 1..n with n > 0.
func isSequence(t *lua.LTable) bool {
	n := t.Len()
	if n == 0 {
		return false
	}
	count := 0
	sequence := true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		if num, ok := k.(lua.LNumber); !ok || float64(num) != math.Trunc(float64(num)) || int(num) < 1 || int(num) > n {
			sequence = false
		}
	})
	return sequence && count == n
}

func join(base, field string) string {
	if base == "" {
		return field
	}
	return base + "." + field
}

// sortedKeys returns the string keys of t in order.
func sortedKeys(t *lua.LTable) []string {
	var keys []string
	t.ForEach(func(k, _ lua.LValue) {
		if s, ok := k.(lua.LString); ok {
			keys = append(keys, string(s))
		}
	})
	sort.Strings(keys)
	return keys
}
