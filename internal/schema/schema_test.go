// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package schema_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetgame/tet/internal/schema"
	"github.com/tetgame/tet/pkg/errutil"
)

func rgb() *schema.Type {
	channel := schema.Integer().WithRange(0, 255)
	return schema.Object(map[string]*schema.Type{"r": channel, "g": channel, "b": channel})
}

func TestParse(t *testing.T) {
	typ, err := schema.Parse([]byte(`{"type":"array","items":{"type":"string","enum":["on","off"]},"minItems":2,"maxItems":2}`))
	require.NoError(t, err)
	assert.Equal(t, schema.KindArray, typ.Kind)
	assert.Equal(t, []any{"on", "on"}, typ.Default())
}

func TestCheck_Errors(t *testing.T) {
	tests := []struct {
		name string
		typ  *schema.Type
		path string
	}{
		{"missing kind", &schema.Type{}, "(root)"},
		{"unknown kind", &schema.Type{Kind: "float"}, "(root)"},
		{"array without items", &schema.Type{Kind: schema.KindArray}, "items"},
		{"nested", schema.Object(map[string]*schema.Type{"a": {Kind: "x"}}), "properties.a"},
		{"inverted range", schema.Number().WithRange(2, 1), "(root)"},
		{"enum on number", &schema.Type{Kind: schema.KindNumber, Enum: []string{"a"}}, "(root)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.typ.Check()
			errutil.AssertErrorCode(t, err, schema.CodeInvalidType)
			errutil.AssertErrorContext(t, err, "path", tt.path)
		})
	}
}

func TestDefault(t *testing.T) {
	assert.Equal(t, "", schema.String().Default())
	assert.Equal(t, "red", schema.String("red", "green").Default())
	assert.Equal(t, float64(0), schema.Number().Default())
	assert.Equal(t, float64(3), schema.Integer().WithRange(3, 9).Default())
	assert.Equal(t, 2.5, schema.Number().WithRange(2.5, 9).Default())
	assert.Equal(t, -2.5, schema.Number().WithRange(-9, -2.5).Default())
	assert.Equal(t, false, schema.Boolean().Default())
	assert.Nil(t, schema.Null().Default())
	assert.Equal(t, []any{}, schema.Array(schema.Number()).Default())

	leds := schema.Object(map[string]*schema.Type{"leds": schema.FixedArray(rgb(), 2)})
	assert.Equal(t, map[string]any{
		"leds": []any{
			map[string]any{"r": float64(0), "g": float64(0), "b": float64(0)},
			map[string]any{"r": float64(0), "g": float64(0), "b": float64(0)},
		},
	}, leds.Default())
}

func TestDefault_FractionalIntegerBounds(t *testing.T) {
	for name, typ := range map[string]*schema.Type{
		"positive minimum": schema.Integer().WithRange(2.5, 9),
		"negative maximum": schema.Integer().WithRange(-9, -2.5),
	} {
		t.Run(name, func(t *testing.T) {
			def := typ.Default()
			f, ok := def.(float64)
			require.True(t, ok)
			assert.Equal(t, math.Trunc(f), f, "default %v is not a whole number", f)

			v, err := schema.Compile(typ)
			require.NoError(t, err)
			assert.NoError(t, v.Validate(def))
		})
	}
	assert.Equal(t, float64(3), schema.Integer().WithRange(2.5, 9).Default())
	assert.Equal(t, float64(-3), schema.Integer().WithRange(-9, -2.5).Default())
}

func TestValidator(t *testing.T) {
	v, err := schema.Compile(schema.Object(map[string]*schema.Type{
		"led":  rgb(),
		"mode": schema.String("blink", "steady"),
	}))
	require.NoError(t, err)

	require.NoError(t, v.Validate(map[string]any{
		"led":  map[string]any{"r": 1.0, "g": 2.0, "b": 3.0},
		"mode": "blink",
	}))

	err = v.Validate(map[string]any{
		"led":  map[string]any{"r": 1.0, "g": 2.0, "b": 300.0},
		"mode": "blink",
	})
	errutil.AssertErrorCode(t, err, schema.CodeInvalidData)
	errutil.AssertErrorContext(t, err, "path", "led.b")

	err = v.Validate(map[string]any{"mode": "steady"})
	errutil.AssertErrorCode(t, err, schema.CodeInvalidData)

	err = v.Validate(map[string]any{
		"led":  map[string]any{"r": 1.0, "g": 2.0, "b": 3.0},
		"mode": "off",
	})
	errutil.AssertErrorContext(t, err, "path", "mode")
}

func TestValidator_DefaultIsValid(t *testing.T) {
	types := []*schema.Type{
		schema.String("a"),
		schema.Integer().WithRange(-5, -1),
		schema.FixedArray(rgb(), 12),
		schema.Object(map[string]*schema.Type{"n": schema.Null(), "b": schema.Boolean()}),
	}
	for _, typ := range types {
		v := schema.MustCompile(typ)
		assert.NoError(t, v.Validate(typ.Default()), "default of %s", typ.Kind)
	}
}

func TestValidator_Integer(t *testing.T) {
	v := schema.MustCompile(schema.Integer())
	assert.NoError(t, v.Validate(4.0))
	assert.Error(t, v.Validate(4.5))
}

func TestValidateJSON(t *testing.T) {
	v := schema.MustCompile(schema.Array(schema.Boolean()))
	value, err := v.ValidateJSON([]byte(`[true,false]`))
	require.NoError(t, err)
	assert.Equal(t, []any{true, false}, value)

	_, err = v.ValidateJSON([]byte(`[1]`))
	assert.Error(t, err)
}

func TestNormalize_Copies(t *testing.T) {
	in := map[string]any{"list": []any{1, 2}}
	out, err := schema.Normalize(in)
	require.NoError(t, err)

	in["list"].([]any)[0] = 99
	assert.Equal(t, map[string]any{"list": []any{float64(1), float64(2)}}, out)

	_, err = schema.Normalize(func() {})
	assert.Error(t, err)
}

func TestClone(t *testing.T) {
	orig := schema.Object(map[string]*schema.Type{"a": schema.Number().WithRange(0, 1)})
	c := orig.Clone()
	*c.Properties["a"].Maximum = 5
	assert.Equal(t, float64(1), *orig.Properties["a"].Maximum)
}
