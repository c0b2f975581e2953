// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

// Package schema implements the small type descriptor language devices and
// game scripts use to describe state, commands and events.
//
// A descriptor is a JSON document such as
//
//	{"type": "object", "properties": {"on": {"type": "boolean"}}}
//
// Descriptors compile into JSON Schema validators and yield a zero value
// used when a device is created without an explicit initial state.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/samber/oops"
)

// Kind is the name of a descriptor type.
type Kind string

// Supported descriptor kinds.
const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindNull    Kind = "null"
	KindObject  Kind = "object"
	KindArray   Kind = "array"
)

// Kinds lists every supported descriptor kind.
var Kinds = []Kind{KindString, KindNumber, KindInteger, KindBoolean, KindNull, KindObject, KindArray}

// Error codes for descriptor problems.
const (
	CodeInvalidType = "INVALID_TYPE"
	CodeInvalidData = "INVALID_DATA"
)

// Type is a type descriptor. All object properties are required.
type Type struct {
	Kind       Kind             `json:"type" yaml:"type" jsonschema:"enum=string,enum=number,enum=integer,enum=boolean,enum=null,enum=object,enum=array"`
	Title      string           `json:"title,omitempty" yaml:"title,omitempty"`
	Enum       []string         `json:"enum,omitempty" yaml:"enum,omitempty"`
	Minimum    *float64         `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Maximum    *float64         `json:"maximum,omitempty" yaml:"maximum,omitempty"`
	Properties map[string]*Type `json:"properties,omitempty" yaml:"properties,omitempty"`
	Items      *Type            `json:"items,omitempty" yaml:"items,omitempty"`
	MinItems   *int             `json:"minItems,omitempty" yaml:"minItems,omitempty"`
	MaxItems   *int             `json:"maxItems,omitempty" yaml:"maxItems,omitempty"`
}

// String returns a string descriptor, optionally restricted to values.
func String(values ...string) *Type {
	return &Type{Kind: KindString, Enum: values}
}

// Number returns a number descriptor without bounds.
func Number() *Type { return &Type{Kind: KindNumber} }

// Integer returns an integer descriptor without bounds.
func Integer() *Type { return &Type{Kind: KindInteger} }

// Boolean returns a boolean descriptor.
func Boolean() *Type { return &Type{Kind: KindBoolean} }

// Null returns a null descriptor.
func Null() *Type { return &Type{Kind: KindNull} }

// Object returns an object descriptor with the given properties.
func Object(props map[string]*Type) *Type {
	if props == nil {
		props = map[string]*Type{}
	}
	return &Type{Kind: KindObject, Properties: props}
}

// Array returns an array descriptor of items.
func Array(items *Type) *Type { return &Type{Kind: KindArray, Items: items} }

// FixedArray returns an array descriptor holding exactly n items.
func FixedArray(items *Type, n int) *Type {
	return Array(items).WithLength(n, n)
}

// WithRange returns a copy of t bounded to [minimum, maximum].
func (t *Type) WithRange(minimum, maximum float64) *Type {
	c := t.Clone()
	c.Minimum, c.Maximum = &minimum, &maximum
	return c
}

// WithLength returns a copy of t restricted to between minItems and maxItems items.
func (t *Type) WithLength(minItems, maxItems int) *Type {
	c := t.Clone()
	c.MinItems, c.MaxItems = &minItems, &maxItems
	return c
}

// Clone returns a deep copy of t.
func (t *Type) Clone() *Type {
	if t == nil {
		return nil
	}
	c := *t
	c.Enum = slices.Clone(t.Enum)
	if t.Minimum != nil {
		v := *t.Minimum
		c.Minimum = &v
	}
	if t.Maximum != nil {
		v := *t.Maximum
		c.Maximum = &v
	}
	if t.MinItems != nil {
		v := *t.MinItems
		c.MinItems = &v
	}
	if t.MaxItems != nil {
		v := *t.MaxItems
		c.MaxItems = &v
	}
	if t.Properties != nil {
		c.Properties = make(map[string]*Type, len(t.Properties))
		for k, p := range t.Properties {
			c.Properties[k] = p.Clone()
		}
	}
	c.Items = t.Items.Clone()
	return &c
}

// Parse decodes and checks a descriptor from JSON.
func Parse(data []byte) (*Type, error) {
	var t Type
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, oops.Code(CodeInvalidType).Wrapf(err, "decode type descriptor")
	}
	if err := t.Check(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Check verifies that t is a well formed descriptor. The returned error
// carries the offending field path in its "path" context key.
func (t *Type) Check() error {
	return t.check("")
}

func (t *Type) check(path string) error {
	fail := func(format string, args ...any) error {
		return oops.Code(CodeInvalidType).With("path", displayPath(path)).Errorf("%s: "+format, append([]any{displayPath(path)}, args...)...)
	}
	if t == nil {
		return fail("missing type descriptor")
	}
	switch t.Kind {
	case KindString, KindBoolean, KindNull:
	case KindNumber, KindInteger:
		if t.Minimum != nil && t.Maximum != nil && *t.Minimum > *t.Maximum {
			return fail("minimum %v exceeds maximum %v", *t.Minimum, *t.Maximum)
		}
	case KindObject:
		for _, name := range sortedKeys(t.Properties) {
			if err := t.Properties[name].check(join(path, "properties."+name)); err != nil {
				return err
			}
		}
	case KindArray:
		if t.MinItems != nil && *t.MinItems < 0 {
			return fail("minItems must not be negative")
		}
		if t.MinItems != nil && t.MaxItems != nil && *t.MinItems > *t.MaxItems {
			return fail("minItems %d exceeds maxItems %d", *t.MinItems, *t.MaxItems)
		}
		if err := t.Items.check(join(path, "items")); err != nil {
			return err
		}
	case "":
		return fail("missing \"type\"")
	default:
		return fail("unknown type %q", t.Kind)
	}
	if len(t.Enum) > 0 && t.Kind != KindString {
		return fail("enum is only allowed on strings")
	}
	return nil
}

// Default returns the zero value of t: empty string (or the first enum
// value), zero (or the bound nearest zero, rounded inward to a whole
// number for integers), false, nil, an object of defaults, and
// an empty array unless the array has a fixed length.
func (t *Type) Default() any {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case KindString:
		if len(t.Enum) > 0 {
			return t.Enum[0]
		}
		return ""
	case KindNumber, KindInteger:
		if t.Minimum != nil && *t.Minimum > 0 {
			if t.Kind == KindInteger {
				return math.Ceil(*t.Minimum)
			}
			return *t.Minimum
		}
		if t.Maximum != nil && *t.Maximum < 0 {
			if t.Kind == KindInteger {
				return math.Floor(*t.Maximum)
			}
			return *t.Maximum
		}
		return float64(0)
	case KindBoolean:
		return false
	case KindObject:
		obj := make(map[string]any, len(t.Properties))
		for name, p := range t.Properties {
			obj[name] = p.Default()
		}
		return obj
	case KindArray:
		n := 0
		if t.MinItems != nil {
			n = *t.MinItems
		}
		arr := make([]any, n)
		for i := range arr {
			arr[i] = t.Items.Default()
		}
		return arr
	default:
		return nil
	}
}

// Document renders t as a JSON Schema (draft 2020-12) document.
func (t *Type) Document() map[string]any {
	doc := map[string]any{"type": string(t.Kind)}
	if t.Title != "" {
		doc["title"] = t.Title
	}
	switch t.Kind {
	case KindString:
		if len(t.Enum) > 0 {
			values := make([]any, len(t.Enum))
			for i, v := range t.Enum {
				values[i] = v
			}
			doc["enum"] = values
		}
	case KindNumber, KindInteger:
		if t.Minimum != nil {
			doc["minimum"] = *t.Minimum
		}
		if t.Maximum != nil {
			doc["maximum"] = *t.Maximum
		}
	case KindObject:
		props := make(map[string]any, len(t.Properties))
		required := make([]any, 0, len(t.Properties))
		for _, name := range sortedKeys(t.Properties) {
			props[name] = t.Properties[name].Document()
			required = append(required, name)
		}
		doc["properties"] = props
		doc["required"] = required
	case KindArray:
		if t.Items != nil {
			doc["items"] = t.Items.Document()
		}
		if t.MinItems != nil {
			doc["minItems"] = *t.MinItems
		}
		if t.MaxItems != nil {
			doc["maxItems"] = *t.MaxItems
		}
	}
	return doc
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func join(base, field string) string {
	if base == "" {
		return field
	}
	return base + "." + field
}

func displayPath(path string) string {
	if path == "" {
		return "(root)"
	}
	return path
}

// String implements fmt.Stringer.
func (k Kind) String() string { return string(k) }

var _ fmt.Stringer = KindNull
