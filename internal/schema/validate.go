// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package schema

import (
	"encoding/json"
	"errors"
	"strings"

	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/samber/oops"
)

const resourceURL = "tet://schema/type.json"

// Validator checks values against a compiled descriptor.
type Validator struct {
	typ    *Type
	schema *jschema.Schema
}

// Compile checks t and compiles it into a Validator.
func Compile(t *Type) (*Validator, error) {
	if err := t.Check(); err != nil {
		return nil, err
	}
	sch, err := CompileDocument(resourceURL, t.Document())
	if err != nil {
		return nil, oops.Code(CodeInvalidType).Wrap(err)
	}
	return &Validator{typ: t.Clone(), schema: sch}, nil
}

// MustCompile is like Compile but panics on error. Intended for package level
// descriptors that are known to be valid.
func MustCompile(t *Type) *Validator {
	v, err := Compile(t)
	if err != nil {
		panic(err)
	}
	return v
}

// CompileDocument compiles a JSON Schema document registered under url. doc
// may be raw JSON bytes or any value encoding/json can marshal.
func CompileDocument(url string, doc any) (*jschema.Schema, error) {
	raw, ok := doc.([]byte)
	if !ok {
		var err error
		if raw, err = json.Marshal(doc); err != nil {
			return nil, oops.Wrapf(err, "marshal schema document")
		}
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, oops.Wrapf(err, "parse schema document")
	}

	c := jschema.NewCompiler()
	if err := c.AddResource(url, data); err != nil {
		return nil, oops.Wrapf(err, "add schema resource")
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, oops.Wrapf(err, "compile schema")
	}
	return sch, nil
}

// Type returns a copy of the descriptor the validator was compiled from.
func (v *Validator) Type() *Type { return v.typ.Clone() }

// Validate checks that value conforms. value must be a JSON-compatible Go
// value as produced by encoding/json decoding into any.
func (v *Validator) Validate(value any) error {
	if err := v.schema.Validate(value); err != nil {
		return oops.Code(CodeInvalidData).With("path", ViolationPath(err)).Wrap(err)
	}
	return nil
}

// ValidateJSON decodes data and validates the result.
func (v *Validator) ValidateJSON(data []byte) (any, error) {
	value, err := DecodeJSON(data)
	if err != nil {
		return nil, oops.Code(CodeInvalidData).Wrap(err)
	}
	if err := v.Validate(value); err != nil {
		return nil, err
	}
	return value, nil
}

// DecodeJSON decodes data into a JSON-compatible Go value. An empty input
// decodes to nil.
func DecodeJSON(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// Normalize converts an arbitrary Go value into its JSON-compatible form by
// round-tripping through encoding/json. The result shares no memory with v.
func Normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, oops.Code(CodeInvalidData).Wrapf(err, "value is not JSON compatible")
	}
	return DecodeJSON(data)
}

// ViolationPath extracts a dotted field path from a validation error. It
// returns "(root)" when the error does not point below the document root.
func ViolationPath(err error) string {
	var verr *jschema.ValidationError
	if !errors.As(err, &verr) {
		return displayPath("")
	}
	leaf := verr
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	return displayPath(strings.Join(leaf.InstanceLocation, "."))
}
