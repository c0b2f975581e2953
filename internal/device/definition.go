// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package device

import (
	"encoding/json"
	"maps"
	"os"
	"slices"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/tetgame/tet/internal/protocol"
	"github.com/tetgame/tet/internal/schema"
)

// CodeInvalidDefinition marks a definition file that cannot be used.
const CodeInvalidDefinition = "INVALID_DEFINITION"

// definitionFile is the on-disk shape of a device definition. JSON files
// parse as well, YAML being a superset.
type definitionFile struct {
	TypeTag      string                  `yaml:"typeTag"`
	InitialState any                     `yaml:"initialState"`
	Commands     map[string]*schema.Type `yaml:"commands"`
	Events       map[string]*schema.Type `yaml:"events"`
}

// ParseDefinition decodes and validates a YAML or JSON device definition.
func ParseDefinition(data []byte) (protocol.DeviceDefinition, error) {
	if len(data) == 0 {
		return protocol.DeviceDefinition{}, oops.In("device").Code(CodeInvalidDefinition).Errorf("definition is empty")
	}
	var f definitionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return protocol.DeviceDefinition{}, oops.In("device").Code(CodeInvalidDefinition).Wrapf(err, "invalid YAML")
	}

	def := protocol.DeviceDefinition{TypeTag: f.TypeTag, Commands: f.Commands, Events: f.Events}
	if def.Events == nil {
		def.Events = map[string]*schema.Type{}
	}
	if f.InitialState != nil {
		raw, err := json.Marshal(f.InitialState)
		if err != nil {
			return protocol.DeviceDefinition{}, oops.In("device").Code(CodeInvalidDefinition).Wrapf(err, "initialState")
		}
		def.InitialState = raw
	}
	if err := def.Validate(); err != nil {
		return protocol.DeviceDefinition{}, err
	}
	return def, nil
}

// LoadDefinition reads a definition file, or returns the built-in
// definition when path names one.
func LoadDefinition(path string) (protocol.DeviceDefinition, error) {
	if def, ok := Builtin(path); ok {
		return def, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return protocol.DeviceDefinition{}, oops.In("device").With("path", path).Wrapf(err, "read definition")
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return protocol.DeviceDefinition{}, oops.In("device").With("path", path).Wrap(err)
	}
	return def, nil
}

var builtins = map[string]func() protocol.DeviceDefinition{
	"button":    Button,
	"semaphore": Semaphore,
}

// Builtin returns the built-in definition called name.
func Builtin(name string) (protocol.DeviceDefinition, bool) {
	fn, ok := builtins[name]
	if !ok {
		return protocol.DeviceDefinition{}, false
	}
	return fn(), true
}

// BuiltinNames lists the built-in definitions.
func BuiltinNames() []string {
	return slices.Sorted(maps.Keys(builtins))
}

// Button is a push button with a lamp.
func Button() protocol.DeviceDefinition {
	return protocol.DeviceDefinition{
		TypeTag: "MockButton#0.0.0",
		Commands: map[string]*schema.Type{
			protocol.CommandUpdateState: schema.Object(map[string]*schema.Type{"on": schema.Boolean()}),
			protocol.CommandShutdown:    schema.Null(),
		},
		Events: map[string]*schema.Type{
			"pressed": schema.Null(),
		},
	}
}

// LedCount is the number of leds on a semaphore.
const LedCount = 12

func rgb() *schema.Type {
	channel := func() *schema.Type { return schema.Integer().WithRange(0, 255) }
	return schema.Object(map[string]*schema.Type{"r": channel(), "g": channel(), "b": channel()})
}

// Semaphore is a ring of RGB leds with a button on each side.
func Semaphore() protocol.DeviceDefinition {
	return protocol.DeviceDefinition{
		TypeTag: "Semaphore#1.0.0",
		Commands: map[string]*schema.Type{
			protocol.CommandUpdateState: schema.Object(map[string]*schema.Type{
				"leds": schema.FixedArray(rgb(), LedCount),
			}),
			protocol.CommandShutdown: schema.Null(),
		},
		Events: map[string]*schema.Type{
			"leftPressed":  schema.Null(),
			"rightPressed": schema.Null(),
		},
	}
}
