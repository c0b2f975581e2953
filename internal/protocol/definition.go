// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package protocol

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"

	"github.com/tetgame/tet/internal/schema"
)

// Commands every device must accept.
const (
	CommandUpdateState = "updateState"
	CommandShutdown    = "shutdown"
	// CommandStateChange is what the server sends when game code changes a
	// device's state.
	CommandStateChange = "stateChange"
)

// TypeTagPattern is the shape of a device type tag: name#major.minor.patch.
const TypeTagPattern = `^[^#]+#\d+\.\d+\.\d+$`

var typeTagRE = regexp.MustCompile(TypeTagPattern)

// DeviceDefinition describes what a device is and what it understands.
type DeviceDefinition struct {
	TypeTag      string                  `json:"typeTag" yaml:"typeTag"`
	InitialState json.RawMessage         `json:"initialState,omitempty" yaml:"-"`
	Commands     map[string]*schema.Type `json:"commands" yaml:"commands"`
	Events       map[string]*schema.Type `json:"events" yaml:"events"`
}

// TypeName returns the part of the type tag before '#'.
func (d DeviceDefinition) TypeName() string {
	name, _, _ := strings.Cut(d.TypeTag, "#")
	return name
}

// Version parses the semantic version part of the type tag.
func (d DeviceDefinition) Version() (*semver.Version, error) {
	_, v, ok := strings.Cut(d.TypeTag, "#")
	if !ok {
		return nil, oops.Errorf("type tag %q has no version", d.TypeTag)
	}
	return semver.StrictNewVersion(v)
}

// EventNames returns the declared event names in sorted order.
func (d DeviceDefinition) EventNames() []string {
	names := make([]string, 0, len(d.Events))
	for name := range d.Events {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasEvent reports whether the device declares event.
func (d DeviceDefinition) HasEvent(event string) bool {
	_, ok := d.Events[event]
	return ok
}

// Validate checks the parts of a definition a JSON Schema cannot express.
// Errors carry a "path" context entry relative to the definition.
func (d DeviceDefinition) Validate() error {
	if !typeTagRE.MatchString(d.TypeTag) {
		return definitionError("typeTag", "type tag %q does not match name#major.minor.patch", d.TypeTag)
	}
	if _, err := d.Version(); err != nil {
		return definitionError("typeTag", "invalid version: %v", err)
	}
	for _, name := range []string{CommandUpdateState, CommandShutdown} {
		if _, ok := d.Commands[name]; !ok {
			return definitionError("commands."+name, "required command %q is missing", name)
		}
	}
	if t := d.Commands[CommandShutdown]; t == nil || t.Kind != schema.KindNull {
		return definitionError("commands."+CommandShutdown, "shutdown must take null")
	}
	for _, group := range []struct {
		field string
		types map[string]*schema.Type
	}{{"commands", d.Commands}, {"events", d.Events}} {
		names := make([]string, 0, len(group.types))
		for name := range group.types {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := group.types[name].Check(); err != nil {
				path := group.field + "." + name
				if sub := errPath(err); sub != "(root)" {
					path += "." + sub
				}
				return definitionError(path, "%v", err)
			}
		}
	}
	return nil
}

func definitionError(path, format string, args ...any) error {
	return oops.In("protocol").
		Code(CodeSchemaViolation).
		With("path", path).
		Errorf("%s: "+format, append([]any{path}, args...)...)
}
