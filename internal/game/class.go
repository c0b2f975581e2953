// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package game

import (
	"sort"

	"github.com/samber/oops"

	"github.com/tetgame/tet/internal/emitter"
	"github.com/tetgame/tet/internal/schema"
)

// Handler reacts to an event of a device. state is a snapshot: changing it
// has no effect, use UpdateDeviceState instead.
type Handler func(sourceID string, data any, state any) error

// EventContext is what a class dispatches to its handlers.
type EventContext struct {
	SourceID string
	Data     any
	State    any
}

// DeviceClass is a named, typed device behavior defined by game code.
type DeviceClass struct {
	name      string
	state     *schema.Type
	validator *schema.Validator
	events    map[string]*schema.Type
	handlers  emitter.Emitter[string, EventContext]
}

// NewDeviceClass compiles a class. Every event must have a type descriptor.
func NewDeviceClass(name string, state *schema.Type, events map[string]*schema.Type) (*DeviceClass, error) {
	if name == "" {
		return nil, oops.In("game").Code(CodeInvalidClass).Errorf("device class name must not be empty")
	}
	v, err := schema.Compile(state)
	if err != nil {
		return nil, oops.In("game").Code(CodeInvalidClass).With("class", name).Errorf("state type: %v", err)
	}
	ev := make(map[string]*schema.Type, len(events))
	for event, t := range events {
		if err := t.Check(); err != nil {
			return nil, oops.In("game").Code(CodeInvalidClass).With("class", name).With("event", event).Errorf("event %q: %v", event, err)
		}
		ev[event] = t.Clone()
	}
	return &DeviceClass{name: name, state: state.Clone(), validator: v, events: ev}, nil
}

// Name returns the class name.
func (c *DeviceClass) Name() string { return c.name }

// StateType returns a copy of the state descriptor.
func (c *DeviceClass) StateType() *schema.Type { return c.state.Clone() }

// Events returns the declared event names, sorted.
func (c *DeviceClass) Events() []string {
	names := make([]string, 0, len(c.events))
	for n := range c.events {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// HasEvent reports whether the class declares event.
func (c *DeviceClass) HasEvent(event string) bool {
	_, ok := c.events[event]
	return ok
}

// Default returns the zero state of the class.
func (c *DeviceClass) Default() any { return c.state.Default() }

// Validate checks state against the class state type.
func (c *DeviceClass) Validate(state any) error {
	if err := c.validator.Validate(state); err != nil {
		return invalidState(c.name, err)
	}
	return nil
}

// On registers h for event and returns a function that removes it.
func (c *DeviceClass) On(event string, h Handler) (func(), error) {
	if !c.HasEvent(event) {
		return nil, oops.In("game").
			Code(CodeUnknownEvent).
			With("class", c.name).
			With("event", event).
			Errorf("class %q declares no event %q", c.name, event)
	}
	return c.handlers.On(event, func(ec EventContext) error {
		return h(ec.SourceID, ec.Data, ec.State)
	}), nil
}

// HandlerCount returns the number of handlers registered for event.
func (c *DeviceClass) HandlerCount(event string) int { return c.handlers.Count(event) }

func (c *DeviceClass) dispatch(event string, ec EventContext) error {
	return c.handlers.Emit(event, ec)
}
