// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package protocol

import "encoding/json"

// Kind tags a decoded message.
type Kind int

// Message kinds, derived from the topic shape.
const (
	KindHello Kind = iota + 1
	KindCommand
	KindEvent
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindCommand:
		return "command"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Message is a decoded, validated protocol message: Hello, Command or Event.
type Message interface {
	Kind() Kind
	// DeviceID is the source id for hellos and events, the target id for commands.
	DeviceID() string
}

// Hello announces a device and its definition.
type Hello struct {
	SourceID   string
	Definition DeviceDefinition
}

// Command asks a device to do something.
type Command struct {
	TargetID string
	Command  string
	Data     json.RawMessage
}

// Event reports something that happened on a device.
type Event struct {
	SourceID string          `json:"sourceId"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Kind implements Message.
func (Hello) Kind() Kind { return KindHello }

// DeviceID implements Message.
func (h Hello) DeviceID() string { return h.SourceID }

// Kind implements Message.
func (Command) Kind() Kind { return KindCommand }

// DeviceID implements Message.
func (c Command) DeviceID() string { return c.TargetID }

// Kind implements Message.
func (Event) Kind() Kind { return KindEvent }

// DeviceID implements Message.
func (e Event) DeviceID() string { return e.SourceID }

var (
	_ Message = Hello{}
	_ Message = Command{}
	_ Message = Event{}
)

// DecodeData unmarshals raw message data into v. Missing data decodes as null.
func DecodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return json.Unmarshal(data, v)
}
