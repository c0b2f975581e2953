// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package protocol

import (
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Topic scheme constants.
const (
	Root            = "tet"
	DevicesSegment  = "devices"
	CommandsChannel = "commands"
	EventsChannel   = "events"

	// ServerID is the reserved device id of the game server.
	ServerID = "__server__"

	// DevicesWildcard matches every device announcement topic.
	DevicesWildcard = Root + "/" + DevicesSegment + "/+"
)

// DeviceTopic returns the announcement topic of device id.
func DeviceTopic(id string) string {
	return Root + "/" + DevicesSegment + "/" + id
}

// CommandTopic returns the topic commands for device id are published on.
func CommandTopic(id string) string {
	return DeviceTopic(id) + "/" + CommandsChannel
}

// EventTopic returns the topic device id publishes its events on.
func EventTopic(id string) string {
	return DeviceTopic(id) + "/" + EventsChannel
}

// Address is a parsed topic: which kind of message it carries and for which device.
type Address struct {
	Kind Kind
	ID   string
}

type topicAST struct {
	Root    string  `parser:"@Segment Slash"`
	Devices string  `parser:"@Segment Slash"`
	ID      string  `parser:"@Segment"`
	Channel *string `parser:"( Slash @Segment )?"`
}

var (
	topicLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Slash", Pattern: `/`},
		{Name: "Segment", Pattern: `[^/]+`},
	})
	topicParser = participle.MustBuild[topicAST](participle.Lexer(topicLexer))
)

// ParseTopic derives the message kind and device id from topic. The kind
// depends on the topic shape only.
func ParseTopic(topic string) (Address, error) {
	ast, err := topicParser.ParseString("", topic)
	if err != nil {
		return Address{}, invalidTopic(topic, "expected tet/devices/<id>[/commands|/events]")
	}
	if ast.Root != Root || ast.Devices != DevicesSegment {
		return Address{}, invalidTopic(topic, "unknown prefix")
	}
	if strings.ContainsAny(ast.ID, "+#") {
		return Address{}, invalidTopic(topic, "wildcard in device id")
	}

	addr := Address{Kind: KindHello, ID: ast.ID}
	if ast.Channel == nil {
		return addr, nil
	}
	switch *ast.Channel {
	case CommandsChannel:
		addr.Kind = KindCommand
	case EventsChannel:
		addr.Kind = KindEvent
	default:
		return Address{}, invalidTopic(topic, "unknown channel "+*ast.Channel)
	}
	return addr, nil
}

// Topic returns the topic string for the address.
func (a Address) Topic() string {
	switch a.Kind {
	case KindCommand:
		return CommandTopic(a.ID)
	case KindEvent:
		return EventTopic(a.ID)
	default:
		return DeviceTopic(a.ID)
	}
}
