// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package protocol_test

import (
	"testing"

	"github.com/tetgame/tet/internal/protocol"
)

var topicSeeds = []string{
	"tet/devices/b1",
	"tet/devices/b1/commands",
	"tet/devices/b1/events",
	"tet/devices/__server__/commands",
	"tet/devices/b1/status",
	"tet/devices/+/events",
	"tet/devices/#",
	"tet/devices//events",
	"tet/devices/b1/events/",
	"tet/devices",
	"tet//b1",
	"other/devices/b1",
	"/tet/devices/b1",
	"",
	"/",
	"tet/devices/\xff\xfe",
	"tet/devices/lamp 1/events",
}

// FuzzParseTopic checks that any string either parses to an address that
// maps back to the same topic or fails with INVALID_TOPIC.
func FuzzParseTopic(f *testing.F) {
	for _, seed := range topicSeeds {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, topic string) {
		addr, err := protocol.ParseTopic(topic)
		if err != nil {
			if !protocol.IsDecodeError(err) {
				t.Fatalf("ParseTopic(%q) returned an uncoded error: %v", topic, err)
			}
			return
		}
		if got := addr.Topic(); got != topic {
			t.Fatalf("ParseTopic(%q).Topic() = %q", topic, got)
		}
	})
}

// FuzzDecode checks that Decode never panics and that every failure carries
// a decode error code.
func FuzzDecode(f *testing.F) {
	payloads := []string{
		buttonHello,
		`{"definitions": null}`,
		`{"command": "updateState", "data": {"led": {"r": 1, "g": 2, "b": 3}}}`,
		`{"command": "shutdown", "data": null}`,
		`{"event": "buttonPressed", "data": null}`,
		`{"event": ""}`,
		`{}`,
		`[]`,
		`null`,
		"",
		"   ",
		`{"event": "x", "data": `,
		"\xff\xfe",
	}
	for i, seed := range topicSeeds {
		f.Add(seed, []byte(payloads[i%len(payloads)]))
	}
	for _, p := range payloads {
		f.Add("tet/devices/b1", []byte(p))
		f.Add("tet/devices/b1/commands", []byte(p))
		f.Add("tet/devices/b1/events", []byte(p))
	}

	f.Fuzz(func(t *testing.T, topic string, payload []byte) {
		msg, err := protocol.Decode(topic, payload)
		if err != nil {
			if !protocol.IsDecodeError(err) {
				t.Fatalf("Decode(%q) returned an uncoded error: %v", topic, err)
			}
			return
		}
		addr, err := protocol.ParseTopic(topic)
		if err != nil {
			t.Fatalf("Decode(%q) succeeded but ParseTopic failed: %v", topic, err)
		}
		if msg.Kind() != addr.Kind || msg.DeviceID() != addr.ID {
			t.Fatalf("Decode(%q) = %s for %q, want %s for %q", topic, msg.Kind(), msg.DeviceID(), addr.Kind, addr.ID)
		}
	})
}
