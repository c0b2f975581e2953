// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicHelpers(t *testing.T) {
	assert.Equal(t, "tet/devices/x", DeviceTopic("x"))
	assert.Equal(t, "tet/devices/x/commands", CommandTopic("x"))
	assert.Equal(t, "tet/devices/x/events", EventTopic("x"))
	assert.Equal(t, "tet/devices/+", DevicesWildcard)
}

func TestParseTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  Address
	}{
		{"tet/devices/a", Address{Kind: KindHello, ID: "a"}},
		{"tet/devices/a/commands", Address{Kind: KindCommand, ID: "a"}},
		{"tet/devices/__server__/events", Address{Kind: KindEvent, ID: ServerID}},
		{"tet/devices/with space/events", Address{Kind: KindEvent, ID: "with space"}},
	}
	for _, tt := range tests {
		got, err := ParseTopic(tt.topic)
		require.NoError(t, err, tt.topic)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.topic, got.Topic())
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "hello", KindHello.String())
	assert.Equal(t, "command", KindCommand.String())
	assert.Equal(t, "event", KindEvent.String())
	assert.Equal(t, "unknown", Kind(0).String())
}
