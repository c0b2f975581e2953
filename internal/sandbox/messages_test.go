// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package sandbox_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetgame/tet/internal/protocol"
	"github.com/tetgame/tet/internal/sandbox"
	"github.com/tetgame/tet/internal/schema"
	"github.com/tetgame/tet/pkg/errutil"
)

func TestDecodeRequest_Valid(t *testing.T) {
	for _, tc := range []struct {
		name string
		raw  string
		want sandbox.MessageType
	}{
		{"start", `{"type":"start"}`, sandbox.TypeStart},
		{"runScript", `{"type":"runScript","script":""}`, sandbox.TypeRunScript},
		{"event", `{"type":"event","source":{"id":"b1","tag":"T#1.0.0"},"event":{"sourceId":"b1","event":"pressed","data":null}}`, sandbox.TypeEvent},
		{"load", `{"type":"load","data":{"devices":[],"links":{}}}`, sandbox.TypeLoad},
		{"dump", `{"type":"dump"}`, sandbox.TypeDump},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req, err := sandbox.DecodeRequest([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, req.Type)
		})
	}
}

func TestDecodeRequest_Invalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		raw  string
	}{
		{"not json", `{`},
		{"not an object", `[]`},
		{"unknown type", `{"type":"explode"}`},
		{"reply type", `{"type":"ready"}`},
		{"missing script", `{"type":"runScript"}`},
		{"script not string", `{"type":"runScript","script":1}`},
		{"event without source", `{"type":"event","event":{"sourceId":"b","event":"x"}}`},
		{"bad definition", `{"type":"addDevice","id":"d","definition":{"typeTag":"nope","commands":{},"events":{}}}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := sandbox.DecodeRequest([]byte(tc.raw))
			errutil.AssertErrorCode(t, err, sandbox.CodeInvalidMessage)
		})
	}
}

func TestDecodeReply(t *testing.T) {
	rep, err := sandbox.DecodeReply([]byte(`{"type":"updateDeviceState","id":"d","state":null}`))
	require.NoError(t, err)
	assert.Equal(t, "d", rep.ID)
	assert.JSONEq(t, "null", string(rep.State))

	rep, err = sandbox.DecodeReply([]byte(`{"type":"error","error":{"message":"boom","name":"RuntimeError"}}`))
	require.NoError(t, err)
	assert.Equal(t, "boom", rep.Error.Message)

	for _, raw := range []string{
		`{"type":"start"}`,
		`{"type":"updateDeviceState","id":"d"}`,
		`{"type":"error","error":{"name":"x"}}`,
		`{"type":"dump"}`,
		`"ready"`,
	} {
		_, err := sandbox.DecodeReply([]byte(raw))
		errutil.AssertErrorCode(t, err, sandbox.CodeInvalidMessage)
	}
}

func TestRequestConstructorsDecode(t *testing.T) {
	def := protocol.DeviceDefinition{
		TypeTag: "MockButton#0.0.0",
		Commands: map[string]*schema.Type{
			protocol.CommandUpdateState: schema.Null(),
			protocol.CommandShutdown:    schema.Null(),
		},
		Events: map[string]*schema.Type{"buttonPressed": schema.Null()},
	}
	for _, req := range []sandbox.Request{
		sandbox.Control(sandbox.TypePause),
		sandbox.RunScript("return 1"),
		sandbox.RunScript(""),
		sandbox.EventRequest("MockButton#0.0.0", protocol.Event{SourceID: "b", Event: "buttonPressed", Data: json.RawMessage("null")}),
		sandbox.AddDevice("b", def),
		sandbox.Load(protocol.GameData{Devices: []protocol.DeviceState{}, Links: map[string]string{}}),
	} {
		raw, err := sandbox.Encode(req)
		require.NoError(t, err)
		got, err := sandbox.DecodeRequest(raw)
		require.NoError(t, err, string(raw))
		assert.Equal(t, req.Type, got.Type)
	}
}

func TestSchemas(t *testing.T) {
	schemas, err := sandbox.Schemas()
	require.NoError(t, err)
	assert.Contains(t, schemas, "worker-request")
	assert.Contains(t, schemas, "worker-reply")
	assert.True(t, json.Valid(schemas["worker-request"]))
}
