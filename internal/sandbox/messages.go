// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package sandbox

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/samber/oops"

	"github.com/tetgame/tet/internal/game"
	"github.com/tetgame/tet/internal/protocol"
	"github.com/tetgame/tet/internal/schema"
	"github.com/tetgame/tet/pkg/errutil"
)

// MessageType tags worker messages.
type MessageType string

// Parent to worker.
const (
	TypeStart     MessageType = "start"
	TypePause     MessageType = "pause"
	TypeReset     MessageType = "reset"
	TypeRunScript MessageType = "runScript"
	TypeEvent     MessageType = "event"
	TypeAddDevice MessageType = "addDevice"
	TypeDump      MessageType = "dump"
	TypeLoad      MessageType = "load"
)

// Worker to parent. TypeDump is used in both directions.
const (
	TypeError             MessageType = "error"
	TypeReady             MessageType = "ready"
	TypeUpdateDeviceState MessageType = "updateDeviceState"
)

// Request is a message from the server to the worker.
type Request struct {
	Type       MessageType                `json:"type"`
	Script     *string                    `json:"script,omitempty"`
	Source     *game.Source               `json:"source,omitempty"`
	Event      *protocol.Event            `json:"event,omitempty"`
	ID         string                     `json:"id,omitempty"`
	Definition *protocol.DeviceDefinition `json:"definition,omitempty"`
	Data       *protocol.GameData         `json:"data,omitempty"`
}

// Reply is a message from the worker to the server.
type Reply struct {
	Type  MessageType        `json:"type"`
	Error *errutil.Report    `json:"error,omitempty"`
	ID    string             `json:"id,omitempty"`
	State json.RawMessage    `json:"state,omitempty"`
	Data  *protocol.GameData `json:"data,omitempty"`
}

// Control returns a start, pause, reset or dump request.
func Control(t MessageType) Request { return Request{Type: t} }

// RunScript returns a request to evaluate src.
func RunScript(src string) Request { return Request{Type: TypeRunScript, Script: &src} }

// EventRequest forwards a device event whose source has type tag tag.
func EventRequest(tag string, ev protocol.Event) Request {
	return Request{Type: TypeEvent, Source: &game.Source{ID: ev.SourceID, Tag: tag}, Event: &ev}
}

// AddDevice announces a device the game may want to instantiate.
func AddDevice(id string, def protocol.DeviceDefinition) Request {
	return Request{Type: TypeAddDevice, ID: id, Definition: &def}
}

// Load asks the worker to restore a registry snapshot.
func Load(data protocol.GameData) Request { return Request{Type: TypeLoad, Data: &data} }

// ErrorReply reports err to the parent.
func ErrorReply(err error) Reply {
	r := errutil.NewReport(err)
	return Reply{Type: TypeError, Error: &r}
}

// ReadyReply signals that the worker accepts requests.
func ReadyReply() Reply { return Reply{Type: TypeReady} }

// StateReply carries a device state change.
func StateReply(id string, state any) (Reply, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return Reply{}, oops.In("sandbox").Code(CodeInvalidMessage).With("device", id).Wrapf(err, "encode device state")
	}
	return Reply{Type: TypeUpdateDeviceState, ID: id, State: raw}, nil
}

// DumpReply carries a registry snapshot.
func DumpReply(data protocol.GameData) Reply { return Reply{Type: TypeDump, Data: &data} }

// The shapes below only exist for schema reflection.

type eventShape struct {
	SourceID string `json:"sourceId"`
	Event    string `json:"event" jsonschema:"minLength=1"`
	Data     any    `json:"data,omitempty"`
}

type requestShape struct {
	Type       string             `json:"type" jsonschema:"enum=start,enum=pause,enum=reset,enum=runScript,enum=event,enum=addDevice,enum=dump,enum=load"`
	Script     string             `json:"script,omitempty"`
	Source     *game.Source       `json:"source,omitempty"`
	Event      *eventShape        `json:"event,omitempty"`
	ID         string             `json:"id,omitempty"`
	Definition map[string]any     `json:"definition,omitempty"`
	Data       *protocol.GameData `json:"data,omitempty"`
}

type replyShape struct {
	Type  string             `json:"type" jsonschema:"enum=error,enum=ready,enum=updateDeviceState,enum=dump"`
	Error *errutil.Report    `json:"error,omitempty"`
	ID    string             `json:"id,omitempty"`
	State any                `json:"state,omitempty"`
	Data  *protocol.GameData `json:"data,omitempty"`
}

// required lists the fields each message type must carry besides "type".
var required = map[string]map[MessageType][]string{
	"request": {
		TypeRunScript: {"script"},
		TypeEvent:     {"source", "event"},
		TypeAddDevice: {"id", "definition"},
		TypeLoad:      {"data"},
	},
	"reply": {
		TypeError:             {"error"},
		TypeUpdateDeviceState: {"id", "state"},
		TypeDump:              {"data"},
	},
}

var (
	schemasOnce sync.Once
	compiled    map[string]*jschema.Schema
	schemasErr  error
)

func reflectMessage(name string) *jsonschema.Schema {
	r := jsonschema.Reflector{AllowAdditionalProperties: true}
	var s *jsonschema.Schema
	if name == "request" {
		s = r.Reflect(&requestShape{})
		s.Title = "Sandbox worker request"
	} else {
		s = r.Reflect(&replyShape{})
		s.Title = "Sandbox worker reply"
	}
	return s
}

// Schemas returns the JSON Schemas of worker requests and replies.
func Schemas() (map[string][]byte, error) {
	out := make(map[string][]byte, 2)
	for _, name := range []string{"request", "reply"} {
		s := reflectMessage(name)
		s.ID = jsonschema.ID("https://tet.game/schemas/worker-" + name + ".json")
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return nil, oops.Wrapf(err, "marshal worker %s schema", name)
		}
		out["worker-"+name] = data
	}
	return out, nil
}

func messageSchema(name string) (*jschema.Schema, error) {
	schemasOnce.Do(func() {
		compiled = make(map[string]*jschema.Schema, 2)
		for _, n := range []string{"request", "reply"} {
			sch, err := schema.CompileDocument("tet://sandbox/"+n+".json", reflectMessage(n))
			if err != nil {
				schemasErr = oops.Wrapf(err, "compile worker %s schema", n)
				return
			}
			compiled[n] = sch
		}
	})
	if schemasErr != nil {
		return nil, schemasErr
	}
	return compiled[name], nil
}

func invalidMessage(format string, args ...any) error {
	return oops.In("sandbox").Code(CodeInvalidMessage).Errorf(format, args...)
}

// decodeMessage validates raw against the named schema and the per type
// required fields, then unmarshals it into out.
func decodeMessage(name string, raw []byte, out any) error {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return invalidMessage("worker %s is not JSON: %v", name, err)
	}
	sch, err := messageSchema(name)
	if err != nil {
		return err
	}
	if err := sch.Validate(value); err != nil {
		return oops.In("sandbox").
			Code(CodeInvalidMessage).
			With("path", schema.ViolationPath(err)).
			Errorf("invalid worker %s at %s: %v", name, schema.ViolationPath(err), err)
	}

	obj := value.(map[string]any)
	typ := MessageType(obj["type"].(string))
	for _, field := range required[name][typ] {
		if _, ok := obj[field]; !ok {
			return oops.In("sandbox").
				Code(CodeInvalidMessage).
				With("path", field).
				Errorf("worker %s %q is missing %q", name, typ, field)
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return invalidMessage("decode worker %s: %v", name, err)
	}
	return nil
}

// DecodeRequest parses and validates a request.
func DecodeRequest(raw []byte) (Request, error) {
	var req Request
	if err := decodeMessage("request", raw, &req); err != nil {
		return Request{}, err
	}
	if req.Definition != nil {
		if err := req.Definition.Validate(); err != nil {
			return Request{}, invalidMessage("addDevice definition: %v", err)
		}
	}
	return req, nil
}

// DecodeReply parses and validates a reply.
func DecodeReply(raw []byte) (Reply, error) {
	var rep Reply
	if err := decodeMessage("reply", raw, &rep); err != nil {
		return Reply{}, err
	}
	return rep, nil
}

// Encode marshals a request or reply.
func Encode(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, oops.In("sandbox").Code(CodeInvalidMessage).Wrapf(err, "encode worker message")
	}
	return data, nil
}
