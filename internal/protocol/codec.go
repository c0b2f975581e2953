// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

// Package protocol implements the topic scheme and payload codec spoken
// between devices and the game server.
//
// Topics:
//
//	tet/devices/<id>           hello   {"definitions": DeviceDefinition}
//	tet/devices/<id>/commands  command {"command": string, "data": any}
//	tet/devices/<id>/events    event   {"event": string, "data": any}
//
// Decode is total: every input yields either a validated Message or an error
// carrying one of CodeInvalidTopic, CodeInvalidPayload or CodeSchemaViolation.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/samber/oops"
)

type helloPayload struct {
	Definitions DeviceDefinition `json:"definitions"`
}

type commandPayload struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type eventPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode turns a raw topic and payload into a validated Message.
func Decode(topic string, payload []byte) (Message, error) {
	addr, err := ParseTopic(topic)
	if err != nil {
		return nil, err
	}

	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, invalidPayload(topic, errors.New("empty payload"))
	}
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return nil, invalidPayload(topic, err)
	}

	switch addr.Kind {
	case KindHello:
		if err := validatePayload(topic, kindHelloPayload, value); err != nil {
			return nil, err
		}
		var p helloPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, schemaViolation(topic, "definitions", err)
		}
		if err := p.Definitions.Validate(); err != nil {
			return nil, schemaViolation(topic, "definitions."+errPath(err), err)
		}
		return Hello{SourceID: addr.ID, Definition: p.Definitions}, nil

	case KindCommand:
		if err := validatePayload(topic, kindCommandPayload, value); err != nil {
			return nil, err
		}
		var p commandPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, schemaViolation(topic, "(root)", err)
		}
		return Command{TargetID: addr.ID, Command: p.Command, Data: p.Data}, nil

	default:
		if err := validatePayload(topic, kindEventPayload, value); err != nil {
			return nil, err
		}
		var p eventPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, schemaViolation(topic, "(root)", err)
		}
		return Event{SourceID: addr.ID, Event: p.Event, Data: p.Data}, nil
	}
}

func validatePayload(topic string, kind shapeKind, value any) error {
	err := validateValue(kind, value)
	if err == nil {
		return nil
	}
	if oopsErr, ok := oops.AsOops(err); ok && oopsErr.Code() == CodeSchemaViolation {
		return schemaViolation(topic, errPath(err), err)
	}
	return err
}

// EncodeHello builds the announcement of device id.
func EncodeHello(id string, def DeviceDefinition) (string, []byte, error) {
	payload, err := json.Marshal(helloPayload{Definitions: def})
	if err != nil {
		return "", nil, oops.In("protocol").With("device", id).Wrapf(err, "encode hello")
	}
	return DeviceTopic(id), payload, nil
}

// EncodeCommand builds a command for device id. data may be any value
// encoding/json accepts, including json.RawMessage.
func EncodeCommand(id, command string, data any) (string, []byte, error) {
	raw, err := encodeData(data)
	if err != nil {
		return "", nil, oops.In("protocol").With("device", id).With("command", command).Wrapf(err, "encode command data")
	}
	payload, err := json.Marshal(commandPayload{Command: command, Data: raw})
	if err != nil {
		return "", nil, oops.In("protocol").With("device", id).Wrapf(err, "encode command")
	}
	return CommandTopic(id), payload, nil
}

// EncodeEvent builds an event published by device id.
func EncodeEvent(id, event string, data any) (string, []byte, error) {
	raw, err := encodeData(data)
	if err != nil {
		return "", nil, oops.In("protocol").With("device", id).With("event", event).Wrapf(err, "encode event data")
	}
	payload, err := json.Marshal(eventPayload{Event: event, Data: raw})
	if err != nil {
		return "", nil, oops.In("protocol").With("device", id).Wrapf(err, "encode event")
	}
	return EventTopic(id), payload, nil
}

// encodeData always yields explicit JSON so that a nil argument is sent as null.
func encodeData(data any) (json.RawMessage, error) {
	if raw, ok := data.(json.RawMessage); ok && len(raw) > 0 {
		return raw, nil
	}
	if data == nil {
		return json.RawMessage("null"), nil
	}
	return json.Marshal(data)
}
