// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package protocol

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/samber/oops"

	"github.com/tetgame/tet/internal/schema"
)

// The structs below only describe wire shapes for schema reflection. Opaque
// JSON values are typed any so they reflect to an unconstrained schema.

type definitionShape struct {
	TypeTag      string                  `json:"typeTag" jsonschema:"pattern=^[^#]+#\\d+\\.\\d+\\.\\d+$"`
	InitialState any                     `json:"initialState,omitempty"`
	Commands     map[string]*schema.Type `json:"commands"`
	Events       map[string]*schema.Type `json:"events"`
}

type helloShape struct {
	Definitions definitionShape `json:"definitions"`
}

type commandShape struct {
	Command string `json:"command" jsonschema:"minLength=1"`
	Data    any    `json:"data,omitempty"`
}

type eventShape struct {
	Event string `json:"event" jsonschema:"minLength=1"`
	Data  any    `json:"data,omitempty"`
}

type gameDumpShape struct {
	GameData GameData                   `json:"gameData"`
	Devices  map[string]definitionShape `json:"devices"`
	GameCode string                     `json:"gameCode"`
}

type shapeKind int

const (
	kindHelloPayload shapeKind = iota
	kindCommandPayload
	kindEventPayload
	kindGameData
	kindGameDump
)

var shapes = map[shapeKind]struct {
	name  string
	title string
	value any
}{
	kindHelloPayload:   {"hello", "Device announcement payload", &helloShape{}},
	kindCommandPayload: {"command", "Device command payload", &commandShape{}},
	kindEventPayload:   {"event", "Device event payload", &eventShape{}},
	kindGameData:       {"game-data", "Device registry snapshot", &GameData{}},
	kindGameDump:       {"game-dump", "Game save file", &gameDumpShape{}},
}

var (
	compileOnce sync.Once
	compiled    map[shapeKind]*jschema.Schema
	compileErr  error
)

func reflectShape(kind shapeKind) *jsonschema.Schema {
	r := jsonschema.Reflector{AllowAdditionalProperties: true}
	s := r.Reflect(shapes[kind].value)
	s.Title = shapes[kind].title
	return s
}

// Schemas returns every wire payload schema keyed by name, as printed by
// the schema command.
func Schemas() (map[string][]byte, error) {
	out := make(map[string][]byte, len(shapes))
	for kind, shape := range shapes {
		s := reflectShape(kind)
		s.ID = jsonschema.ID("https://tet.game/schemas/" + shape.name + ".json")
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return nil, oops.Wrapf(err, "marshal %s schema", shape.name)
		}
		out[shape.name] = data
	}
	return out, nil
}

func compiledShape(kind shapeKind) (*jschema.Schema, error) {
	compileOnce.Do(func() {
		compiled = make(map[shapeKind]*jschema.Schema, len(shapes))
		for k, shape := range shapes {
			doc, err := json.Marshal(reflectShape(k))
			if err != nil {
				compileErr = oops.Wrapf(err, "marshal %s schema", shape.name)
				return
			}
			sch, err := schema.CompileDocument("tet://protocol/"+shape.name+".json", doc)
			if err != nil {
				compileErr = oops.Wrapf(err, "compile %s schema", shape.name)
				return
			}
			compiled[k] = sch
		}
	})
	if compileErr != nil {
		return nil, compileErr
	}
	return compiled[kind], nil
}

func validateValue(kind shapeKind, value any) error {
	sch, err := compiledShape(kind)
	if err != nil {
		return err
	}
	if err := sch.Validate(value); err != nil {
		return schemaViolation("", schema.ViolationPath(err), err)
	}
	return nil
}

func normalize(v any) (any, error) {
	out, err := schema.Normalize(v)
	if err != nil {
		return nil, oops.In("protocol").Code(CodeInvalidPayload).Errorf("%v", err)
	}
	return out, nil
}

func errPath(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		if p, ok := oopsErr.Context()["path"].(string); ok {
			return p
		}
	}
	return "(root)"
}
