// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package protocol

import (
	"encoding/json"

	"github.com/samber/oops"
)

// DeviceState is one device in a registry snapshot.
type DeviceState struct {
	ID          string `json:"id"`
	State       any    `json:"state"`
	DeviceClass string `json:"deviceClass"`
}

// GameData is the snapshot of the sandboxed device registry.
type GameData struct {
	Devices []DeviceState     `json:"devices"`
	Links   map[string]string `json:"links"`
}

// GameDump is the save file format: registry snapshot, known device
// definitions and the game code that produced them.
type GameDump struct {
	GameData GameData                    `json:"gameData"`
	Devices  map[string]DeviceDefinition `json:"devices"`
	GameCode string                      `json:"gameCode"`
}

// DecodeGameDump parses and validates a save file.
func DecodeGameDump(data []byte) (GameDump, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return GameDump{}, oops.In("protocol").Code(CodeInvalidPayload).Wrapf(err, "decode game dump")
	}
	return GameDumpFromValue(raw)
}

// GameDumpFromValue validates a decoded JSON value as a GameDump.
func GameDumpFromValue(raw any) (GameDump, error) {
	if err := validateValue(kindGameDump, raw); err != nil {
		return GameDump{}, err
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return GameDump{}, oops.In("protocol").Code(CodeInvalidPayload).Wrap(err)
	}
	var dump GameDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return GameDump{}, oops.In("protocol").Code(CodeInvalidPayload).Wrap(err)
	}
	for id, def := range dump.Devices {
		if err := def.Validate(); err != nil {
			return GameDump{}, schemaViolation("", "devices."+id+"."+errPath(err), err)
		}
	}
	if dump.GameData.Links == nil {
		dump.GameData.Links = map[string]string{}
	}
	return dump, nil
}

// ValidateGameData checks a registry snapshot against its schema.
func ValidateGameData(data GameData) error {
	raw, err := normalize(data)
	if err != nil {
		return err
	}
	return validateValue(kindGameData, raw)
}
