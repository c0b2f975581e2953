// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package server

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tetgame/tet/internal/protocol"
	"github.com/tetgame/tet/internal/schema"
)

var tracer = otel.Tracer("tet/server")

// Server commands, sent to ServerID.
const (
	CommandStartGame      = "startGame"
	CommandPauseGame      = "pauseGame"
	CommandResetGame      = "resetGame"
	CommandUploadGameCode = "uploadGameCode"
	CommandDumpGame       = "dumpGame"
	CommandLoadGame       = "loadGame"
)

// commandSpec is one entry of the server command vocabulary. decode turns
// the command data into the handler argument.
type commandSpec struct {
	decode func(data any) (any, error)
	run    func(s *Server, ctx context.Context, arg any) error
}

var (
	nullData   = schema.MustCompile(schema.Null())
	stringData = schema.MustCompile(schema.String())
)

func checked(v *schema.Validator) func(any) (any, error) {
	return func(data any) (any, error) {
		if err := v.Validate(data); err != nil {
			return nil, err
		}
		return data, nil
	}
}

func decodeDump(data any) (any, error) {
	return protocol.GameDumpFromValue(data)
}

var commands = map[string]commandSpec{
	CommandStartGame: {
		decode: checked(nullData),
		run:    func(s *Server, ctx context.Context, _ any) error { return s.StartGame(ctx) },
	},
	CommandPauseGame: {
		decode: checked(nullData),
		run:    func(s *Server, ctx context.Context, _ any) error { return s.PauseGame(ctx) },
	},
	CommandResetGame: {
		decode: checked(nullData),
		run:    func(s *Server, ctx context.Context, _ any) error { return s.ResetGame(ctx) },
	},
	CommandUploadGameCode: {
		decode: checked(stringData),
		run: func(s *Server, ctx context.Context, code any) error {
			return s.UploadGameCode(ctx, code.(string))
		},
	},
	CommandDumpGame: {
		decode: checked(nullData),
		run:    func(s *Server, ctx context.Context, _ any) error { return s.DumpGame(ctx) },
	},
	CommandLoadGame: {
		decode: decodeDump,
		run: func(s *Server, ctx context.Context, dump any) error {
			return s.LoadGame(ctx, dump.(protocol.GameDump))
		},
	},
}

// CommandNames returns the server command vocabulary.
func CommandNames() []string {
	return []string{
		CommandStartGame, CommandPauseGame, CommandResetGame,
		CommandUploadGameCode, CommandDumpGame, CommandLoadGame,
	}
}

// handleCommand runs a command addressed to the server. Failures are
// reported, never returned.
func (s *Server) handleCommand(ctx context.Context, cmd protocol.Command) {
	if cmd.TargetID != protocol.ServerID {
		return
	}
	if err := s.execute(ctx, cmd); err != nil {
		s.ReportError(ctx, err)
	}
}

func (s *Server) execute(ctx context.Context, cmd protocol.Command) (err error) {
	ctx, span := tracer.Start(ctx, "server.command",
		trace.WithAttributes(attribute.String("command.name", cmd.Command)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	spec, ok := commands[cmd.Command]
	if !ok {
		recordCommand("unknown", unknownCommand(cmd.Command))
		return unknownCommand(cmd.Command)
	}
	defer func() { recordCommand(cmd.Command, err) }()

	data, err := schema.DecodeJSON(cmd.Data)
	if err != nil {
		return invalidCommand(cmd.Command, err)
	}
	arg, err := spec.decode(data)
	if err != nil {
		return invalidCommand(cmd.Command, err)
	}
	s.logger.InfoContext(ctx, "executing command", "command", cmd.Command)
	return spec.run(s, ctx, arg)
}
