// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/tetgame/tet/internal/client"
	"github.com/tetgame/tet/internal/protocol"
	"github.com/tetgame/tet/internal/server"
	"github.com/tetgame/tet/pkg/errutil"
)

// ctlOptions holds the flags of the ctl command.
type ctlOptions struct {
	output string
	wait   time.Duration
}

// NewCtlCmd creates the ctl subcommand.
func NewCtlCmd(g *globals) *cobra.Command {
	opts := &ctlOptions{}

	cmd := &cobra.Command{
		Use:   "ctl <command> [file]",
		Short: "Send a command to a running game server",
		Long: `Send an operator command to the game server and print what it answers.

Commands: ` + strings.Join(server.CommandNames(), ", ") + `.
uploadGameCode and loadGame read their data from file.`,
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: server.CommandNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			conns, err := newConnector(g.cfg, g.logger)
			if err != nil {
				return err
			}
			c := client.New(conns.open("ctl", true), client.WithLogger(g.logger))
			defer c.Close()
			return runCtl(cmd.Context(), c, args, opts, cmd.OutOrStdout())
		},
	}

	addBrokerFlags(cmd)
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write the dumpGame result to this file instead of stdout")
	cmd.Flags().DurationVar(&opts.wait, "wait", 2*time.Second, "how long to wait for the server to answer")

	return cmd
}

// commandData builds the command payload from its file argument.
func commandData(args []string) (any, error) {
	name := args[0]
	if !slices.Contains(server.CommandNames(), name) {
		return nil, oops.In("ctl").Code(server.CodeUnknownCommand).With("command", name).Errorf("unknown server command %q", name)
	}
	needsFile := name == server.CommandUploadGameCode || name == server.CommandLoadGame
	if needsFile != (len(args) == 2) {
		if needsFile {
			return nil, oops.In("ctl").With("command", name).Errorf("%s needs a file argument", name)
		}
		return nil, oops.In("ctl").With("command", name).Errorf("%s takes no argument", name)
	}
	if !needsFile {
		return nil, nil
	}

	data, err := os.ReadFile(args[1])
	if err != nil {
		return nil, oops.In("ctl").With("path", args[1]).Wrapf(err, "read %s file", name)
	}
	if name == server.CommandUploadGameCode {
		return string(data), nil
	}
	return protocol.DecodeGameDump(data)
}

// runCtl sends one command and waits for the server's answer. A dumpGame
// returns once the dump arrives; other commands wait opts.wait for an error
// report and succeed when none arrives.
func runCtl(ctx context.Context, c *client.Client, args []string, opts *ctlOptions, out io.Writer) error {
	data, err := commandData(args)
	if err != nil {
		return err
	}
	name := args[0]

	events := make(chan protocol.Event, 8)
	off := c.OnEvent(func(ev protocol.Event) {
		if ev.SourceID == protocol.ServerID {
			select {
			case events <- ev:
			default:
			}
		}
	})
	defer off()

	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = c.Disconnect(context.Background()) }()
	if err := c.SubscribeToEvents(ctx, protocol.ServerID); err != nil {
		return err
	}
	if err := c.SendCommand(ctx, protocol.ServerID, name, data); err != nil {
		return err
	}

	timeout := time.After(opts.wait)
	for {
		select {
		case ev := <-events:
			switch ev.Event {
			case server.EventError:
				var r errutil.Report
				if err := json.Unmarshal(ev.Data, &r); err != nil {
					return oops.In("ctl").Wrapf(err, "decode error report")
				}
				return r
			case server.EventGameDump:
				if name == server.CommandDumpGame {
					return writeDump(ev.Data, opts.output, out)
				}
			}
		case <-timeout:
			if name == server.CommandDumpGame {
				return oops.In("ctl").Errorf("no game dump within %s", opts.wait)
			}
			fmt.Fprintf(out, "%s sent\n", name)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func writeDump(raw json.RawMessage, path string, out io.Writer) error {
	dump, err := protocol.DecodeGameDump(raw)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return oops.In("ctl").Wrapf(err, "encode game dump")
	}
	data = append(data, '\n')
	if path == "" {
		_, err := out.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return oops.In("ctl").With("path", path).Wrapf(err, "write game dump")
	}
	fmt.Fprintf(out, "game dump written to %s\n", path)
	return nil
}
