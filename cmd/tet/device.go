// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package main

import (
	"context"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tetgame/tet/internal/device"
)

// NewDeviceCmd creates the device subcommand.
func NewDeviceCmd(g *globals) *cobra.Command {
	var definition, id string

	cmd := &cobra.Command{
		Use:   "device",
		Short: "Run a simulated device",
		Long: `Run a simulated device that announces a definition and prints the states
it receives. Each stdin line "event [json]" emits that event.

Built-in definitions: ` + strings.Join(device.BuiltinNames(), ", ") + `.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDevice(cmd.Context(), g, definition, id, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	addBrokerFlags(cmd)
	cmd.Flags().StringVar(&definition, "definition", "button", "definition file (YAML or JSON) or built-in name")
	cmd.Flags().StringVar(&id, "id", "", "device id")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func runDevice(ctx context.Context, g *globals, definition, id string, in io.Reader, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conns, err := newConnector(g.cfg, g.logger)
	if err != nil {
		return err
	}
	r, err := startSimulator(ctx, conns, definition+"="+id, g.logger)
	if err != nil {
		return err
	}
	defer r.stop()

	off := r.sim.OnStateChange(func(state any) { printJSON(out, "state", state) })
	defer off()
	printJSON(out, "state", r.sim.State())

	go func() {
		select {
		case <-r.sim.Done():
			stop()
		case <-ctx.Done():
		}
	}()

	err = readLines(ctx, in, out, func(event string, data any) error {
		return r.sim.Emit(ctx, event, data)
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
