// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package main

import (
	"fmt"
	"maps"
	"slices"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/tetgame/tet/internal/protocol"
	"github.com/tetgame/tet/internal/sandbox"
)

// NewSchemaCmd creates the schema subcommand.
func NewSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [name]",
		Short: "Print the JSON Schemas of wire payloads and worker messages",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := protocol.Schemas()
			if err != nil {
				return err
			}
			worker, err := sandbox.Schemas()
			if err != nil {
				return err
			}
			maps.Copy(all, worker)

			names := slices.Sorted(maps.Keys(all))
			if len(args) == 1 {
				data, ok := all[args[0]]
				if !ok {
					return oops.In("schema").With("name", args[0]).Errorf("unknown schema %q, have %v", args[0], names)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s\n", name, all[name])
			}
			return nil
		},
	}
}
