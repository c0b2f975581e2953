// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package main

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"
)

// NewVersionCmd creates the version subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tet version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			v := version
			if sv, err := semver.NewVersion(version); err == nil {
				v = "v" + sv.String()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tet %s (commit: %s, built: %s)\n", v, commit, date)
		},
	}
}
