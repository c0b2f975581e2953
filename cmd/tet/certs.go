// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tetgame/tet/internal/tls"
	"github.com/tetgame/tet/internal/xdg"
)

type certsOptions struct {
	dir   string
	name  string
	hosts []string
}

// NewCertsCmd creates the certs subcommand.
func NewCertsCmd() *cobra.Command {
	opts := &certsOptions{}

	cmd := &cobra.Command{
		Use:   "certs",
		Short: "Generate certificates for a TLS broker",
		Long: `Generate a CA, a broker certificate and a client certificate for running
the broker over TLS. An existing CA in the directory is reused.

Point the broker at root-ca.crt, broker.crt and broker.key, and tet at
--tls-ca root-ca.crt --tls-cert tet.crt --tls-key tet.key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.dir == "" {
				data, err := xdg.DataDir()
				if err != nil {
					return err
				}
				opts.dir = filepath.Join(data, "certs")
			}
			return runCerts(opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.dir, "dir", "", "output directory (default: $XDG_DATA_HOME/tet/certs)")
	cmd.Flags().StringVar(&opts.name, "name", "tet", "installation name used in the CA subject")
	cmd.Flags().StringSliceVar(&opts.hosts, "host", nil, "extra broker host names or addresses")

	return cmd
}

func runCerts(opts *certsOptions, out io.Writer) error {
	ca, err := tls.LoadCA(opts.dir)
	switch {
	case err == nil:
		fmt.Fprintf(out, "using existing CA in %s\n", opts.dir)
	case errors.Is(err, fs.ErrNotExist):
		if ca, err = tls.GenerateCA(opts.name); err != nil {
			return err
		}
	default:
		return err
	}

	broker, err := tls.GenerateCert(ca, "broker", tls.UsageServer, opts.hosts...)
	if err != nil {
		return err
	}
	client, err := tls.GenerateCert(ca, "tet", tls.UsageClient)
	if err != nil {
		return err
	}
	if err := tls.SaveCertificates(opts.dir, ca, broker, client); err != nil {
		return err
	}
	fmt.Fprintf(out, "certificates written to %s\n", opts.dir)
	return nil
}
