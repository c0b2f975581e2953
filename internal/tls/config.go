// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package tls

import (
	cryptotls "crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

// ClientOptions locates the PEM files for a broker connection. All fields
// are optional; CertFile and KeyFile go together.
type ClientOptions struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	InsecureSkipVerify bool
}

// Enabled reports whether any TLS setting was given.
func (o ClientOptions) Enabled() bool {
	return o.CAFile != "" || o.CertFile != "" || o.KeyFile != "" || o.InsecureSkipVerify
}

// ClientConfig builds the client TLS configuration for opts. Without a CA
// file the system roots are used.
func ClientConfig(opts ClientOptions) (*cryptotls.Config, error) {
	cfg := &cryptotls.Config{
		MinVersion:         cryptotls.VersionTLS12,
		InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // operator opt-in for test brokers
	}

	if opts.CAFile != "" {
		pemData, err := os.ReadFile(filepath.Clean(opts.CAFile))
		if err != nil {
			return nil, oops.In("tls").With("path", opts.CAFile).Wrapf(err, "read CA file")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, oops.In("tls").With("path", opts.CAFile).Errorf("no certificates in CA file")
		}
		cfg.RootCAs = pool
	}

	if (opts.CertFile == "") != (opts.KeyFile == "") {
		return nil, oops.In("tls").Errorf("client certificate and key must be given together")
	}
	if opts.CertFile != "" {
		pair, err := cryptotls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, oops.In("tls").With("cert", opts.CertFile).With("key", opts.KeyFile).
				Wrapf(err, "load client certificate")
		}
		cfg.Certificates = []cryptotls.Certificate{pair}
	}
	return cfg, nil
}
