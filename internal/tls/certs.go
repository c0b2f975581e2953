// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

// Package tls generates certificates for a TLS-enabled broker and builds the
// client configuration used to reach it.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/oops"
)

// File names inside a certificate directory.
const (
	CAFile  = "root-ca.crt"
	CAKey   = "root-ca.key"
	certExt = ".crt"
	keyExt  = ".key"
)

// CA is a certificate authority certificate and its private key.
type CA struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
}

// Cert is a leaf certificate signed by a CA. Name is used for file naming.
type Cert struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
	Name        string
}

// Usage selects the extended key usage of a leaf certificate.
type Usage int

// Leaf certificate usages.
const (
	UsageServer Usage = iota
	UsageClient
)

func newKey() (*ecdsa.PrivateKey, *big.Int, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, oops.In("tls").Wrapf(err, "generate key")
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, oops.In("tls").Wrapf(err, "generate serial")
	}
	return key, serial, nil
}

// GenerateCA creates a self-signed root CA named after the installation.
func GenerateCA(name string) (*CA, error) {
	key, serial, err := newKey()
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Tet"},
			CommonName:   "Tet CA " + name,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, oops.In("tls").Wrapf(err, "create CA certificate")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, oops.In("tls").Wrapf(err, "parse CA certificate")
	}
	return &CA{Certificate: cert, PrivateKey: key}, nil
}

// GenerateCert creates a leaf certificate signed by ca. Server certificates
// are valid for localhost, 127.0.0.1 and the given hosts.
func GenerateCert(ca *CA, name string, usage Usage, hosts ...string) (*Cert, error) {
	key, serial, err := newKey()
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Tet"},
			CommonName:   name,
		},
		NotBefore: time.Now(),
		NotAfter:  time.Now().AddDate(1, 0, 0),
		KeyUsage:  x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}
	switch usage {
	case UsageServer:
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
		template.DNSNames = []string{"localhost"}
		template.IPAddresses = []net.IP{net.ParseIP("127.0.0.1")}
		for _, h := range hosts {
			if ip := net.ParseIP(h); ip != nil {
				template.IPAddresses = append(template.IPAddresses, ip)
			} else {
				template.DNSNames = append(template.DNSNames, h)
			}
		}
	case UsageClient:
		template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.Certificate, &key.PublicKey, ca.PrivateKey)
	if err != nil {
		return nil, oops.In("tls").With("name", name).Wrapf(err, "create certificate")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, oops.In("tls").With("name", name).Wrapf(err, "parse certificate")
	}
	return &Cert{Certificate: cert, PrivateKey: key, Name: name}, nil
}

// SaveCertificates writes the CA as root-ca.{crt,key} and every cert as
// {name}.{crt,key} into dir.
func SaveCertificates(dir string, ca *CA, certs ...*Cert) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return oops.In("tls").With("dir", dir).Wrapf(err, "create certs directory")
	}
	if err := saveCert(filepath.Join(dir, CAFile), ca.Certificate); err != nil {
		return err
	}
	if err := saveKey(filepath.Join(dir, CAKey), ca.PrivateKey); err != nil {
		return err
	}
	for _, c := range certs {
		if err := saveCert(filepath.Join(dir, c.Name+certExt), c.Certificate); err != nil {
			return err
		}
		if err := saveKey(filepath.Join(dir, c.Name+keyExt), c.PrivateKey); err != nil {
			return err
		}
	}
	return nil
}

// LoadCA reads the CA saved in dir.
func LoadCA(dir string) (*CA, error) {
	certPEM, err := os.ReadFile(filepath.Clean(filepath.Join(dir, CAFile)))
	if err != nil {
		return nil, oops.In("tls").With("dir", dir).Wrapf(err, "read CA certificate")
	}
	keyPEM, err := os.ReadFile(filepath.Clean(filepath.Join(dir, CAKey)))
	if err != nil {
		return nil, oops.In("tls").With("dir", dir).Wrapf(err, "read CA key")
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, oops.In("tls").With("dir", dir).Errorf("decode CA certificate PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, oops.In("tls").With("dir", dir).Wrapf(err, "parse CA certificate")
	}
	block, _ = pem.Decode(keyPEM)
	if block == nil {
		return nil, oops.In("tls").With("dir", dir).Errorf("decode CA key PEM")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, oops.In("tls").With("dir", dir).Wrapf(err, "parse CA key")
	}
	return &CA{Certificate: cert, PrivateKey: key}, nil
}

func saveCert(path string, cert *x509.Certificate) error {
	return writePEM(path, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

func saveKey(path string, key *ecdsa.PrivateKey) error {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return oops.In("tls").With("path", path).Wrapf(err, "marshal key")
	}
	return writePEM(path, &pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
}

func writePEM(path string, block *pem.Block) error {
	f, err := os.OpenFile(filepath.Clean(path), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return oops.In("tls").With("path", path).Wrapf(err, "create file")
	}
	if err := pem.Encode(f, block); err != nil {
		_ = f.Close()
		return oops.In("tls").With("path", path).Wrapf(err, "encode PEM")
	}
	if err := f.Close(); err != nil {
		return oops.In("tls").With("path", path).Wrapf(err, "close file")
	}
	return nil
}
