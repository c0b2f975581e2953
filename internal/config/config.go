// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

// Package config loads tet configuration from a YAML file and command line
// flags.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/tetgame/tet/internal/connection"
	"github.com/tetgame/tet/internal/game"
	"github.com/tetgame/tet/internal/logging"
	"github.com/tetgame/tet/internal/tls"
	"github.com/tetgame/tet/internal/xdg"
)

// CodeInvalidConfig marks a configuration that fails Validate or cannot be
// loaded.
const CodeInvalidConfig = "INVALID_CONFIG"

// Broker kinds.
const (
	BrokerMQTT     = "mqtt"
	BrokerLoopback = "loopback"
)

// Sandbox isolation modes.
const (
	IsolationInProcess = "inprocess"
	IsolationProcess   = "process"
)

// Config is the complete tet configuration.
type Config struct {
	Broker  Broker  `koanf:"broker"`
	Sandbox Sandbox `koanf:"sandbox"`
	Server  Server  `koanf:"server"`
	Log     Log     `koanf:"log"`
	Metrics Metrics `koanf:"metrics"`
}

// Broker selects the message transport.
type Broker struct {
	Kind           string        `koanf:"kind"`
	URL            string        `koanf:"url"`
	ClientID       string        `koanf:"client_id"`
	Username       string        `koanf:"username"`
	Password       string        `koanf:"password"`
	QoS            int           `koanf:"qos"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	ConnectRetries int           `koanf:"connect_retries"`
	TLS            BrokerTLS     `koanf:"tls"`
}

// BrokerTLS points at the PEM files for an ssl:// or wss:// broker.
type BrokerTLS struct {
	CAFile             string `koanf:"ca_file"`
	CertFile           string `koanf:"cert_file"`
	KeyFile            string `koanf:"key_file"`
	InsecureSkipVerify bool   `koanf:"insecure_skip_verify"`
}

// Sandbox configures where and how game scripts run.
type Sandbox struct {
	Isolation         string        `koanf:"isolation"`
	Executable        string        `koanf:"executable"`
	ScriptTimeout     time.Duration `koanf:"script_timeout"`
	// Libraries lists the Lua libraries opened for scripts; empty means the
	// engine defaults.
	Libraries         []string      `koanf:"libraries"`
	ClassRedefinition string        `koanf:"class_redefinition"`
}

// Server holds game server timeouts.
type Server struct {
	PublishTimeout time.Duration `koanf:"publish_timeout"`
	ReadyTimeout   time.Duration `koanf:"ready_timeout"`
}

// Log configures logging.Setup.
type Log struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// Metrics configures the observability server. An empty Addr disables it.
type Metrics struct {
	Addr string `koanf:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Broker: Broker{
			Kind:           BrokerMQTT,
			URL:            "tcp://localhost:1883",
			QoS:            int(connection.DefaultQoS),
			ConnectTimeout: connection.DefaultConnectTimeout,
			ConnectRetries: connection.DefaultConnectRetries,
		},
		Sandbox: Sandbox{
			Isolation:         IsolationInProcess,
			Executable:        "tet-sandbox",
			ScriptTimeout:     5 * time.Second,
			ClassRedefinition: "overwrite",
		},
		Server: Server{
			PublishTimeout: 5 * time.Second,
			ReadyTimeout:   10 * time.Second,
		},
		Log: Log{
			Format: "text",
			Level:  "info",
		},
	}
}

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"log-format":     "log.format",
	"log-level":      "log.level",
	"broker":         "broker.kind",
	"broker-url":     "broker.url",
	"client-id":      "broker.client_id",
	"username":       "broker.username",
	"password":       "broker.password",
	"qos":            "broker.qos",
	"tls-ca":         "broker.tls.ca_file",
	"tls-cert":       "broker.tls.cert_file",
	"tls-key":        "broker.tls.key_file",
	"tls-insecure":   "broker.tls.insecure_skip_verify",
	"isolation":      "sandbox.isolation",
	"sandbox-exe":    "sandbox.executable",
	"script-timeout": "sandbox.script_timeout",
	"metrics-addr":   "metrics.addr",
}

// Load reads path, then applies the flags of fs that were set. An empty
// path reads the default config file when it exists.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		p, err := xdg.ConfigFile()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.In("config").Code(CodeInvalidConfig).With("path", path).Wrapf(err, "load config file")
		}
		slog.Debug("loaded config file", "path", path)
	} else if explicit || !errors.Is(err, fs.ErrNotExist) {
		return nil, oops.In("config").Code(CodeInvalidConfig).With("path", path).Wrapf(err, "stat config file")
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.In("config").Code(CodeInvalidConfig).Wrapf(err, "load flags")
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.In("config").Code(CodeInvalidConfig).Wrapf(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func invalid(key string, format string, args ...any) error {
	return oops.In("config").Code(CodeInvalidConfig).With("key", key).Errorf(format, args...)
}

// Validate rejects unknown enum values and non-positive timeouts.
func (c *Config) Validate() error {
	switch c.Broker.Kind {
	case BrokerMQTT:
		if c.Broker.URL == "" {
			return invalid("broker.url", "broker.url is required for an mqtt broker")
		}
	case BrokerLoopback:
	default:
		return invalid("broker.kind", "broker.kind must be %q or %q, got %q", BrokerMQTT, BrokerLoopback, c.Broker.Kind)
	}
	if c.Broker.QoS < 0 || c.Broker.QoS > 2 {
		return invalid("broker.qos", "broker.qos must be 0, 1 or 2, got %d", c.Broker.QoS)
	}
	if c.Broker.ConnectRetries < 0 {
		return invalid("broker.connect_retries", "broker.connect_retries must not be negative")
	}
	if (c.Broker.TLS.CertFile == "") != (c.Broker.TLS.KeyFile == "") {
		return invalid("broker.tls", "broker.tls.cert_file and broker.tls.key_file must be set together")
	}

	switch c.Sandbox.Isolation {
	case IsolationInProcess:
	case IsolationProcess:
		if c.Sandbox.Executable == "" {
			return invalid("sandbox.executable", "sandbox.executable is required for process isolation")
		}
	default:
		return invalid("sandbox.isolation", "sandbox.isolation must be %q or %q, got %q",
			IsolationInProcess, IsolationProcess, c.Sandbox.Isolation)
	}
	if _, err := game.ParseRedefinitionPolicy(c.Sandbox.ClassRedefinition); err != nil {
		return oops.In("config").Code(CodeInvalidConfig).With("key", "sandbox.class_redefinition").Wrap(err)
	}

	for key, d := range map[string]time.Duration{
		"broker.connect_timeout": c.Broker.ConnectTimeout,
		"sandbox.script_timeout": c.Sandbox.ScriptTimeout,
		"server.publish_timeout": c.Server.PublishTimeout,
		"server.ready_timeout":   c.Server.ReadyTimeout,
	} {
		if d <= 0 {
			return invalid(key, "%s must be positive, got %s", key, d)
		}
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return oops.In("config").Code(CodeInvalidConfig).With("key", "log.level").Wrap(err)
	}
	return nil
}

// MQTTOptions returns the broker connection options. The TLS files are
// read here, so a bad path fails before any connect attempt.
func (c *Config) MQTTOptions(logger *slog.Logger) (connection.MQTTOptions, error) {
	opts := connection.MQTTOptions{
		Broker:         c.Broker.URL,
		ClientID:       c.Broker.ClientID,
		Username:       c.Broker.Username,
		Password:       c.Broker.Password,
		QoS:            byte(c.Broker.QoS),
		ConnectTimeout: c.Broker.ConnectTimeout,
		ConnectRetries: uint64(c.Broker.ConnectRetries),
		Logger:         logger,
	}
	tlsOpts := tls.ClientOptions{
		CAFile:             c.Broker.TLS.CAFile,
		CertFile:           c.Broker.TLS.CertFile,
		KeyFile:            c.Broker.TLS.KeyFile,
		InsecureSkipVerify: c.Broker.TLS.InsecureSkipVerify,
	}
	if tlsOpts.Enabled() {
		tlsConfig, err := tls.ClientConfig(tlsOpts)
		if err != nil {
			return connection.MQTTOptions{}, oops.In("config").Code(CodeInvalidConfig).With("key", "broker.tls").Wrap(err)
		}
		opts.TLSConfig = tlsConfig
	}
	return opts, nil
}
