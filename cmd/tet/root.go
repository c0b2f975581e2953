// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tetgame/tet/internal/config"
	"github.com/tetgame/tet/internal/logging"
)

// globals is the state shared by every subcommand once flags are parsed.
type globals struct {
	configFile string
	cfg        *config.Config
	logger     *slog.Logger
}

// NewRootCmd creates the root command for the tet CLI.
func NewRootCmd() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:   "tet",
		Short: "tet - a game server for networked devices",
		Long: `tet runs games scripted in Lua against devices that talk MQTT.
Devices announce themselves, the server routes their events into the game
script and sends the resulting state back to them.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&g.configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/tet/config.yaml)")
	cmd.PersistentFlags().String("log-format", config.Default().Log.Format, "log format (json or text)")
	cmd.PersistentFlags().String("log-level", config.Default().Log.Level, "log level (debug, info, warn, error)")

	cmd.AddCommand(NewServeCmd(g))
	cmd.AddCommand(NewCtlCmd(g))
	cmd.AddCommand(NewDeviceCmd(g))
	cmd.AddCommand(NewCertsCmd())
	cmd.AddCommand(NewSchemaCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

func (g *globals) load(cmd *cobra.Command) error {
	cfg, err := config.Load(g.configFile, cmd.Flags())
	if err != nil {
		return err
	}
	g.cfg = cfg
	g.logger = logging.SetDefault("tet", version, cfg.Log.Format, cfg.Log.Level)
	return nil
}

// addBrokerFlags registers the flags that select and reach the broker.
func addBrokerFlags(cmd *cobra.Command) {
	def := config.Default().Broker
	cmd.Flags().String("broker", def.Kind, "broker kind (mqtt or loopback)")
	cmd.Flags().String("broker-url", def.URL, "MQTT broker URL")
	cmd.Flags().String("client-id", "", "MQTT client id (default: generated)")
	cmd.Flags().String("username", "", "MQTT username")
	cmd.Flags().String("password", "", "MQTT password")
	cmd.Flags().Int("qos", def.QoS, "MQTT quality of service (0, 1 or 2)")
	cmd.Flags().String("tls-ca", "", "CA certificate for an ssl:// broker (default: system roots)")
	cmd.Flags().String("tls-cert", "", "client certificate for an ssl:// broker")
	cmd.Flags().String("tls-key", "", "client key for an ssl:// broker")
	cmd.Flags().Bool("tls-insecure", false, "skip broker certificate verification")
}
