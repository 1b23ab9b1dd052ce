// Package relaycmder
package relaycmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/lanternworks/relay/cmd/relay/config"
	servecmder "github.com/lanternworks/relay/cmd/relay/serve"
	versioncmder "github.com/lanternworks/relay/cmd/version"
)

const relayLongDesc string = `Relay is a streaming gateway for model responses.

It normalizes upstream streaming output into a single chunk vocabulary and
fans it out to websocket clients, sending keepalive and progress signals so
long-running invocations do not drop their connections.

Run the gateway using:
  relay serve          Run the websocket gateway

Manage configuration using:
  relay config set     Set a configuration value
  relay config get     Get a configuration value
  relay config list    List all configuration values`

const relayShortDesc string = "Relay - Streaming Gateway"

func NewRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: relayShortDesc,
		Long:  relayLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to the .relay/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
