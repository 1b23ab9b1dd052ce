// Package configcmder provides the config command for managing persistent
// relay configuration stored in the .relay/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent relay configuration.

Configuration is stored as config.toml in the .relay/ directory and provides
default values for command flags. CLI flags always take precedence over
config file values.

Keys use dotted notation matching the TOML section structure:
  gateway.listen, api.listen, backend.endpoint,
  liveness.liveness_tick, liveness.liveness_interval,
  liveness.progress_tick, liveness.progress_interval, liveness.max_stream_duration,
  ledger.driver, ledger.sqlite_path, ledger.postgres_dsn,
  events.enabled, events.brokers, events.topic

Use subcommands to get, set, or list configuration values:
  relay config set <key> <value>    Set a configuration value
  relay config get <key>            Get a configuration value
  relay config list                 List all configuration values

Examples:
  relay config set backend.endpoint http://localhost:9090/invocations
  relay config set ledger.driver sqlite
  relay config get gateway.listen
  relay config list`

const configShortDesc string = "Manage persistent relay configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
