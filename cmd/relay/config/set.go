package configcmder

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lanternworks/relay/pkg/cliui"
	"github.com/lanternworks/relay/pkg/config"
)

const setLongDesc string = `Set a configuration value.

Sets the given key to the provided value in the config.toml file
stored in the .relay/ directory. Keys use dotted notation matching
the TOML section structure.

Valid keys:
  gateway.listen, api.listen, backend.endpoint,
  liveness.liveness_tick, liveness.liveness_interval,
  liveness.progress_tick, liveness.progress_interval, liveness.max_stream_duration,
  ledger.driver, ledger.sqlite_path, ledger.postgres_dsn,
  events.enabled, events.brokers, events.topic

Liveness values are duration strings such as "5s" or "2m". The ledger
driver must be one of memory, sqlite, or postgres.

Examples:
  relay config set backend.endpoint http://localhost:9090/invocations
  relay config set liveness.liveness_interval 45s
  relay config set events.enabled true`

const setShortDesc string = "Set a configuration value"

func newSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: setShortDesc,
		Long:  setLongDesc,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runSet(args[0], args[1], configDir)
		},
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 0 {
				return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
	}

	return cmd
}

func runSet(key, value, configDir string) error {
	if !config.IsValidConfigKey(key) {
		return fmt.Errorf("unknown config key: %q\n\nValid keys: %s",
			key, strings.Join(config.ValidConfigKeys(), ", "))
	}

	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	target := cfger.GetTarget()
	if target != "" {
		fmt.Printf("\n  %s %s\n\n",
			cliui.KeyStyle.Render("Config file:"),
			cliui.DimStyle.Render(target),
		)
	} else {
		fmt.Printf("\n  %s\n\n", cliui.DimStyle.Render("No config file found. Using defaults."))
	}

	err = cfger.SetConfigValue(key, value)
	if err != nil {
		return err
	}

	fmt.Printf("  %s Set %s = %s\n\n",
		cliui.SuccessMark,
		cliui.KeyStyle.Render(key),
		cliui.ValueStyle.Render(value),
	)
	return nil
}
