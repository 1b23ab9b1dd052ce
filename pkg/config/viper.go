package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/lanternworks/relay/pkg/dotdir"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the RELAY_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (RELAY_GATEWAY_LISTEN, RELAY_BACKEND_ENDPOINT, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: RELAY_GATEWAY_LISTEN, RELAY_LEDGER_DRIVER, etc.
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Gateway
	v.SetDefault("gateway.listen", d.Gateway.Listen)

	// API
	v.SetDefault("api.listen", d.API.Listen)

	// Backend
	v.SetDefault("backend.endpoint", d.Backend.Endpoint)

	// Liveness
	v.SetDefault("liveness.liveness_tick", d.Liveness.LivenessTick)
	v.SetDefault("liveness.liveness_interval", d.Liveness.LivenessInterval)
	v.SetDefault("liveness.progress_tick", d.Liveness.ProgressTick)
	v.SetDefault("liveness.progress_interval", d.Liveness.ProgressInterval)
	v.SetDefault("liveness.max_stream_duration", d.Liveness.MaxStreamDuration)

	// Ledger
	v.SetDefault("ledger.driver", d.Ledger.Driver)
	v.SetDefault("ledger.sqlite_path", d.Ledger.SQLitePath)
	v.SetDefault("ledger.postgres_dsn", d.Ledger.PostgresDSN)

	// Events
	v.SetDefault("events.enabled", d.Events.Enabled)
	v.SetDefault("events.brokers", d.Events.Brokers)
	v.SetDefault("events.topic", d.Events.Topic)
}
