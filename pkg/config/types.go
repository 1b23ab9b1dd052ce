package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config represents the persistent relay configuration stored as config.toml
// in the .relay/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version  int            `toml:"version"`
	Gateway  GatewayConfig  `toml:"gateway"`
	API      APIConfig      `toml:"api"`
	Backend  BackendConfig  `toml:"backend"`
	Liveness LivenessConfig `toml:"liveness"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Events   EventsConfig   `toml:"events"`
}

// GatewayConfig holds gateway server settings.
type GatewayConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// APIConfig holds usage API server settings. An empty listen address
// disables the server.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// BackendConfig holds settings for the invocation backend the gateway
// forwards prompts to.
type BackendConfig struct {
	Endpoint string `toml:"endpoint,omitempty"`
}

// LivenessConfig holds the keepalive scheduler timings. Values are duration
// strings ("5s", "2m"); viper parses them on the serve path.
type LivenessConfig struct {
	LivenessTick      string `toml:"liveness_tick,omitempty"`
	LivenessInterval  string `toml:"liveness_interval,omitempty"`
	ProgressTick      string `toml:"progress_tick,omitempty"`
	ProgressInterval  string `toml:"progress_interval,omitempty"`
	MaxStreamDuration string `toml:"max_stream_duration,omitempty"`
}

// LedgerConfig holds usage ledger settings.
type LedgerConfig struct {
	Driver      string `toml:"driver,omitempty"`
	SQLitePath  string `toml:"sqlite_path,omitempty"`
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// EventsConfig holds stream lifecycle event publishing settings.
type EventsConfig struct {
	Enabled bool     `toml:"enabled,omitempty"`
	Brokers []string `toml:"brokers,omitempty"`
	Topic   string   `toml:"topic,omitempty"`
}

// ledgerDrivers are the recognized values for ledger.driver.
var ledgerDrivers = []string{"memory", "sqlite", "postgres"}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// setDuration validates and stores a duration string field.
func setDuration(target *string, key, v string) error {
	if _, err := time.ParseDuration(v); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*target = v
	return nil
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"gateway.listen": {
		get: func(c *Config) string { return c.Gateway.Listen },
		set: func(c *Config, v string) error { c.Gateway.Listen = v; return nil },
	},
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"backend.endpoint": {
		get: func(c *Config) string { return c.Backend.Endpoint },
		set: func(c *Config, v string) error { c.Backend.Endpoint = v; return nil },
	},
	"liveness.liveness_tick": {
		get: func(c *Config) string { return c.Liveness.LivenessTick },
		set: func(c *Config, v string) error {
			return setDuration(&c.Liveness.LivenessTick, "liveness.liveness_tick", v)
		},
	},
	"liveness.liveness_interval": {
		get: func(c *Config) string { return c.Liveness.LivenessInterval },
		set: func(c *Config, v string) error {
			return setDuration(&c.Liveness.LivenessInterval, "liveness.liveness_interval", v)
		},
	},
	"liveness.progress_tick": {
		get: func(c *Config) string { return c.Liveness.ProgressTick },
		set: func(c *Config, v string) error {
			return setDuration(&c.Liveness.ProgressTick, "liveness.progress_tick", v)
		},
	},
	"liveness.progress_interval": {
		get: func(c *Config) string { return c.Liveness.ProgressInterval },
		set: func(c *Config, v string) error {
			return setDuration(&c.Liveness.ProgressInterval, "liveness.progress_interval", v)
		},
	},
	"liveness.max_stream_duration": {
		get: func(c *Config) string { return c.Liveness.MaxStreamDuration },
		set: func(c *Config, v string) error {
			return setDuration(&c.Liveness.MaxStreamDuration, "liveness.max_stream_duration", v)
		},
	},
	"ledger.driver": {
		get: func(c *Config) string { return c.Ledger.Driver },
		set: func(c *Config, v string) error {
			for _, driver := range ledgerDrivers {
				if v == driver {
					c.Ledger.Driver = v
					return nil
				}
			}
			return fmt.Errorf("invalid value for ledger.driver: %q (available: %s)",
				v, strings.Join(ledgerDrivers, ", "))
		},
	},
	"ledger.sqlite_path": {
		get: func(c *Config) string { return c.Ledger.SQLitePath },
		set: func(c *Config, v string) error { c.Ledger.SQLitePath = v; return nil },
	},
	"ledger.postgres_dsn": {
		get: func(c *Config) string { return c.Ledger.PostgresDSN },
		set: func(c *Config, v string) error { c.Ledger.PostgresDSN = v; return nil },
	},
	"events.enabled": {
		get: func(c *Config) string { return strconv.FormatBool(c.Events.Enabled) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for events.enabled: %w", err)
			}
			c.Events.Enabled = b
			return nil
		},
	},
	"events.brokers": {
		get: func(c *Config) string { return strings.Join(c.Events.Brokers, ",") },
		set: func(c *Config, v string) error {
			var brokers []string
			for _, broker := range strings.Split(v, ",") {
				broker = strings.TrimSpace(broker)
				if broker != "" {
					brokers = append(brokers, broker)
				}
			}
			c.Events.Brokers = brokers
			return nil
		},
	},
	"events.topic": {
		get: func(c *Config) string { return c.Events.Topic },
		set: func(c *Config, v string) error { c.Events.Topic = v; return nil },
	},
}
