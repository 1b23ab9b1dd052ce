// Package servecmder provides the serve command that runs the relay gateway.
package servecmder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lanternworks/relay/api"
	"github.com/lanternworks/relay/gateway"
	"github.com/lanternworks/relay/pkg/config"
	"github.com/lanternworks/relay/pkg/dotdir"
	"github.com/lanternworks/relay/pkg/eventstream"
	"github.com/lanternworks/relay/pkg/eventstream/kafka"
	"github.com/lanternworks/relay/pkg/eventstream/nop"
	"github.com/lanternworks/relay/pkg/invoke"
	"github.com/lanternworks/relay/pkg/ledger"
	"github.com/lanternworks/relay/pkg/ledger/inmemory"
	"github.com/lanternworks/relay/pkg/ledger/postgres"
	"github.com/lanternworks/relay/pkg/ledger/sqlite"
	"github.com/lanternworks/relay/pkg/liveness"
	"github.com/lanternworks/relay/pkg/logger"
)

// ledgerFileName is the SQLite database created inside the .relay/
// directory when ledger.sqlite_path is not set.
const ledgerFileName = "ledger.db"

const shutdownTimeout = 10 * time.Second

type serveCommander struct {
	listen       string
	apiListen    string
	backend      string
	ledgerDriver string
	sqlitePath   string
	postgresDSN  string
	eventsOn     bool
	eventBrokers []string
	eventTopic   string
	debug        bool

	v      *viper.Viper
	logger *zap.Logger
}

// serveFlags defines every serve flag once, keyed by the registry
// constants in pkg/config, so names and viper keys cannot drift.
var serveFlags = config.FlagSet{
	config.FlagListen: {
		Name:        "listen",
		Shorthand:   "l",
		ViperKey:    "gateway.listen",
		Description: "Address for the gateway to listen on",
	},
	config.FlagAPIListen: {
		Name:        "api-listen",
		Shorthand:   "a",
		ViperKey:    "api.listen",
		Description: "Address for the usage API to listen on (empty disables it)",
	},
	config.FlagBackend: {
		Name:        "backend",
		Shorthand:   "b",
		ViperKey:    "backend.endpoint",
		Description: "Invocation backend endpoint the gateway forwards prompts to",
	},
	config.FlagLedgerDriver: {
		Name:        "ledger-driver",
		ViperKey:    "ledger.driver",
		Description: "Usage ledger driver (memory, sqlite, postgres)",
	},
	config.FlagSQLite: {
		Name:        "sqlite",
		Shorthand:   "s",
		ViperKey:    "ledger.sqlite_path",
		Description: "Path to the SQLite ledger database (default: .relay/ledger.db)",
	},
	config.FlagPostgresDSN: {
		Name:        "postgres-dsn",
		ViperKey:    "ledger.postgres_dsn",
		Description: "Postgres connection string for the ledger",
	},
	config.FlagEventsEnabled: {
		Name:        "events",
		ViperKey:    "events.enabled",
		Description: "Publish stream lifecycle events to Kafka",
	},
	config.FlagEventBrokers: {
		Name:        "event-brokers",
		ViperKey:    "events.brokers",
		Description: "Kafka bootstrap broker addresses",
	},
	config.FlagEventTopic: {
		Name:        "event-topic",
		ViperKey:    "events.topic",
		Description: "Kafka topic for stream lifecycle events",
	},
}

const serveLongDesc string = `Run the relay gateway.

The gateway accepts websocket connections, forwards each prompt to the
configured invocation backend, and streams normalized response chunks back
to the client. Keepalive and progress frames hold connections open through
long invocations, and per-stream usage is recorded to the ledger off the
streaming path.

A read-only usage API serves ledger summaries on its own address. Pass
--api-listen "" to disable it.

Configuration resolves in order of precedence: CLI flags, RELAY_* environment
variables, config.toml in the .relay/ directory, then built-in defaults.`

const serveShortDesc string = "Run the relay gateway"

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, serveFlags, []string{
				config.FlagListen,
				config.FlagAPIListen,
				config.FlagBackend,
				config.FlagLedgerDriver,
				config.FlagSQLite,
				config.FlagPostgresDSN,
				config.FlagEventsEnabled,
				config.FlagEventBrokers,
				config.FlagEventTopic,
			})

			cmder.v = v
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			return cmder.run()
		},
	}

	config.AddStringFlag(cmd, serveFlags, config.FlagListen, &cmder.listen)
	config.AddStringFlag(cmd, serveFlags, config.FlagAPIListen, &cmder.apiListen)
	config.AddStringFlag(cmd, serveFlags, config.FlagBackend, &cmder.backend)
	config.AddStringFlag(cmd, serveFlags, config.FlagLedgerDriver, &cmder.ledgerDriver)
	config.AddStringFlag(cmd, serveFlags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, serveFlags, config.FlagPostgresDSN, &cmder.postgresDSN)
	config.AddBoolFlag(cmd, serveFlags, config.FlagEventsEnabled, &cmder.eventsOn)
	config.AddStringSliceFlag(cmd, serveFlags, config.FlagEventBrokers, &cmder.eventBrokers)
	config.AddStringFlag(cmd, serveFlags, config.FlagEventTopic, &cmder.eventTopic)

	return cmd
}

func (c *serveCommander) run() error {
	c.logger = logger.New(c.debug)
	defer func() { _ = c.logger.Sync() }()

	store, err := c.newLedgerStore()
	if err != nil {
		return err
	}
	defer store.Close()

	publisher, err := c.newEventPublisher()
	if err != nil {
		return err
	}
	defer publisher.Close()

	backend, err := invoke.NewHTTPClient(c.v.GetString("backend.endpoint"), c.logger)
	if err != nil {
		return fmt.Errorf("creating backend client: %w", err)
	}

	g, err := gateway.New(gateway.Config{
		ListenAddr: c.v.GetString("gateway.listen"),
		Backend:    backend,
		Liveness: liveness.Config{
			LivenessTick:      c.v.GetDuration("liveness.liveness_tick"),
			LivenessInterval:  c.v.GetDuration("liveness.liveness_interval"),
			ProgressTick:      c.v.GetDuration("liveness.progress_tick"),
			ProgressInterval:  c.v.GetDuration("liveness.progress_interval"),
			MaxStreamDuration: c.v.GetDuration("liveness.max_stream_duration"),
		},
		Publisher: publisher,
	}, store, c.logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	// Channel to capture errors from the server goroutines
	errChan := make(chan error, 2)

	go func() {
		if err := g.Run(); err != nil {
			errChan <- fmt.Errorf("gateway error: %w", err)
		}
	}()

	var apiServer *api.Server
	if apiListen := c.v.GetString("api.listen"); apiListen != "" {
		apiServer = api.NewServer(api.Config{ListenAddr: apiListen}, store, c.logger)
		go func() {
			if err := apiServer.Run(); err != nil {
				errChan <- fmt.Errorf("usage API error: %w", err)
			}
		}()
	}

	// Wait for interrupt signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	}

	if apiServer != nil {
		if err := apiServer.Shutdown(); err != nil {
			c.logger.Warn("usage API shutdown failed", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return g.Shutdown(ctx)
}

func (c *serveCommander) newLedgerStore() (ledger.Store, error) {
	switch driver := c.v.GetString("ledger.driver"); driver {
	case "sqlite":
		path := c.v.GetString("ledger.sqlite_path")
		if path == "" {
			target, err := dotdir.NewManager().Target("")
			if err != nil {
				return nil, fmt.Errorf("resolving ledger path: %w", err)
			}
			path = filepath.Join(target, ledgerFileName)
		}

		store, err := sqlite.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite ledger: %w", err)
		}
		c.logger.Info("using SQLite ledger", zap.String("path", path))
		return store, nil

	case "postgres":
		dsn := c.v.GetString("ledger.postgres_dsn")
		if dsn == "" {
			return nil, errors.New("ledger.postgres_dsn is required for the postgres driver")
		}

		store, err := postgres.New(context.Background(), dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect Postgres ledger: %w", err)
		}
		c.logger.Info("using Postgres ledger")
		return store, nil

	case "memory":
		c.logger.Info("using in-memory ledger")
		return inmemory.New(), nil

	default:
		return nil, fmt.Errorf("unknown ledger driver: %q", driver)
	}
}

func (c *serveCommander) newEventPublisher() (eventstream.Publisher, error) {
	if !c.v.GetBool("events.enabled") {
		return nop.NewPublisher(), nil
	}

	publisher, err := kafka.NewPublisher(kafka.Config{
		Brokers: c.v.GetStringSlice("events.brokers"),
		Topic:   c.v.GetString("events.topic"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating event publisher: %w", err)
	}

	c.logger.Info("publishing stream lifecycle events",
		zap.Strings("brokers", c.v.GetStringSlice("events.brokers")),
		zap.String("topic", c.v.GetString("events.topic")),
	)

	return publisher, nil
}
