package api

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/lanternworks/relay/pkg/ledger"
)

// Server exposes read endpoints over the usage ledger.
type Server struct {
	config Config
	store  ledger.Store
	logger *zap.Logger
	app    *fiber.App
}

// NewServer creates a new API server.
// The store is injected so it can be shared with the gateway's
// completion workers.
func NewServer(config Config, store ledger.Store, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		store:  store,
		logger: logger,
		app:    app,
	}

	app.Get("/ping", s.handlePing)
	app.Get("/usage/summary", s.handleSummary)
	app.Get("/usage/recent", s.handleRecent)

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting usage API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
