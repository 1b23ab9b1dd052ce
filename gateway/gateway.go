// Package gateway exposes the relay's websocket streaming surface. Each
// inbound request frame is invoked against the backend, normalized into
// chunks, and forwarded to the client while the liveness scheduler keeps
// the connection warm. Finished streams are handed to the worker pool for
// usage accounting and event emission.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lanternworks/relay/gateway/worker"
	"github.com/lanternworks/relay/pkg/ledger"
	"github.com/lanternworks/relay/pkg/liveness"
	"github.com/lanternworks/relay/pkg/metrics"
	"github.com/lanternworks/relay/pkg/normalize"
)

// ErrBackendRequired indicates the gateway was constructed without a
// backend invoker.
var ErrBackendRequired = errors.New("backend invoker is required")

// Gateway is the websocket streaming server. It owns the connection hub,
// the liveness scheduler, the normalization pipeline, and the completion
// worker pool, and wires them together per stream.
type Gateway struct {
	config     Config
	hub        *Hub
	scheduler  *liveness.Scheduler
	normalizer *normalize.Normalizer
	metrics    *metrics.Collector
	pool       *worker.Pool
	logger     *zap.Logger
	server     *http.Server
	upgrader   websocket.Upgrader

	// baseCtx parents every stream; cancelled on shutdown to abort
	// in-flight backend invocations.
	baseCtx context.Context
	cancel  context.CancelFunc

	// handlers counts active websocket sessions so shutdown can wait for
	// their accounting jobs to be enqueued before draining the pool.
	handlers sync.WaitGroup
}

// New creates a new Gateway.
// The store is injected to handle async persistence of stream usage.
func New(config Config, store ledger.Store, logger *zap.Logger) (*Gateway, error) {
	if config.Backend == nil {
		return nil, ErrBackendRequired
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	collector := metrics.NewCollector()
	hub := NewHub(logger)

	livenessConfig := config.Liveness
	if livenessConfig.Metrics == nil {
		livenessConfig.Metrics = collector
	}
	if livenessConfig.Logger == nil {
		livenessConfig.Logger = logger
	}
	scheduler := liveness.NewScheduler(livenessConfig, hub)

	normalizer := normalize.NewNormalizer(normalize.NewClassifier(collector), logger)

	pool, err := worker.NewPool(&worker.Config{
		Store:      store,
		Publisher:  config.Publisher,
		NumWorkers: config.NumWorkers,
		QueueSize:  config.QueueSize,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	g := &Gateway{
		config:     config,
		hub:        hub,
		scheduler:  scheduler,
		normalizer: normalizer,
		metrics:    collector,
		pool:       pool,
		logger:     logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		baseCtx: ctx,
		cancel:  cancel,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", g.handleHealthz)
	router.Get("/metrics", g.handleMetrics)
	router.Get("/ws", g.handleWebSocket)

	g.server = &http.Server{
		Addr:              config.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return g, nil
}

// Run starts the gateway server on the configured listening address.
func (g *Gateway) Run() error {
	g.logger.Info("starting gateway server",
		zap.String("listen", g.config.ListenAddr),
	)

	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// RunWithListener starts the gateway server using the provided listener.
func (g *Gateway) RunWithListener(listener net.Listener) error {
	g.logger.Info("starting gateway server",
		zap.String("listen", listener.Addr().String()),
	)

	if err := g.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown gracefully stops the gateway. The server stops accepting
// connections, in-flight invocations are cancelled, open websockets are
// closed, and once every session handler has returned the liveness
// scheduler stops and the worker pool drains.
func (g *Gateway) Shutdown(ctx context.Context) error {
	err := g.server.Shutdown(ctx)

	g.cancel()
	g.hub.CloseAll()
	g.handlers.Wait()

	g.scheduler.Close()
	g.pool.Close()

	return err
}

// Metrics exposes the gateway's counter collector.
func (g *Gateway) Metrics() *metrics.Collector {
	return g.metrics
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	g.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "relay-gateway",
	})
}

func (g *Gateway) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	g.respondJSON(w, http.StatusOK, g.metrics.GetSnapshot())
}

// handleWebSocket upgrades the connection and runs its session loop. The
// waitgroup is entered before the upgrade hijacks the connection, so
// Shutdown always observes the session.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	g.handlers.Add(1)
	defer g.handlers.Done()

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	connectionID := uuid.NewString()
	g.hub.Register(connectionID, ws)
	defer g.hub.Remove(connectionID)

	g.logger.Info("connection opened", zap.String("connection_id", connectionID))
	g.handleSession(g.baseCtx, connectionID, ws)
	g.logger.Info("connection closed", zap.String("connection_id", connectionID))
}

func (g *Gateway) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		g.logger.Debug("writing response failed", zap.Error(err))
	}
}
