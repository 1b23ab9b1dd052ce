package gateway

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lanternworks/relay/pkg/transport"
)

// Hub tracks open websocket connections and delivers encoded frames to
// them. It is the transport.Sink shared by the streaming pipeline and the
// liveness scheduler, so writes to each connection are serialized.
type Hub struct {
	logger *zap.Logger

	mu    sync.RWMutex
	conns map[string]*hubConn
}

// hubConn pairs a websocket with the mutex guarding writes to it. Gorilla
// connections support one concurrent writer only.
type hubConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// NewHub creates an empty connection hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Hub{
		logger: logger,
		conns:  make(map[string]*hubConn),
	}
}

// Register adds the connection under the given id, replacing and closing
// any previous connection registered with the same id.
func (h *Hub) Register(connectionID string, ws *websocket.Conn) {
	h.mu.Lock()
	previous := h.conns[connectionID]
	h.conns[connectionID] = &hubConn{ws: ws}
	h.mu.Unlock()

	if previous != nil {
		previous.ws.Close()
	}
}

// Remove drops the connection from the hub and closes its socket.
// Removing an unknown id is a no-op.
func (h *Hub) Remove(connectionID string) {
	h.mu.Lock()
	c := h.conns[connectionID]
	delete(h.conns, connectionID)
	h.mu.Unlock()

	if c != nil {
		c.ws.Close()
	}
}

// Send delivers one text frame to the connection. Sends to an unknown id or
// a dead socket return a transport.DeliveryError so callers can stop the
// affected session.
func (h *Hub) Send(_ context.Context, connectionID string, payload []byte) error {
	h.mu.RLock()
	c, ok := h.conns[connectionID]
	h.mu.RUnlock()

	if !ok {
		return transport.NewDeliveryError(connectionID, transport.ErrConnectionNotFound)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return transport.NewDeliveryError(connectionID, err)
	}

	return nil
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.conns)
}

// CloseAll closes and drops every registered connection. Used during
// shutdown to unblock connection read loops.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]*hubConn)
	h.mu.Unlock()

	for id, c := range conns {
		if err := c.ws.Close(); err != nil {
			h.logger.Debug("closing connection failed",
				zap.String("connection_id", id),
				zap.Error(err),
			)
		}
	}
}
