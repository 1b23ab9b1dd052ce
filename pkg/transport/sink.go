// Package transport defines how normalized chunks and liveness signals reach
// a connected client, independent of the socket implementation behind them.
package transport

import "context"

// Sink delivers an encoded frame to one connection. Implementations are safe
// for concurrent use; the gateway hub and the liveness scheduler share one.
type Sink interface {
	Send(ctx context.Context, connectionID string, payload []byte) error
}
