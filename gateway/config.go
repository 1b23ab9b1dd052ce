package gateway

import (
	"github.com/lanternworks/relay/pkg/eventstream"
	"github.com/lanternworks/relay/pkg/invoke"
	"github.com/lanternworks/relay/pkg/liveness"
)

// Config is the gateway server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string

	// Backend performs the generation call for each inbound message.
	Backend invoke.Invoker

	// Liveness tunes the keepalive and progress loops for active streams.
	// Zero values fall back to the reference intervals.
	Liveness liveness.Config

	// Publisher is an optional publisher for stream-completed events.
	// If nil, event emission is disabled.
	Publisher eventstream.Publisher

	// NumWorkers is the number of completion workers (defaults to 3).
	NumWorkers uint

	// QueueSize is the capacity of the completion job queue (defaults to 256).
	QueueSize uint
}
