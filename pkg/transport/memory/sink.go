// Package memory provides an in-memory transport sink that records every
// frame it is asked to deliver. Tests use it in place of the websocket hub.
package memory

import (
	"context"
	"sync"

	"github.com/lanternworks/relay/pkg/transport"
)

// Sink records frames keyed by connection id. Individual connections can be
// armed to fail so delivery-failure handling can be exercised.
type Sink struct {
	mu      sync.Mutex
	frames  map[string][][]byte
	failing map[string]error
}

// NewSink creates an empty recording sink.
func NewSink() *Sink {
	return &Sink{
		frames:  make(map[string][][]byte),
		failing: make(map[string]error),
	}
}

// Send records the payload for the connection, or returns the armed failure.
func (s *Sink) Send(_ context.Context, connectionID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.failing[connectionID]; ok {
		return transport.NewDeliveryError(connectionID, err)
	}

	frame := make([]byte, len(payload))
	copy(frame, payload)
	s.frames[connectionID] = append(s.frames[connectionID], frame)

	return nil
}

// FailWith makes every subsequent send to the connection return a delivery
// error wrapping err.
func (s *Sink) FailWith(connectionID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[connectionID] = err
}

// Frames returns a copy of everything sent to the connection, in order.
func (s *Sink) Frames(connectionID string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	recorded := s.frames[connectionID]
	out := make([][]byte, len(recorded))
	copy(out, recorded)

	return out
}

// Count returns how many frames have been sent to the connection.
func (s *Sink) Count(connectionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.frames[connectionID])
}
