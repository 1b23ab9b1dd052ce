// Package liveness keeps client transports alive while slow generations
// run. A single scheduler watches every streaming session and emits
// keepalive and progress frames through the transport sink whenever a
// session has been quiet for too long.
package liveness

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/lanternworks/relay/pkg/transport"
)

// Session tracks one streaming connection. Sessions are owned exclusively
// by the scheduler registry; callers never mutate one directly.
type Session struct {
	ConnectionID   string
	ConversationID string
	MessageID      string
	StartedAt      time.Time
	LastActivity   time.Time
	LastProgress   time.Time
}

// Scheduler emits liveness and progress signals for registered sessions.
// However many sessions are active, at most one pair of tick loops runs;
// both loops poll the shared registry and exit when it empties.
type Scheduler struct {
	config  Config
	sink    transport.Sink
	clock   clock.Clock
	metrics Recorder
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	running  bool
	stopCh   chan struct{}
	closed   bool

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler delivering signals through sink.
func NewScheduler(config Config, sink transport.Sink) *Scheduler {
	config = config.Normalize()

	return &Scheduler{
		config:   config,
		sink:     sink,
		clock:    config.Clock,
		metrics:  config.Metrics,
		logger:   config.Logger,
		sessions: make(map[string]*Session),
	}
}

// Start registers a session for the connection, replacing any existing one.
// The first session starts the tick loops; later sessions reuse them.
func (s *Scheduler) Start(connectionID, conversationID, messageID string) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.sessions[connectionID] = &Session{
		ConnectionID:   connectionID,
		ConversationID: conversationID,
		MessageID:      messageID,
		StartedAt:      now,
		LastActivity:   now,
		LastProgress:   now,
	}

	if !s.running {
		s.running = true
		s.stopCh = make(chan struct{})

		// Tickers are created here, not in the loops, so the pair is
		// fully registered by the time Start returns.
		livenessTicker := s.clock.Ticker(s.config.LivenessTick)
		progressTicker := s.clock.Ticker(s.config.ProgressTick)

		s.wg.Add(2)
		go s.run(s.stopCh, livenessTicker, s.sweepLiveness)
		go s.run(s.stopCh, progressTicker, s.sweepProgress)
	}
}

// UpdateActivity resets both idle timestamps for the connection. Callers
// invoke it after forwarding any real chunk, so a recent forward suppresses
// redundant signals.
func (s *Scheduler) UpdateActivity(connectionID string) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[connectionID]; ok {
		session.LastActivity = now
		session.LastProgress = now
	}
}

// Stop removes the connection's session. Stopping an unregistered
// connection is a no-op. When the registry empties, both tick loops are
// signalled to exit.
func (s *Scheduler) Stop(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(connectionID)
}

func (s *Scheduler) stopLocked(connectionID string) {
	if _, ok := s.sessions[connectionID]; !ok {
		return
	}

	delete(s.sessions, connectionID)

	if len(s.sessions) == 0 && s.running {
		close(s.stopCh)
		s.running = false
	}
}

// Running reports whether the tick loops are active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// ActiveSessions returns the number of registered sessions.
func (s *Scheduler) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

// Close force-stops every session and waits for the tick loops to exit.
// The scheduler accepts no new sessions afterwards.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.sessions = make(map[string]*Session)
	if s.running {
		close(s.stopCh)
		s.running = false
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) run(stopCh chan struct{}, ticker *clock.Ticker, sweep func()) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// signalTarget is the session field copy taken under the lock; delivery
// happens after the lock is released.
type signalTarget struct {
	connectionID   string
	conversationID string
	messageID      string
}

func (s *Scheduler) sweepLiveness() {
	now := s.clock.Now()

	s.mu.Lock()
	due := make([]signalTarget, 0, len(s.sessions))
	for id, session := range s.sessions {
		if s.evictIfExpiredLocked(now, id, session) {
			continue
		}
		if now.Sub(session.LastActivity) >= s.config.LivenessInterval {
			session.LastActivity = now
			due = append(due, signalTarget{id, session.ConversationID, session.MessageID})
		}
	}
	s.mu.Unlock()

	for _, target := range due {
		env := transport.LivenessEnvelope(target.conversationID, target.messageID)
		if s.send(target.connectionID, env) {
			s.metrics.RecordLivenessSignal()
		}
	}
}

func (s *Scheduler) sweepProgress() {
	now := s.clock.Now()

	s.mu.Lock()
	due := make([]signalTarget, 0, len(s.sessions))
	for id, session := range s.sessions {
		if s.evictIfExpiredLocked(now, id, session) {
			continue
		}
		if now.Sub(session.LastProgress) >= s.config.ProgressInterval {
			session.LastProgress = now
			due = append(due, signalTarget{id, session.ConversationID, session.MessageID})
		}
	}
	s.mu.Unlock()

	for _, target := range due {
		env := transport.ProgressEnvelope(target.conversationID, target.messageID)
		if s.send(target.connectionID, env) {
			s.metrics.RecordProgressSignal()
		}
	}
}

// evictIfExpiredLocked force-stops sessions past the max stream duration.
// The in-flight invocation is not cancelled; only the monitoring stops.
func (s *Scheduler) evictIfExpiredLocked(now time.Time, id string, session *Session) bool {
	if now.Sub(session.StartedAt) <= s.config.MaxStreamDuration {
		return false
	}

	s.logger.Warn("session exceeded max stream duration",
		zap.String("connection_id", id),
		zap.String("conversation_id", session.ConversationID),
		zap.Duration("age", now.Sub(session.StartedAt)),
	)
	s.stopLocked(id)

	return true
}

// send delivers one signal frame. A failed delivery force-stops only the
// affected session; the sweep carries on with the rest.
func (s *Scheduler) send(connectionID string, env transport.Envelope) bool {
	payload, err := env.Encode()
	if err != nil {
		s.logger.Error("encoding signal frame failed", zap.Error(err))
		return false
	}

	if err := s.sink.Send(context.Background(), connectionID, payload); err != nil {
		s.logger.Warn("signal delivery failed, stopping session",
			zap.String("connection_id", connectionID),
			zap.Error(err),
		)
		s.metrics.RecordDeliveryError()
		s.Stop(connectionID)
		return false
	}

	return true
}
