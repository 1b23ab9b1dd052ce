package liveness

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Reference intervals for the two background tickers.
const (
	DefaultLivenessTick     = 5 * time.Second
	DefaultLivenessInterval = 30 * time.Second

	DefaultProgressTick     = 3 * time.Second
	DefaultProgressInterval = 10 * time.Second

	// DefaultMaxStreamDuration caps how long any session may stay
	// registered, whether or not its invocation has finished.
	DefaultMaxStreamDuration = 300 * time.Second
)

// Config tunes the scheduler's tick loops.
type Config struct {
	// LivenessTick is how often the liveness loop sweeps the registry.
	LivenessTick time.Duration

	// LivenessInterval is the activity gap after which a keepalive frame
	// is sent.
	LivenessInterval time.Duration

	// ProgressTick is how often the progress loop sweeps the registry.
	ProgressTick time.Duration

	// ProgressInterval is the progress gap after which a progress frame
	// is sent.
	ProgressInterval time.Duration

	// MaxStreamDuration force-stops sessions that outlive it.
	MaxStreamDuration time.Duration

	// Clock overrides the wall clock. Tests inject a mock.
	Clock clock.Clock

	// Metrics receives signal and failure counters. Optional.
	Metrics Recorder

	Logger *zap.Logger
}

// Normalize fills zero values with the reference defaults.
func (c Config) Normalize() Config {
	if c.LivenessTick <= 0 {
		c.LivenessTick = DefaultLivenessTick
	}
	if c.LivenessInterval <= 0 {
		c.LivenessInterval = DefaultLivenessInterval
	}
	if c.ProgressTick <= 0 {
		c.ProgressTick = DefaultProgressTick
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = DefaultProgressInterval
	}
	if c.MaxStreamDuration <= 0 {
		c.MaxStreamDuration = DefaultMaxStreamDuration
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Metrics == nil {
		c.Metrics = nopRecorder{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	return c
}

// Recorder counts delivered signals and delivery failures.
type Recorder interface {
	RecordLivenessSignal()
	RecordProgressSignal()
	RecordDeliveryError()
}

type nopRecorder struct{}

func (nopRecorder) RecordLivenessSignal() {}
func (nopRecorder) RecordProgressSignal() {}
func (nopRecorder) RecordDeliveryError() {}
