// Package worker provides an asynchronous worker pool for persisting stream
// usage through the provided ledger.Store and emitting completion events
// through the provided eventstream.Publisher.
//
// The pool decouples accounting from the gateway's streaming hot path so the
// client receives the terminal frame without waiting on the ledger or the
// broker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/lanternworks/relay/pkg/eventstream"
	"github.com/lanternworks/relay/pkg/ledger"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
)

// ErrStoreRequired indicates the pool was constructed without a ledger store.
var ErrStoreRequired = errors.New("ledger store is required")

// Job is one finished stream for the worker pool to account for.
type Job struct {
	Entry ledger.Entry
	Event *eventstream.StreamCompletedEvent
}

// Config is the configuration options for the worker pool.
type Config struct {
	// Store is the ledger backend for persisting usage entries.
	Store ledger.Store

	// Publisher emits stream-completed events downstream.
	// If nil, events are not emitted.
	Publisher eventstream.Publisher

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// Logger is the provided zap logger
	Logger *zap.Logger
}

// Pool processes accounting jobs asynchronously via a worker pool.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.Store == nil {
		return nil, ErrStoreRequired
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	wp := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
		logger: c.Logger,
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := uint(0); i < c.NumWorkers; i++ {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the queue is full, resulting in the job being dropped
func (p *Pool) Enqueue(job Job) bool {
	select {
	case p.queue <- job:
		p.logger.Debug("job queued",
			zap.String("conversation_id", job.Entry.ConversationID),
			zap.String("message_id", job.Entry.MessageID),
		)
		return true
	default:
		p.logger.Error("job not queued, queue full, job dropped",
			zap.String("conversation_id", job.Entry.ConversationID),
			zap.String("message_id", job.Entry.MessageID),
		)
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
// Call this during graceful shutdown after the gateway server has stopped.
func (p *Pool) Close() {
	close(p.queue)
	p.wg.Wait()
}

// worker is the inner worker thread that continuously pulls jobs off the jobs queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", zap.Uint("worker_id", id))

	for job := range p.queue {
		p.processJob(job)
	}

	p.logger.Debug("accounting worker stopped", zap.Uint("worker_id", id))
}

// processJob records the usage entry and, when a publisher is configured,
// emits the stream-completed event. Errors are logged, never returned; a
// failed record must not reach back into the streaming path, and a failed
// publish must not block the ledger write.
func (p *Pool) processJob(job Job) {
	ctx := context.Background()

	if err := p.config.Store.Record(ctx, job.Entry); err != nil {
		p.logger.Error("async usage record failed",
			zap.String("conversation_id", job.Entry.ConversationID),
			zap.String("message_id", job.Entry.MessageID),
			zap.Error(err),
		)
	} else {
		p.logger.Info("stream usage recorded",
			zap.String("conversation_id", job.Entry.ConversationID),
			zap.String("message_id", job.Entry.MessageID),
			zap.Int64("total_tokens", job.Entry.TotalTokens),
		)
	}

	if p.config.Publisher == nil || job.Event == nil {
		return
	}

	if err := p.config.Publisher.PublishStreamCompleted(ctx, job.Event); err != nil {
		p.logger.Warn("stream completed event not published",
			zap.String("event_id", job.Event.EventID),
			zap.String("conversation_id", job.Event.ConversationID),
			zap.Error(err),
		)
	}
}
