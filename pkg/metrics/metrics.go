// Package metrics tracks counters for the streaming pipeline. The
// implementation uses manual metric tracking without external dependencies;
// the gateway exposes a snapshot over its metrics endpoint.
package metrics

import (
	"sync"
	"time"

	"github.com/lanternworks/relay/pkg/chunk"
)

// Collector accumulates pipeline counters. Safe for concurrent use.
type Collector struct {
	mu sync.RWMutex

	// Token usage, accumulated once per completion that carries usage
	inputTokens  int64
	outputTokens int64
	totalTokens  int64
	usageReports int64

	// Chunk production by kind
	chunksByKind map[string]int64

	// Background signal delivery
	livenessSignals int64
	progressSignals int64

	// Failure counters
	deliveryErrors int64
	droppedRecords int64

	// Stream lifecycle
	streamsStarted   int64
	streamsCompleted int64
	streamsFailed    int64

	startTime time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		chunksByKind: make(map[string]int64),
		startTime:    time.Now(),
	}
}

// RecordTokenUsage accumulates the three token counters reported on a
// completion. Called exactly once per completion that carries usage.
func (c *Collector) RecordTokenUsage(usage chunk.Usage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inputTokens += usage.InputTokens
	c.outputTokens += usage.OutputTokens
	c.totalTokens += usage.TotalTokens
	c.usageReports++
}

// RecordChunk counts one produced chunk by kind.
func (c *Collector) RecordChunk(kind chunk.Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.chunksByKind[string(kind)]++
}

// RecordLivenessSignal counts one delivered keepalive frame.
func (c *Collector) RecordLivenessSignal() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.livenessSignals++
}

// RecordProgressSignal counts one delivered progress frame.
func (c *Collector) RecordProgressSignal() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.progressSignals++
}

// RecordDeliveryError counts one failed send to a client connection.
func (c *Collector) RecordDeliveryError() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deliveryErrors++
}

// RecordDroppedRecord counts one unrecognized record skipped during
// classification.
func (c *Collector) RecordDroppedRecord() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.droppedRecords++
}

// RecordStreamStart counts one stream entering the foreground path.
func (c *Collector) RecordStreamStart() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.streamsStarted++
}

// RecordStreamEnd counts one finished stream.
func (c *Collector) RecordStreamEnd(failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if failed {
		c.streamsFailed++
	} else {
		c.streamsCompleted++
	}
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	UptimeSeconds    int64            `json:"uptime_seconds"`
	InputTokens      int64            `json:"input_tokens"`
	OutputTokens     int64            `json:"output_tokens"`
	TotalTokens      int64            `json:"total_tokens"`
	UsageReports     int64            `json:"usage_reports"`
	ChunksByKind     map[string]int64 `json:"chunks_by_kind"`
	LivenessSignals  int64            `json:"liveness_signals"`
	ProgressSignals  int64            `json:"progress_signals"`
	DeliveryErrors   int64            `json:"delivery_errors"`
	DroppedRecords   int64            `json:"dropped_records"`
	StreamsStarted   int64            `json:"streams_started"`
	StreamsCompleted int64            `json:"streams_completed"`
	StreamsFailed    int64            `json:"streams_failed"`
}

// GetSnapshot returns a snapshot of current metrics.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds:    int64(time.Since(c.startTime).Seconds()),
		InputTokens:      c.inputTokens,
		OutputTokens:     c.outputTokens,
		TotalTokens:      c.totalTokens,
		UsageReports:     c.usageReports,
		ChunksByKind:     copyMap(c.chunksByKind),
		LivenessSignals:  c.livenessSignals,
		ProgressSignals:  c.progressSignals,
		DeliveryErrors:   c.deliveryErrors,
		DroppedRecords:   c.droppedRecords,
		StreamsStarted:   c.streamsStarted,
		StreamsCompleted: c.streamsCompleted,
		StreamsFailed:    c.streamsFailed,
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	result := make(map[string]int64, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
