package eventstream

import (
	"time"

	"github.com/google/uuid"

	"github.com/lanternworks/relay/pkg/chunk"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeStreamCompleted is emitted after a response stream finishes,
	// whether it completed cleanly or ended in an error.
	EventTypeStreamCompleted = "relay.stream.completed"
)

// StreamCompletedEvent is a transport-neutral event payload for a finished
// stream. Token usage stays server-side; this event is how it leaves the
// gateway.
type StreamCompletedEvent struct {
	SchemaVersion  int          `json:"schema_version"`
	EventType      string       `json:"event_type"`
	EventID        string       `json:"event_id"`
	EmittedAt      time.Time    `json:"emitted_at"`
	ConversationID string       `json:"conversation_id"`
	MessageID      string       `json:"message_id"`
	ConnectionID   string       `json:"connection_id"`
	UserID         string       `json:"user_id,omitempty"`
	Usage          *chunk.Usage `json:"usage,omitempty"`
	Chunks         ChunkCounts  `json:"chunks"`
	DurationMs     int64        `json:"duration_ms"`
	Failed         bool         `json:"failed"`
}

// ChunkCounts breaks down the chunks delivered on one stream by kind.
type ChunkCounts struct {
	Content  int64 `json:"content"`
	Thinking int64 `json:"thinking"`
	ToolUse  int64 `json:"tool_use"`
	Errors   int64 `json:"errors"`
}

// NewStreamCompletedEvent stamps the schema and identity fields onto a fresh
// event. Callers fill in usage, counts, and outcome before publishing.
func NewStreamCompletedEvent(conversationID, messageID, connectionID, userID string) *StreamCompletedEvent {
	return &StreamCompletedEvent{
		SchemaVersion:  SchemaVersionV1,
		EventType:      EventTypeStreamCompleted,
		EventID:        uuid.NewString(),
		EmittedAt:      time.Now().UTC(),
		ConversationID: conversationID,
		MessageID:      messageID,
		ConnectionID:   connectionID,
		UserID:         userID,
	}
}
