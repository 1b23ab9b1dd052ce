package transport

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/lanternworks/relay/pkg/chunk"
)

// Reserved sentinel strings carried on the data field. They are pairwise
// distinct and never produced by classification, so clients can tell them
// apart from real content.
const (
	// EndOfStreamSentinel marks the terminal completion of a stream.
	EndOfStreamSentinel = "[STREAM_COMPLETE]"

	// LivenessSentinel keeps an idle transport from being treated as dead.
	LivenessSentinel = "[KEEPALIVE]"

	// ProgressSentinel tells the client work is still ongoing.
	ProgressSentinel = "[PROCESSING]"
)

// Envelope is the wire form of one frame delivered to a client. Every frame
// carries the conversation and message ids plus exactly one payload field.
type Envelope struct {
	ConversationID string         `json:"conversationId"`
	MessageID      string         `json:"messageId"`
	Data           string         `json:"data,omitempty"`
	Thinking       string         `json:"thinking,omitempty"`
	ToolUsage      *chunk.ToolUse `json:"toolUsage,omitempty"`
	ErrorMessage   string         `json:"errorMessage,omitempty"`
	TraceID        string         `json:"traceId,omitempty"`
}

// NewEnvelope maps a normalized chunk onto its wire form. Error chunks get a
// fresh trace id so client reports can be correlated with server logs.
// Completion chunks become the end-of-stream sentinel; their usage metadata
// stays server-side.
func NewEnvelope(conversationID, messageID string, c *chunk.Chunk) Envelope {
	env := Envelope{
		ConversationID: conversationID,
		MessageID:      messageID,
	}

	switch c.Kind {
	case chunk.KindContent:
		env.Data = c.Content.Text
	case chunk.KindThinking:
		env.Thinking = c.Thinking.Message
	case chunk.KindToolUse:
		env.ToolUsage = c.ToolUse
	case chunk.KindError:
		env.ErrorMessage = c.Error.Message
		env.TraceID = uuid.NewString()
	case chunk.KindCompletion:
		env.Data = EndOfStreamSentinel
	}

	return env
}

// LivenessEnvelope builds a keepalive frame for the given stream.
func LivenessEnvelope(conversationID, messageID string) Envelope {
	return Envelope{
		ConversationID: conversationID,
		MessageID:      messageID,
		Data:           LivenessSentinel,
	}
}

// ProgressEnvelope builds a progress frame for the given stream.
func ProgressEnvelope(conversationID, messageID string) Envelope {
	return Envelope{
		ConversationID: conversationID,
		MessageID:      messageID,
		Data:           ProgressSentinel,
	}
}

// Encode serializes the envelope for delivery through a Sink.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
