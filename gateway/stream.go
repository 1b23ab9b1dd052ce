package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lanternworks/relay/gateway/worker"
	"github.com/lanternworks/relay/pkg/chunk"
	"github.com/lanternworks/relay/pkg/eventstream"
	"github.com/lanternworks/relay/pkg/invoke"
	"github.com/lanternworks/relay/pkg/ledger"
	"github.com/lanternworks/relay/pkg/transport"
)

// StreamRequest is one inbound generation request on a websocket
// connection. Missing ids are assigned by the gateway and echoed back on
// every frame of the response stream.
type StreamRequest struct {
	ConversationID string   `json:"conversationId"`
	MessageID      string   `json:"messageId,omitempty"`
	Input          string   `json:"input"`
	UserID         string   `json:"userId,omitempty"`
	Files          []string `json:"files,omitempty"`
}

// handleSession reads request frames off one websocket connection and runs
// the streaming pipeline for each in turn. Requests on the same connection
// are processed sequentially; their response frames never interleave.
func (g *Gateway) handleSession(ctx context.Context, connectionID string, ws *websocket.Conn) {
	for {
		var req StreamRequest
		if err := ws.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				g.logger.Warn("websocket read failed",
					zap.String("connection_id", connectionID),
					zap.Error(err),
				)
			}
			return
		}

		g.runStream(ctx, connectionID, req)
	}
}

// runStream drives one request through the pipeline: register the session
// with the liveness scheduler, invoke the backend, normalize the response,
// and forward every chunk. Whatever happens, the client sees a stream
// ending in the terminal sentinel and the scheduler session is released.
func (g *Gateway) runStream(ctx context.Context, connectionID string, req StreamRequest) {
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	messageID := req.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	started := time.Now()
	g.metrics.RecordStreamStart()
	g.scheduler.Start(connectionID, conversationID, messageID)

	g.logger.Info("stream started",
		zap.String("connection_id", connectionID),
		zap.String("conversation_id", conversationID),
		zap.String("message_id", messageID),
	)

	var (
		counts eventstream.ChunkCounts
		usage  *chunk.Usage
		chunks int64
		failed bool
	)

	// forward delivers one chunk to the client. Activity is recorded
	// before delivery, so a chunk on the wire always suppresses the next
	// redundant liveness signal. Returns false when delivery failed and
	// the stream should be abandoned.
	forward := func(c *chunk.Chunk) bool {
		chunks++
		g.metrics.RecordChunk(c.Kind)

		switch c.Kind {
		case chunk.KindContent:
			counts.Content++
		case chunk.KindThinking:
			counts.Thinking++
		case chunk.KindToolUse:
			counts.ToolUse++
		case chunk.KindError:
			counts.Errors++
		case chunk.KindCompletion:
			if c.Completion != nil {
				usage = c.Completion.Usage
			}
		}

		g.scheduler.UpdateActivity(connectionID)

		payload, err := transport.NewEnvelope(conversationID, messageID, c).Encode()
		if err != nil {
			g.logger.Error("encoding chunk failed",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
			return true
		}

		if err := g.hub.Send(ctx, connectionID, payload); err != nil {
			g.logger.Warn("chunk delivery failed, abandoning stream",
				zap.String("connection_id", connectionID),
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
			g.metrics.RecordDeliveryError()
			return false
		}

		return true
	}

	resp, err := g.config.Backend.Invoke(ctx, invoke.Payload{
		ConversationID: conversationID,
		MessageID:      messageID,
		Input:          req.Input,
		UserID:         req.UserID,
		Files:          req.Files,
	})
	if err != nil {
		g.logger.Error("backend invocation failed",
			zap.String("conversation_id", conversationID),
			zap.String("message_id", messageID),
			zap.Error(err),
		)
		failed = true

		// The failure reaches the client through the normal forwarding
		// path: one error chunk, then the terminal completion.
		if forward(chunk.NewError("invocation_failed", err.Error())) {
			forward(chunk.NewCompletion(nil))
		}
	} else {
		stream := g.normalizer.Normalize(resp)
		abandoned := false
		for c := stream.Next(); c != nil; c = stream.Next() {
			if !forward(c) {
				failed = true
				abandoned = true
				break
			}
		}
		if abandoned {
			// The normalizer releases the body at the terminal chunk; an
			// abandoned stream has to release it here.
			if cerr := resp.Close(); cerr != nil {
				g.logger.Debug("closing backend response failed", zap.Error(cerr))
			}
		}
	}

	duration := time.Since(started)
	g.metrics.RecordStreamEnd(failed)

	entry := ledger.Entry{
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         req.UserID,
		DurationMs:     duration.Milliseconds(),
		Chunks:         chunks,
	}
	if usage != nil {
		entry.InputTokens = usage.InputTokens
		entry.OutputTokens = usage.OutputTokens
		entry.TotalTokens = usage.TotalTokens
	}

	event := eventstream.NewStreamCompletedEvent(conversationID, messageID, connectionID, req.UserID)
	event.Usage = usage
	event.Chunks = counts
	event.DurationMs = duration.Milliseconds()
	event.Failed = failed

	g.pool.Enqueue(worker.Job{Entry: entry, Event: event})
	g.scheduler.Stop(connectionID)

	g.logger.Info("stream finished",
		zap.String("conversation_id", conversationID),
		zap.String("message_id", messageID),
		zap.Int64("chunks", chunks),
		zap.Duration("duration", duration),
		zap.Bool("failed", failed),
	)
}
