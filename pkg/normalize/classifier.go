// Package normalize turns raw backend responses into ordered chunk
// sequences. The classifier maps one raw record onto a typed chunk; the
// normalizer drives it across every response shape and guarantees the
// terminal completion invariant.
package normalize

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/lanternworks/relay/pkg/chunk"
)

// ErrUnrecognizedRecord indicates a record matched no known shape. The
// record is dropped; the pipeline continues.
var ErrUnrecognizedRecord = errors.New("unrecognized record shape")

// contentFields is the ordered list of content-bearing field names scanned
// during classification. The first non-empty string value wins.
var contentFields = []string{"result", "response", "text", "content", "message"}

// Recorder receives the counters produced during classification.
type Recorder interface {
	// RecordTokenUsage is called exactly once per completion that carries
	// usage metadata.
	RecordTokenUsage(usage chunk.Usage)

	// RecordDroppedRecord is called for every record that matched no shape.
	RecordDroppedRecord()
}

type nopRecorder struct{}

func (nopRecorder) RecordTokenUsage(chunk.Usage) {}
func (nopRecorder) RecordDroppedRecord()         {}

// Classifier maps one raw record (mapping, string, or bytes) onto a typed
// chunk. Checks run in strict priority order: error marker, content fields,
// delta, thinking, tool use, completion. Records matching nothing are
// dropped with ErrUnrecognizedRecord rather than guessed at.
type Classifier struct {
	metrics Recorder
}

// NewClassifier creates a classifier reporting counters to metrics.
// A nil metrics recorder disables reporting.
func NewClassifier(metrics Recorder) *Classifier {
	if metrics == nil {
		metrics = nopRecorder{}
	}

	return &Classifier{metrics: metrics}
}

// Classify returns the chunk for one raw record, or ErrUnrecognizedRecord
// when the record matches no known shape.
func (c *Classifier) Classify(record any) (*chunk.Chunk, error) {
	switch rec := record.(type) {
	case map[string]any:
		return c.classifyMapping(rec)
	case string:
		return c.classifyText(rec)
	case []byte:
		return c.classifyText(string(rec))
	default:
		c.metrics.RecordDroppedRecord()
		return nil, ErrUnrecognizedRecord
	}
}

// classifyText handles string and byte records. JSON objects go through the
// mapping checks, JSON strings and unparseable text become content.
func (c *Classifier) classifyText(text string) (*chunk.Chunk, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		c.metrics.RecordDroppedRecord()
		return nil, ErrUnrecognizedRecord
	}

	if strings.HasPrefix(trimmed, "{") {
		var m map[string]any
		if err := json.Unmarshal([]byte(trimmed), &m); err == nil {
			return c.classifyMapping(m)
		}
	}

	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal([]byte(trimmed), &s); err == nil {
			if s == "" {
				c.metrics.RecordDroppedRecord()
				return nil, ErrUnrecognizedRecord
			}
			return chunk.NewContent(s), nil
		}
	}

	return chunk.NewContent(text), nil
}

func (c *Classifier) classifyMapping(m map[string]any) (*chunk.Chunk, error) {
	// 1. Error marker, short-circuiting all other checks.
	if errChunk := errorChunk(m); errChunk != nil {
		return errChunk, nil
	}

	// 2. Ordered content-bearing fields.
	for _, field := range contentFields {
		if text, ok := m[field].(string); ok && text != "" {
			return chunk.NewContent(text), nil
		}
	}

	// 3. Delta: a mapping with a text sub-field, or a plain string.
	if deltaChunk := deltaChunk(m); deltaChunk != nil {
		return deltaChunk, nil
	}

	// 4. Thinking marker with a payload.
	if thinking := thinkingChunk(m); thinking != nil {
		return thinking, nil
	}

	// 5. Tool-use marker with a payload.
	if tool := toolUseChunk(m); tool != nil {
		return tool, nil
	}

	// 6. Completion or done marker.
	if completion := c.completionChunk(m); completion != nil {
		return completion, nil
	}

	// 7. Unrecognized: dropped, not an error.
	c.metrics.RecordDroppedRecord()
	return nil, ErrUnrecognizedRecord
}

func recordType(m map[string]any) string {
	t, _ := m["type"].(string)
	return t
}

// errorChunk matches an explicit error type marker or the presence of an
// error-shaped field. A null or false error field does not signal a failure.
func errorChunk(m map[string]any) *chunk.Chunk {
	errValue, hasField := m["error"]
	if errValue == nil || errValue == false {
		hasField = false
	}
	if recordType(m) != "error" && !hasField {
		return nil
	}

	code := "error"
	message := ""

	switch v := errValue.(type) {
	case string:
		message = v
	case map[string]any:
		if c, ok := v["code"].(string); ok && c != "" {
			code = c
		} else if t, ok := v["type"].(string); ok && t != "" {
			code = t
		}
		if msg, ok := v["message"].(string); ok {
			message = msg
		}
	}

	if c, ok := m["code"].(string); ok && c != "" {
		code = c
	}
	if message == "" {
		if msg, ok := m["message"].(string); ok {
			message = msg
		}
	}
	if message == "" {
		message = "unknown error"
	}

	return chunk.NewError(code, message)
}

func deltaChunk(m map[string]any) *chunk.Chunk {
	switch delta := m["delta"].(type) {
	case map[string]any:
		if text, ok := delta["text"].(string); ok && text != "" {
			return chunk.NewContent(text)
		}
	case string:
		if delta != "" {
			return chunk.NewContent(delta)
		}
	}

	return nil
}

func thinkingChunk(m map[string]any) *chunk.Chunk {
	value, present := m["thinking"]
	if recordType(m) != "thinking" && !present {
		return nil
	}

	switch v := value.(type) {
	case string:
		if v != "" {
			return chunk.NewThinking(v)
		}
	case map[string]any:
		if msg := firstString(v, "message", "text"); msg != "" {
			return chunk.NewThinking(msg)
		}
	}

	// Boolean or bare type markers carry the message in a payload field.
	if payload := firstString(m, "payload"); payload != "" {
		return chunk.NewThinking(payload)
	}

	return nil
}

func toolUseChunk(m map[string]any) *chunk.Chunk {
	payload := m
	if nested, ok := m["toolUse"].(map[string]any); ok {
		payload = nested
	} else if nested, ok := m["tool_use"].(map[string]any); ok {
		payload = nested
	} else if recordType(m) != "tool_use" {
		return nil
	}

	name := firstString(payload, "toolName", "tool_name", "name")
	if name == "" {
		return nil
	}

	tool := chunk.ToolUse{
		Name:      name,
		Status:    chunk.ToolStatusStarted,
		StartedAt: time.Now().UTC(),
	}

	switch chunk.ToolStatus(firstString(payload, "status")) {
	case chunk.ToolStatusCompleted:
		tool.Status = chunk.ToolStatusCompleted
	case chunk.ToolStatusFailed:
		tool.Status = chunk.ToolStatusFailed
	}

	if t, ok := parseTime(firstString(payload, "startTime", "start_time")); ok {
		tool.StartedAt = t
	}
	if t, ok := parseTime(firstString(payload, "endTime", "end_time")); ok {
		tool.EndedAt = &t
	}

	if input, ok := payload["toolInput"].(map[string]any); ok {
		tool.Input = input
	} else if input, ok := payload["input"].(map[string]any); ok {
		tool.Input = input
	}

	if output, ok := payload["toolOutput"]; ok && output != nil {
		tool.Output = output
	} else if output, ok := payload["output"]; ok && output != nil {
		tool.Output = output
	}

	tool.ServerName = firstString(payload, "serverName", "server_name", "server")
	tool.Error = firstString(payload, "error")

	return chunk.NewToolUse(tool)
}

// completionChunk matches an explicit completion type or a done marker,
// folding in usage metadata and preserving every other non-null field.
func (c *Classifier) completionChunk(m map[string]any) *chunk.Chunk {
	done, _ := m["done"].(bool)
	if recordType(m) != "completion" && !done {
		return nil
	}

	completion := &chunk.Completion{}

	if u, ok := m["usage"].(map[string]any); ok {
		usage := &chunk.Usage{
			InputTokens:  jsonInt64(u, "inputTokens", "input_tokens", "prompt_tokens"),
			OutputTokens: jsonInt64(u, "outputTokens", "output_tokens", "completion_tokens"),
			TotalTokens:  jsonInt64(u, "totalTokens", "total_tokens"),
		}
		if usage.TotalTokens == 0 {
			usage.TotalTokens = usage.InputTokens + usage.OutputTokens
		}

		completion.Usage = usage
		c.metrics.RecordTokenUsage(*usage)
	}

	for k, v := range m {
		if v == nil || k == "type" || k == "done" || k == "usage" {
			continue
		}
		if completion.Extra == nil {
			completion.Extra = make(map[string]any)
		}
		completion.Extra[k] = v
	}

	return &chunk.Chunk{Kind: chunk.KindCompletion, Completion: completion}
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// jsonInt64 extracts an integer from a JSON map under the first matching
// key, handling float64 JSON number representation.
func jsonInt64(m map[string]any, keys ...string) int64 {
	for _, key := range keys {
		if v, ok := m[key].(float64); ok {
			return int64(v)
		}
	}
	return 0
}

func parseTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false
	}

	return t, true
}
