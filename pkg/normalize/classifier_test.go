package normalize_test

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lanternworks/relay/pkg/chunk"
	"github.com/lanternworks/relay/pkg/normalize"
)

// recordingMetrics counts classifier reports for assertions.
type recordingMetrics struct {
	mu      sync.Mutex
	usages  []chunk.Usage
	dropped int
}

func (r *recordingMetrics) RecordTokenUsage(usage chunk.Usage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usages = append(r.usages, usage)
}

func (r *recordingMetrics) RecordDroppedRecord() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped++
}

func (r *recordingMetrics) usageReports() []chunk.Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chunk.Usage(nil), r.usages...)
}

func (r *recordingMetrics) droppedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

var _ = Describe("Classifier", func() {
	var (
		metrics    *recordingMetrics
		classifier *normalize.Classifier
	)

	BeforeEach(func() {
		metrics = &recordingMetrics{}
		classifier = normalize.NewClassifier(metrics)
	})

	classify := func(record any) *chunk.Chunk {
		c, err := classifier.Classify(record)
		Expect(err).NotTo(HaveOccurred())
		Expect(c).NotTo(BeNil())
		return c
	}

	expectDropped := func(record any) {
		c, err := classifier.Classify(record)
		Expect(err).To(MatchError(normalize.ErrUnrecognizedRecord))
		Expect(c).To(BeNil())
	}

	Describe("content field priority", func() {
		fullRecord := func() map[string]any {
			return map[string]any{
				"result":   "from result",
				"response": "from response",
				"text":     "from text",
				"content":  "from content",
				"message":  "from message",
			}
		}

		It("prefers result over everything", func() {
			c := classify(fullRecord())
			Expect(c.Kind).To(Equal(chunk.KindContent))
			Expect(c.Content.Text).To(Equal("from result"))
		})

		It("walks down the priority order as fields disappear", func() {
			record := fullRecord()

			delete(record, "result")
			Expect(classify(record).Content.Text).To(Equal("from response"))

			delete(record, "response")
			Expect(classify(record).Content.Text).To(Equal("from text"))

			delete(record, "text")
			Expect(classify(record).Content.Text).To(Equal("from content"))

			delete(record, "content")
			Expect(classify(record).Content.Text).To(Equal("from message"))
		})

		It("skips empty strings when scanning", func() {
			record := fullRecord()
			record["result"] = ""
			record["response"] = ""
			Expect(classify(record).Content.Text).To(Equal("from text"))
		})

		It("ignores non-string content values", func() {
			c := classify(map[string]any{
				"content": map[string]any{"nested": true},
				"message": "flat wins",
			})
			Expect(c.Content.Text).To(Equal("flat wins"))
		})
	})

	Describe("error records", func() {
		It("short-circuits content fields when an error field is present", func() {
			c := classify(map[string]any{"error": "boom", "result": "partial output"})
			Expect(c.Kind).To(Equal(chunk.KindError))
			Expect(c.Error.Message).To(Equal("boom"))
			Expect(c.Error.Code).To(Equal("error"))
		})

		It("matches an explicit error type marker", func() {
			c := classify(map[string]any{"type": "error", "code": "rate_limited", "message": "slow down"})
			Expect(c.Kind).To(Equal(chunk.KindError))
			Expect(c.Error.Code).To(Equal("rate_limited"))
			Expect(c.Error.Message).To(Equal("slow down"))
		})

		It("reads code and message from an error object", func() {
			c := classify(map[string]any{
				"error": map[string]any{"code": "overloaded", "message": "try later"},
			})
			Expect(c.Error.Code).To(Equal("overloaded"))
			Expect(c.Error.Message).To(Equal("try later"))
		})

		It("falls back to the error type field for the code", func() {
			c := classify(map[string]any{
				"error": map[string]any{"type": "api_error", "message": "nope"},
			})
			Expect(c.Error.Code).To(Equal("api_error"))
		})

		It("does not treat a false error field as a failure", func() {
			c := classify(map[string]any{"error": false, "text": "all good"})
			Expect(c.Kind).To(Equal(chunk.KindContent))
		})

		It("does not treat a null error field as a failure", func() {
			c := classify(map[string]any{"error": nil, "text": "all good"})
			Expect(c.Kind).To(Equal(chunk.KindContent))
		})

		It("supplies a message when the record has none", func() {
			c := classify(map[string]any{"type": "error"})
			Expect(c.Error.Message).NotTo(BeEmpty())
		})
	})

	Describe("delta records", func() {
		It("reads text from a delta mapping", func() {
			c := classify(map[string]any{"delta": map[string]any{"text": "partial"}})
			Expect(c.Kind).To(Equal(chunk.KindContent))
			Expect(c.Content.Text).To(Equal("partial"))
		})

		It("reads a plain string delta", func() {
			c := classify(map[string]any{"delta": "partial"})
			Expect(c.Content.Text).To(Equal("partial"))
		})

		It("yields to explicit content fields", func() {
			c := classify(map[string]any{"text": "whole", "delta": map[string]any{"text": "partial"}})
			Expect(c.Content.Text).To(Equal("whole"))
		})

		It("drops a delta mapping without text", func() {
			expectDropped(map[string]any{"delta": map[string]any{"index": float64(3)}})
		})
	})

	Describe("thinking records", func() {
		It("reads the thinking field as the message", func() {
			c := classify(map[string]any{"thinking": "let me consider"})
			Expect(c.Kind).To(Equal(chunk.KindThinking))
			Expect(c.Thinking.Message).To(Equal("let me consider"))
		})

		It("reads the payload when thinking is a boolean marker", func() {
			c := classify(map[string]any{"thinking": true, "payload": "considering"})
			Expect(c.Thinking.Message).To(Equal("considering"))
		})

		It("reads the payload for a bare thinking type marker", func() {
			c := classify(map[string]any{"type": "thinking", "payload": "considering"})
			Expect(c.Thinking.Message).To(Equal("considering"))
		})

		It("reads a nested thinking object", func() {
			c := classify(map[string]any{"thinking": map[string]any{"message": "hmm"}})
			Expect(c.Thinking.Message).To(Equal("hmm"))
		})

		It("drops a thinking marker without a payload", func() {
			expectDropped(map[string]any{"type": "thinking"})
		})

		It("yields to delta", func() {
			c := classify(map[string]any{"delta": "d", "thinking": "th"})
			Expect(c.Kind).To(Equal(chunk.KindContent))
		})
	})

	Describe("tool use records", func() {
		It("builds a tool chunk from a typed record", func() {
			c := classify(map[string]any{
				"type":       "tool_use",
				"toolName":   "web_search",
				"status":     "completed",
				"startTime":  "2026-08-25T10:00:00Z",
				"endTime":    "2026-08-25T10:00:02Z",
				"toolInput":  map[string]any{"query": "weather"},
				"toolOutput": "sunny",
				"serverName": "tools-1",
			})
			Expect(c.Kind).To(Equal(chunk.KindToolUse))
			Expect(c.ToolUse.Name).To(Equal("web_search"))
			Expect(c.ToolUse.Status).To(Equal(chunk.ToolStatusCompleted))
			Expect(c.ToolUse.StartedAt.IsZero()).To(BeFalse())
			Expect(c.ToolUse.EndedAt).NotTo(BeNil())
			Expect(c.ToolUse.Input).To(HaveKeyWithValue("query", "weather"))
			Expect(c.ToolUse.Output).To(Equal("sunny"))
			Expect(c.ToolUse.ServerName).To(Equal("tools-1"))
		})

		It("accepts a nested toolUse payload", func() {
			c := classify(map[string]any{
				"toolUse": map[string]any{
					"name":   "calculator",
					"status": "failed",
					"error":  "division by zero",
				},
			})
			Expect(c.ToolUse.Name).To(Equal("calculator"))
			Expect(c.ToolUse.Status).To(Equal(chunk.ToolStatusFailed))
			Expect(c.ToolUse.Error).To(Equal("division by zero"))
		})

		It("accepts a snake_case nested payload", func() {
			c := classify(map[string]any{
				"tool_use": map[string]any{"tool_name": "calculator"},
			})
			Expect(c.ToolUse.Name).To(Equal("calculator"))
		})

		It("defaults unknown statuses to started", func() {
			c := classify(map[string]any{"type": "tool_use", "toolName": "x", "status": "weird"})
			Expect(c.ToolUse.Status).To(Equal(chunk.ToolStatusStarted))
		})

		It("stamps a start time when the record has none", func() {
			c := classify(map[string]any{"type": "tool_use", "toolName": "x"})
			Expect(c.ToolUse.StartedAt.IsZero()).To(BeFalse())
		})

		It("drops a tool marker without a name", func() {
			expectDropped(map[string]any{"type": "tool_use"})
		})

		It("yields to thinking", func() {
			c := classify(map[string]any{"type": "tool_use", "toolName": "x", "thinking": "th"})
			Expect(c.Kind).To(Equal(chunk.KindThinking))
		})
	})

	Describe("completion records", func() {
		It("matches an explicit completion type", func() {
			c := classify(map[string]any{"type": "completion"})
			Expect(c.Kind).To(Equal(chunk.KindCompletion))
			Expect(c.Completion.Usage).To(BeNil())
			Expect(metrics.usageReports()).To(BeEmpty())
		})

		It("matches a done marker", func() {
			c := classify(map[string]any{"done": true})
			Expect(c.Kind).To(Equal(chunk.KindCompletion))
		})

		It("does not match done false", func() {
			expectDropped(map[string]any{"done": false})
		})

		It("folds usage and reports it exactly once", func() {
			c := classify(map[string]any{
				"type": "completion",
				"usage": map[string]any{
					"inputTokens":  float64(10),
					"outputTokens": float64(20),
					"totalTokens":  float64(30),
				},
			})
			Expect(c.Completion.Usage).To(Equal(&chunk.Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30}))
			Expect(metrics.usageReports()).To(HaveLen(1))
		})

		It("accepts snake_case usage keys", func() {
			c := classify(map[string]any{
				"done": true,
				"usage": map[string]any{
					"input_tokens":  float64(3),
					"output_tokens": float64(4),
				},
			})
			Expect(c.Completion.Usage.InputTokens).To(Equal(int64(3)))
			Expect(c.Completion.Usage.OutputTokens).To(Equal(int64(4)))
		})

		It("computes the total when the record omits it", func() {
			c := classify(map[string]any{
				"done":  true,
				"usage": map[string]any{"inputTokens": float64(5), "outputTokens": float64(7)},
			})
			Expect(c.Completion.Usage.TotalTokens).To(Equal(int64(12)))
		})

		It("preserves other non-null fields", func() {
			c := classify(map[string]any{
				"type":       "completion",
				"stopReason": "end_turn",
				"model":      "m-1",
				"omitted":    nil,
			})
			Expect(c.Completion.Extra).To(HaveKeyWithValue("stopReason", "end_turn"))
			Expect(c.Completion.Extra).To(HaveKeyWithValue("model", "m-1"))
			Expect(c.Completion.Extra).NotTo(HaveKey("omitted"))
			Expect(c.Completion.Extra).NotTo(HaveKey("type"))
		})

		It("yields to tool use", func() {
			c := classify(map[string]any{"type": "tool_use", "toolName": "x", "done": true})
			Expect(c.Kind).To(Equal(chunk.KindToolUse))
		})
	})

	Describe("string and byte records", func() {
		It("classifies a JSON object string through the mapping checks", func() {
			c := classify(`{"text":"hello"}`)
			Expect(c.Kind).To(Equal(chunk.KindContent))
			Expect(c.Content.Text).To(Equal("hello"))
		})

		It("classifies JSON object bytes", func() {
			c := classify([]byte(`{"done":true}`))
			Expect(c.Kind).To(Equal(chunk.KindCompletion))
		})

		It("unquotes a JSON string record", func() {
			c := classify(`"plain"`)
			Expect(c.Content.Text).To(Equal("plain"))
		})

		It("treats unparseable text as content", func() {
			c := classify("not json at all")
			Expect(c.Content.Text).To(Equal("not json at all"))
		})

		It("drops empty text", func() {
			expectDropped("")
			expectDropped("   ")
			Expect(metrics.droppedCount()).To(Equal(2))
		})

		It("drops unsupported record types", func() {
			expectDropped(42)
			expectDropped(nil)
		})
	})
})
