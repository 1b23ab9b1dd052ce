// Package chunk defines the normalized streaming unit emitted by the
// response pipeline. Every backend response, whatever its raw shape, is
// reduced to an ordered sequence of Chunks ending in exactly one Completion.
package chunk

import "time"

// Kind discriminates the chunk union. The Kind field determines which
// variant pointer is populated; exactly one is non-nil per chunk.
type Kind string

const (
	KindContent    Kind = "content"
	KindThinking   Kind = "thinking"
	KindToolUse    Kind = "tool_use"
	KindError      Kind = "error"
	KindCompletion Kind = "completion"
)

// ToolStatus is the lifecycle state of a tool invocation.
type ToolStatus string

const (
	ToolStatusStarted   ToolStatus = "started"
	ToolStatusCompleted ToolStatus = "completed"
	ToolStatusFailed    ToolStatus = "failed"
)

// Chunk is one discrete, typed unit of normalized output. Chunks are
// produced in order and never reordered downstream.
type Chunk struct {
	Kind Kind `json:"kind"`

	Content    *Content     `json:"content,omitempty"`
	Thinking   *Thinking    `json:"thinking,omitempty"`
	ToolUse    *ToolUse     `json:"toolUse,omitempty"`
	Error      *ErrorDetail `json:"error,omitempty"`
	Completion *Completion  `json:"completion,omitempty"`
}

// Content carries visible response text.
type Content struct {
	Text string `json:"text"`
}

// Thinking carries model reasoning that is surfaced separately from content.
type Thinking struct {
	Message string `json:"message"`
}

// ToolUse reports a tool invocation observed in the response stream.
type ToolUse struct {
	Name      string     `json:"toolName"`
	Status    ToolStatus `json:"status"`
	StartedAt time.Time  `json:"startTime"`
	EndedAt   *time.Time `json:"endTime,omitempty"`

	// Input and Output preserve whatever the backend reported; neither is
	// interpreted here.
	Input  map[string]any `json:"toolInput,omitempty"`
	Output any            `json:"toolOutput,omitempty"`

	// ServerName identifies the tool host for multi-server setups.
	ServerName string `json:"serverName,omitempty"`

	// Error is set when Status is failed.
	Error string `json:"error,omitempty"`
}

// ErrorDetail reports a failure surfaced to the client as part of the
// stream. An error chunk always immediately precedes the terminal
// Completion.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Completion is the terminal chunk of every stream.
type Completion struct {
	// Usage is present when the backend reported token counts.
	Usage *Usage `json:"usage,omitempty"`

	// Extra preserves completion fields that don't map to known parameters.
	Extra map[string]any `json:"extra,omitempty"`
}

// Usage contains the token counts reported on a completion.
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
	TotalTokens  int64 `json:"totalTokens"`
}

// Terminal reports whether the chunk ends its stream.
func (c *Chunk) Terminal() bool {
	return c.Kind == KindCompletion
}

// NewContent creates a content chunk.
func NewContent(text string) *Chunk {
	return &Chunk{Kind: KindContent, Content: &Content{Text: text}}
}

// NewThinking creates a thinking chunk.
func NewThinking(message string) *Chunk {
	return &Chunk{Kind: KindThinking, Thinking: &Thinking{Message: message}}
}

// NewToolUse creates a tool-use chunk.
func NewToolUse(tool ToolUse) *Chunk {
	return &Chunk{Kind: KindToolUse, ToolUse: &tool}
}

// NewError creates an error chunk.
func NewError(code, message string) *Chunk {
	return &Chunk{Kind: KindError, Error: &ErrorDetail{Code: code, Message: message}}
}

// NewCompletion creates a terminal completion chunk. usage may be nil.
func NewCompletion(usage *Usage) *Chunk {
	return &Chunk{Kind: KindCompletion, Completion: &Completion{Usage: usage}}
}
