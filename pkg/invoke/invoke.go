// Package invoke performs the remote generation call. The invoker is only
// responsible for getting a raw response back; making sense of its shape is
// the normalizer's job.
package invoke

import (
	"context"
	"io"
)

// Payload is the request forwarded to the backend for one message.
type Payload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Input          string `json:"input"`
	UserID         string `json:"userId,omitempty"`

	// Files are backend-resolvable attachment references.
	Files []string `json:"files,omitempty"`
}

// Invoker performs the remote generation call.
type Invoker interface {
	Invoke(ctx context.Context, payload Payload) (*Response, error)
}

// Response is the raw backend response before normalization. Exactly one
// field is set, matching how the backend answered: a decoded composite
// value, an incremental byte stream, raw bytes, or plain text.
type Response struct {
	Value map[string]any
	Body  io.ReadCloser
	Raw   []byte
	Text  string
}

// Empty reports whether the response carries nothing at all.
func (r *Response) Empty() bool {
	return r == nil || (r.Value == nil && r.Body == nil && r.Raw == nil && r.Text == "")
}

// Close releases the underlying stream if the response holds one.
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}

	return r.Body.Close()
}
