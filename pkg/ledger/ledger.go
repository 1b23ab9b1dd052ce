// Package ledger records per-stream usage. Every completed stream leaves
// one entry: who asked, which conversation and message it belonged to, what
// it cost in tokens, and how long it ran. Entries are written off the hot
// path by the gateway's completion workers.
package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrConversationRequired indicates an entry without a conversation id.
	ErrConversationRequired = errors.New("ledger entry requires a conversation id")

	// ErrMessageRequired indicates an entry without a message id.
	ErrMessageRequired = errors.New("ledger entry requires a message id")
)

// Entry is a single usage record. UserID may be empty for anonymous
// streams.
type Entry struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	UserID         string    `json:"user_id,omitempty"`
	InputTokens    int64     `json:"input_tokens"`
	OutputTokens   int64     `json:"output_tokens"`
	TotalTokens    int64     `json:"total_tokens"`
	DurationMs     int64     `json:"duration_ms"`
	Chunks         int64     `json:"chunks"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate checks the fields every driver requires.
func (e Entry) Validate() error {
	if e.ConversationID == "" {
		return ErrConversationRequired
	}
	if e.MessageID == "" {
		return ErrMessageRequired
	}

	return nil
}

// Summary aggregates usage, optionally scoped to one user.
type Summary struct {
	Streams      int64 `json:"streams"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Store defines persistence behaviour for the usage ledger. An empty
// userID in Summary and ListRecent means all users.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Summary(ctx context.Context, userID string) (Summary, error)
	ListRecent(ctx context.Context, userID string, limit int) ([]Entry, error)
	Close() error
}
