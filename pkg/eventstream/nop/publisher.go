package nop

import (
	"context"

	"github.com/lanternworks/relay/pkg/eventstream"
)

// Publisher is a no-op eventstream publisher used for tests and disabled mode.
type Publisher struct{}

// NewPublisher creates a new no-op eventstream publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// PublishStreamCompleted validates input and otherwise does nothing.
func (p *Publisher) PublishStreamCompleted(_ context.Context, event *eventstream.StreamCompletedEvent) error {
	if event == nil {
		return eventstream.ErrNilStreamEvent
	}

	return nil
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}
