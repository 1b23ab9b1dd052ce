// Package kafka publishes stream lifecycle events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/lanternworks/relay/pkg/eventstream"
)

// ErrBrokersRequired indicates the publisher was constructed without brokers.
var ErrBrokersRequired = errors.New("kafka publisher requires at least one broker")

// DefaultTopic is used when the configuration does not name one.
const DefaultTopic = "relay.stream.completed"

// Config holds the connection settings for the Kafka publisher.
type Config struct {
	// Brokers is the list of bootstrap broker addresses, e.g. "localhost:9092".
	Brokers []string

	// Topic receives the events. Defaults to DefaultTopic when empty.
	Topic string
}

// Publisher writes stream events to Kafka. Events are keyed by conversation
// id so one conversation's events stay ordered within a partition.
type Publisher struct {
	writer *kafkago.Writer
}

// NewPublisher creates a Kafka-backed eventstream publisher. The connection
// is lazy; broker reachability surfaces on the first publish.
func NewPublisher(config Config) (*Publisher, error) {
	if len(config.Brokers) == 0 {
		return nil, ErrBrokersRequired
	}

	topic := config.Topic
	if topic == "" {
		topic = DefaultTopic
	}

	writer := &kafkago.Writer{
		Addr:     kafkago.TCP(config.Brokers...),
		Topic:    topic,
		Balancer: &kafkago.LeastBytes{},
	}

	return &Publisher{writer: writer}, nil
}

// PublishStreamCompleted encodes the event and writes it to the topic.
func (p *Publisher) PublishStreamCompleted(ctx context.Context, event *eventstream.StreamCompletedEvent) error {
	if event == nil {
		return eventstream.ErrNilStreamEvent
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode stream event: %w", err)
	}

	msg := kafkago.Message{
		Key:   []byte(event.ConversationID),
		Value: payload,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish stream event: %w", err)
	}

	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
