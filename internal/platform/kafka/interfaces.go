package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// Producer publishes single messages. otelkafka.Writer satisfies it.
type Producer interface {
	WriteMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}

// Consumer reads messages one at a time. otelkafka.Reader satisfies it.
type Consumer interface {
	ReadMessage(ctx context.Context) (*kafka.Message, error)
	Close() error
}
