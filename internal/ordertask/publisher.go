package ordertask

import (
	"context"
	"encoding/json"
	"fmt"

	"flashsaleservice/internal/platform/kafka"

	kafkago "github.com/segmentio/kafka-go"
)

// KafkaTaskPublisher writes tasks to the task topic keyed by task id, so
// every copy of a task lands on the same partition.
type KafkaTaskPublisher struct {
	producer kafka.Producer
}

func NewKafkaTaskPublisher(producer kafka.Producer) *KafkaTaskPublisher {
	return &KafkaTaskPublisher{producer: producer}
}

func (p *KafkaTaskPublisher) PublishTask(ctx context.Context, task PlaceOrderTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal place order task: %w", err)
	}
	msg := kafkago.Message{
		Key:   []byte(task.TaskID),
		Value: payload,
	}
	if err := p.producer.WriteMessage(ctx, msg); err != nil {
		return fmt.Errorf("write place order task: %w", err)
	}
	return nil
}
