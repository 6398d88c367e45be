package ordertask

import (
	"context"
	"encoding/json"

	"flashsaleservice/internal/platform/kafka"
	"flashsaleservice/internal/platform/observability"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// MessageHandler defines the interface for processing incoming messages.
type MessageHandler interface {
	HandlePlaceOrderTask(ctx context.Context, msg kafkago.Message) error
}

// TaskHandler is what the message handler delegates to; *Processor
// implements it.
type TaskHandler interface {
	Handle(ctx context.Context, task PlaceOrderTask) (HandleResult, error)
}

// KafkaMessageHandler handles Kafka message processing for place order tasks
type KafkaMessageHandler struct {
	processor TaskHandler
	producer  kafka.Producer
	logger    observability.Logger
}

// NewMessageHandler creates a new MessageHandler instance with explicit dependencies.
// producer publishes handled-task events and may be nil.
func NewMessageHandler(processor TaskHandler, producer kafka.Producer, logger observability.Logger) MessageHandler {
	return &KafkaMessageHandler{
		processor: processor,
		producer:  producer,
		logger:    logger,
	}
}

// HandlePlaceOrderTask processes a PlaceOrderTask message from Kafka
func (h *KafkaMessageHandler) HandlePlaceOrderTask(ctx context.Context, msg kafkago.Message) error {
	// Extract trace context to connect spans across services
	msgCtx := h.extractTraceContext(ctx, msg.Headers)

	h.logger.Info("📨 Raw Kafka message received",
		zap.ByteString("key", msg.Key),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	var task PlaceOrderTask
	if err := json.Unmarshal(msg.Value, &task); err != nil {
		h.logger.Error("❌ Invalid JSON in PlaceOrderTask message",
			zap.Error(err),
			zap.ByteString("raw_value", msg.Value),
		)
		return err
	}
	if task.TaskID == "" {
		h.logger.Error("❌ PlaceOrderTask message without task id", zap.ByteString("raw_value", msg.Value))
		return ErrTaskIDInvalid
	}

	result, err := h.processor.Handle(msgCtx, task)
	if err != nil {
		h.logger.Error("❌ Failed to handle place order task", zap.Error(err), zap.String("task_id", task.TaskID))
		if result.Status.Terminal() && !result.Skipped {
			h.publishTaskHandled(msgCtx, task, result)
		}
		return err
	}
	if result.Skipped {
		return nil
	}

	h.logger.Info("✅ Place order task handled",
		zap.String("task_id", task.TaskID),
		zap.String("status", string(result.Status)),
		zap.String("reason", string(result.Reason)),
	)
	h.publishTaskHandled(msgCtx, task, result)
	return nil
}

// extractTraceContext extracts OpenTelemetry trace context from Kafka message headers
func (h *KafkaMessageHandler) extractTraceContext(ctx context.Context, headers []kafkago.Header) context.Context {
	propagator := otel.GetTextMapPropagator()
	carrier := propagation.MapCarrier{}

	for _, header := range headers {
		carrier[string(header.Key)] = string(header.Value)
	}

	return propagator.Extract(ctx, carrier)
}

// publishTaskHandled announces a terminal task. Failures are logged only:
// the task store already holds the outcome.
func (h *KafkaMessageHandler) publishTaskHandled(ctx context.Context, task PlaceOrderTask, result HandleResult) {
	if h.producer == nil {
		return
	}

	event := PlaceOrderTaskHandledEvent{
		TaskID:  task.TaskID,
		UserID:  task.UserID,
		ItemID:  task.ItemID,
		Status:  result.Status,
		OrderID: result.OrderID,
		Reason:  result.Reason,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("❌ Failed to serialize PlaceOrderTaskHandled event",
			zap.Error(err),
			zap.String("task_id", task.TaskID),
		)
		return
	}

	kafkaMsg := kafkago.Message{
		Value: payload,
		Key:   []byte(task.TaskID),
	}
	if err := h.producer.WriteMessage(ctx, kafkaMsg); err != nil {
		h.logger.Error("❌ Failed to publish PlaceOrderTaskHandled event",
			zap.Error(err),
			zap.String("task_id", task.TaskID),
		)
		return
	}

	h.logger.Info("📤 Sent PlaceOrderTaskHandled event", zap.String("task_id", task.TaskID))
}
