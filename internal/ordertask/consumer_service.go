package ordertask

import (
	"context"
	"errors"
	"io"

	"flashsaleservice/internal/platform/kafka"

	"go.uber.org/zap"
)

type ConsumerService interface {
	Start(ctx context.Context) error
}

type KafkaConsumerService struct {
	consumer       kafka.Consumer
	messageHandler MessageHandler
	logger         *zap.Logger
}

func NewConsumerService(consumer kafka.Consumer, messageHandler MessageHandler, logger *zap.Logger) ConsumerService {
	return &KafkaConsumerService{
		consumer:       consumer,
		messageHandler: messageHandler,
		logger:         logger,
	}
}

// Start reads task messages until ctx is done. Handler errors are logged by
// the handler and never stop the loop; retries belong to the transport.
func (c *KafkaConsumerService) Start(ctx context.Context) error {
	c.logger.Info("Kafka consumer started. Waiting for place order tasks...")

	for {
		msg, err := c.consumer.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info("Context done, exiting Kafka read loop.", zap.Error(err))
				break
			}
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				c.logger.Info("Kafka reader closed, exiting read loop.", zap.Error(err))
				break
			}
			c.logger.Error("❌ Error reading from Kafka", zap.Error(err))
			continue
		}

		if err := c.messageHandler.HandlePlaceOrderTask(ctx, *msg); err != nil {
			continue
		}
	}

	c.logger.Info("Consumer service finished. Shutting down...")
	return nil
}
