package broker

import (
	"context"
	"fmt"

	"sagakit/events"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// Handler processes one decoded envelope. Returning an error logs it
// and moves on to the next message — consumers never crash the
// process on a single bad event.
type Handler func(ctx context.Context, env events.Envelope) error

// Consumer wraps a sarama partition consumer for one topic. Each
// service that consumes runs one of these per partition it owns; every
// service here consumes partition 0 only.
type Consumer struct {
	consumer sarama.Consumer
	topic    string
	logger   *zap.Logger
}

func NewConsumer(topic string, logger *zap.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true

	brokers := []string{getEnv("KAFKA_BROKER", "localhost:9092")}
	c, err := sarama.NewConsumer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	logger.Info("Kafka consumer initialized", zap.String("topic", topic))
	return &Consumer{consumer: c, topic: topic, logger: logger}, nil
}

// Run consumes the given partition of the configured topic until ctx
// is cancelled, dispatching each message to handle.
func (c *Consumer) Run(ctx context.Context, partition int32, handle Handler) error {
	pc, err := c.consumer.ConsumePartition(c.topic, partition, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("failed to consume partition: %w", err)
	}
	defer pc.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-pc.Messages():
			c.dispatch(ctx, msg, handle)
		case err := <-pc.Errors():
			c.logger.Error("Kafka consumer error", zap.Error(err))
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg *sarama.ConsumerMessage, handle Handler) {
	carrier := fromConsumerHeaders(msg.Headers)
	msgCtx := otel.GetTextMapPropagator().Extract(ctx, carrier)

	env, err := events.UnmarshalEnvelope(msg.Value)
	if err != nil {
		c.logger.Error("failed to unmarshal envelope", zap.Error(err))
		return
	}

	if err := handle(msgCtx, env); err != nil {
		c.logger.Error("handler failed",
			zap.String("event_id", env.EventID),
			zap.String("type", env.Type),
			zap.Error(err),
		)
	}
}

func (c *Consumer) Close() error {
	return c.consumer.Close()
}
