package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"

	"sagakit/events"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Producer publishes envelopes to Kafka, partitioning by aggregate_id
// so that every event for a payment lands on the same partition and is
// serialized at a single consumer.
type Producer struct {
	sync   sarama.SyncProducer
	logger *zap.Logger
}

func NewProducer(logger *zap.Logger) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Partitioner = sarama.NewHashPartitioner

	brokers := []string{getEnv("KAFKA_BROKER", "localhost:9092")}
	sync, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	logger.Info("Kafka producer initialized")
	return &Producer{sync: sync, logger: logger}, nil
}

// Publish sends env to topic, keyed by its aggregate_id for partition
// affinity, with the current trace context injected into headers.
func (p *Producer) Publish(ctx context.Context, topic string, env events.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	carrier := &headerCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(env.AggregateID),
		Value:   sarama.ByteEncoder(body),
		Headers: carrier.headers,
	}

	partition, offset, err := p.sync.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	span := trace.SpanFromContext(ctx)
	traceID := ""
	if span.SpanContext().IsValid() {
		traceID = span.SpanContext().TraceID().String()
	}

	p.logger.Info("event published",
		zap.String("trace_id", traceID),
		zap.String("topic", topic),
		zap.String("event_id", env.EventID),
		zap.String("aggregate_id", env.AggregateID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)

	return nil
}

// PublishRaw sends an already-encoded envelope body (as staged in the
// outbox) keyed by aggregateID, without re-marshalling it. Used by the
// outbox publisher, where the payload is the full envelope JSON written
// at stage time.
func (p *Producer) PublishRaw(ctx context.Context, topic, aggregateID string, body []byte) error {
	carrier := &headerCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(aggregateID),
		Value:   sarama.ByteEncoder(body),
		Headers: carrier.headers,
	}

	partition, offset, err := p.sync.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.logger.Info("outbox event published",
		zap.String("topic", topic),
		zap.String("aggregate_id", aggregateID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

func (p *Producer) Close() error {
	return p.sync.Close()
}

// PartitionFor exposes the same hash sarama's partitioner would choose,
// for components (outbox claim ordering, tests) that need to reason
// about partition affinity without a live producer.
func PartitionFor(aggregateID string, numPartitions int32) int32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(aggregateID))
	partition := int32(h.Sum32()) % numPartitions
	if partition < 0 {
		partition = -partition
	}
	return partition
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
