package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// Kafka publishes transaction events to a topic through a sarama sync
// producer, propagating the otel trace context in message headers.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewKafka connects a sync producer to the given brokers.
func NewKafka(brokers []string, topic string, logger *zap.Logger) (*Kafka, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: creating kafka producer: %w", err)
	}
	return &Kafka{producer: producer, topic: topic, logger: logger}, nil
}

func (k *Kafka) Close() error { return k.producer.Close() }

func (k *Kafka) Publish(ctx context.Context, event TransactionEvent) error {
	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: encoding event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(event.OrderID),
		Value: sarama.ByteEncoder(encoded),
	}
	carrier := headerCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	msg.Headers = carrier

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("events: sending %s: %w", event.EventType, err)
	}
	k.logger.Info("transaction event published",
		zap.String("event_type", event.EventType),
		zap.String("transaction_id", event.TransactionID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

// headerCarrier adapts sarama record headers to the otel TextMapCarrier.
type headerCarrier []sarama.RecordHeader

func (c headerCarrier) Get(key string) string {
	for _, h := range c {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	*c = append(*c, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = string(h.Key)
	}
	return keys
}
