// Package events publishes ride lifecycle events to a Kafka topic. Delivery
// is best effort: a failed publish is logged by the caller and never blocks
// or aborts the state transition that produced it.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/moto-dispatch/internal/models"
)

// Publisher emits ride lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, ev models.RideEvent) error
	Close() error
}

// KafkaPublisher writes events keyed by ride id so one ride's events stay
// ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaPublisher{writer: w}
}

func (k *KafkaPublisher) Publish(ctx context.Context, ev models.RideEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(ev)
	key := strconv.FormatInt(ev.RideID, 10)
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// NopPublisher is used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, ev models.RideEvent) error { return nil }
func (NopPublisher) Close() error                                           { return nil }
