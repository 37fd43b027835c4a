// Package events publishes message.created to Kafka for downstream consumers.
package events

import (
	"context"
	"time"

	k "github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...k.Message) error
	Close() error
}

type KafkaPublisher struct {
	w messageWriter
}

// NewKafkaPublisher writes asynchronously. Delivery errors surface through
// the writer's completion callback, which logs them via onError.
func NewKafkaPublisher(brokers []string, topic string, onError func(error)) *KafkaPublisher {
	w := &k.Writer{
		Addr:         k.TCP(brokers...),
		Topic:        topic,
		Balancer:     &k.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: k.RequireOne,
		Async:        true,
		Completion: func(_ []k.Message, err error) {
			if err != nil && onError != nil {
				onError(err)
			}
		},
	}
	return &KafkaPublisher{w: w}
}

// Publish keys events by conversation so one conversation stays on one partition.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, value []byte) error {
	return p.w.WriteMessages(ctx, k.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	})
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }
