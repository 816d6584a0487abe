package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher sends finalize messages to the broker.
type Publisher interface {
	Publish(ctx context.Context, msg FinalizeMessage) error
}

// Producer wraps the Kafka writer.
type Producer struct {
	w *kafka.Writer
}

// NewProducer keys messages by order id, so one order's messages stay on one
// partition, and waits for all in-sync replicas.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (p *Producer) Close() error { return p.w.Close() }

func (p *Producer) Publish(ctx context.Context, msg FinalizeMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatUint(msg.OrderID, 10)),
		Value: b,
	})
}
