package queue

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// FinalizeHandler runs checkout for an order. It must tolerate repeats.
type FinalizeHandler interface {
	FinalizeOrder(ctx context.Context, orderID uint64) error
}

type Consumer struct {
	r       *kafka.Reader
	handler FinalizeHandler
}

func NewConsumer(brokers []string, topic, groupID string, handler FinalizeHandler) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		handler: handler,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

// Run commits each message after handling it. Failed finalizations are
// logged and committed too: the paid-unfinalized sweep picks them up.
func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			return // ctx canceled or reader closed
		}
		c.handle(ctx, m.Value)
		if err := c.r.CommitMessages(ctx, m); err != nil {
			slog.WarnContext(ctx, "consumer commit", "offset", m.Offset, "error", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, value []byte) {
	var msg FinalizeMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		slog.WarnContext(ctx, "consumer unmarshal", "error", err)
		return
	}
	if err := msg.Validate(); err != nil {
		slog.WarnContext(ctx, "consumer invalid message", "error", err)
		return
	}
	if err := c.handler.FinalizeOrder(ctx, msg.OrderID); err != nil {
		slog.ErrorContext(ctx, "consumer finalize", "order_id", msg.OrderID, "error", err)
	}
}
