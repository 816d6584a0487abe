package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// Relay forwards stream entries to Kafka. An entry is acked and deleted only
// after Kafka accepted it; on failure it stays pending and is retried.
type Relay struct {
	rdb       *rd.Client
	publisher Publisher

	stream   string
	group    string
	consumer string
}

func NewRelay(rdb *rd.Client, publisher Publisher, stream, group, consumer string) *Relay {
	return &Relay{
		rdb:       rdb,
		publisher: publisher,
		stream:    stream,
		group:     group,
		consumer:  consumer,
	}
}

func (r *Relay) Run(ctx context.Context) {
	if err := r.ensureGroup(ctx); err != nil {
		slog.ErrorContext(ctx, "relay ensure group", "stream", r.stream, "error", err)
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.step(ctx, 2*time.Second); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			slog.WarnContext(ctx, "relay step", "stream", r.stream, "error", err)
			time.Sleep(300 * time.Millisecond)
		}
	}
}

// step handles this consumer's pending entries first, then waits up to block
// for new ones. It returns how many entries were forwarded.
func (r *Relay) step(ctx context.Context, block time.Duration) (int, error) {
	msgs, err := r.readGroup(ctx, "0", 0)
	if err != nil {
		return 0, fmt.Errorf("read pending: %w", err)
	}
	if len(msgs) == 0 {
		if msgs, err = r.readGroup(ctx, ">", block); err != nil {
			return 0, fmt.Errorf("read new: %w", err)
		}
	}

	n := 0
	for _, xm := range msgs {
		if err := r.processOne(ctx, xm); err != nil {
			return n, fmt.Errorf("process message id=%s: %w", xm.ID, err)
		}
		n++
	}
	return n, nil
}

func (r *Relay) ensureGroup(ctx context.Context) error {
	err := r.rdb.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (r *Relay) readGroup(ctx context.Context, streamID string, block time.Duration) ([]rd.XMessage, error) {
	args := &rd.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.stream, streamID},
		Count:    16,
		Block:    block,
	}
	if block == 0 {
		// go-redis treats Block 0 as "wait forever"
		args.Block = -1
	}
	streams, err := r.rdb.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]rd.XMessage, 0, 16)
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (r *Relay) processOne(ctx context.Context, xm rd.XMessage) error {
	msg, err := parseFinalizeEvent(xm.Values)
	if err != nil {
		slog.WarnContext(ctx, "relay dropping malformed entry", "id", xm.ID, "error", err)
		if ackErr := r.ackAndDelete(ctx, xm.ID); ackErr != nil {
			return fmt.Errorf("parse failed: %v, ack failed: %w", err, ackErr)
		}
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.publisher.Publish(pubCtx, msg); err != nil {
		return err
	}
	return r.ackAndDelete(ctx, xm.ID)
}

func (r *Relay) ackAndDelete(ctx context.Context, id string) error {
	pipe := r.rdb.TxPipeline()
	pipe.XAck(ctx, r.stream, r.group, id)
	pipe.XDel(ctx, r.stream, id)
	_, err := pipe.Exec(ctx)
	return err
}

func parseFinalizeEvent(values map[string]interface{}) (FinalizeMessage, error) {
	orderStr, err := getStreamString(values, "order_id")
	if err != nil {
		return FinalizeMessage{}, err
	}
	orderID, err := strconv.ParseUint(orderStr, 10, 64)
	if err != nil {
		return FinalizeMessage{}, fmt.Errorf("invalid order_id %q", orderStr)
	}
	msg := FinalizeMessage{OrderID: orderID}
	if at, err := getStreamString(values, "requested_at"); err == nil {
		if msg.RequestedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return FinalizeMessage{}, fmt.Errorf("invalid requested_at %q", at)
		}
	}
	if err := msg.Validate(); err != nil {
		return FinalizeMessage{}, err
	}
	return msg, nil
}

func getStreamString(values map[string]interface{}, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	default:
		return "", fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}
