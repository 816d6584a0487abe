package queue

import (
	"context"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// StreamOutbox records finalize requests on a Redis Stream; the Relay moves
// them on to Kafka.
type StreamOutbox struct {
	rdb    *rd.Client
	stream string
	now    func() time.Time
}

func NewStreamOutbox(rdb *rd.Client, stream string) *StreamOutbox {
	return &StreamOutbox{rdb: rdb, stream: stream, now: time.Now}
}

func (o *StreamOutbox) PublishFinalize(ctx context.Context, orderID uint64) error {
	return o.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: o.stream,
		Values: map[string]any{
			"order_id":     strconv.FormatUint(orderID, 10),
			"requested_at": o.now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}
