package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

const (
	// RequestPending means a create-payment call with this key is running.
	RequestPending = "pending"
	// RequestSuccess means it finished; Response holds the reply to replay.
	RequestSuccess = "success"
)

// RequestState is the Redis record behind one client idempotency key.
type RequestState struct {
	Key       string
	Status    string
	PaymentID string
	Response  string
}

// luaBeginRequest claims the key for a new request unless one is recorded.
const luaBeginRequest = `
local key = KEYS[1]
local ttlSec = tonumber(ARGV[1])
if redis.call('HSETNX', key, 'status', 'pending') == 1 then
  redis.call('EXPIRE', key, ttlSec)
  return 1
end
return 0
`

// BeginRequest claims key for the caller. When the key is taken, started is
// false and the recorded state is returned instead.
func BeginRequest(ctx context.Context, rdb *rd.Client, key string, ttl time.Duration) (state RequestState, started bool, err error) {
	ttlSec := int64(ttl / time.Second)
	if ttlSec < 1 {
		ttlSec = 1
	}
	n, err := rdb.Eval(ctx, luaBeginRequest, []string{key}, ttlSec).Int()
	if err != nil {
		return RequestState{}, false, err
	}
	if n == 1 {
		return RequestState{Key: key, Status: RequestPending}, true, nil
	}
	state, _, err = GetRequestState(ctx, rdb, key)
	return state, false, err
}

// GetRequestState reads the record at key. found=false when there is none.
func GetRequestState(ctx context.Context, rdb *rd.Client, key string) (RequestState, bool, error) {
	m, err := rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return RequestState{}, false, err
	}
	if len(m) == 0 {
		return RequestState{}, false, nil
	}
	out := RequestState{
		Key:       key,
		Status:    m["status"],
		PaymentID: m["payment_id"],
		Response:  m["response"],
	}
	if out.Status == "" {
		out.Status = RequestPending
	}
	return out, true, nil
}

// PutRequestState records the outcome and refreshes the TTL.
func PutRequestState(ctx context.Context, rdb *rd.Client, key, status, paymentID, response string, ttl time.Duration) error {
	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"status", status,
		"payment_id", paymentID,
		"response", response,
	)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// ForgetRequest drops the record so the client may retry with the same key.
func ForgetRequest(ctx context.Context, rdb *rd.Client, key string) error {
	return rdb.Del(ctx, key).Err()
}
