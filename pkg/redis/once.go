package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaMarkOnce sets the marker only if absent and gives it a TTL in one step.
const luaMarkOnce = `
local key = KEYS[1]
local ttlSec = tonumber(ARGV[1])

if redis.call('SETNX', key, '1') == 1 then
  redis.call('EXPIRE', key, ttlSec)
  return 1
end
return 0
`

// MarkOnce returns true the first time it is called for key within ttl.
func MarkOnce(ctx context.Context, rdb *rd.Client, key string, ttl time.Duration) (bool, error) {
	ttlSec := int64(ttl / time.Second)
	if ttlSec < 1 {
		ttlSec = 1
	}
	n, err := rdb.Eval(ctx, luaMarkOnce, []string{key}, ttlSec).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Unmark drops the marker, so a failed attempt can be retried.
func Unmark(ctx context.Context, rdb *rd.Client, key string) error {
	return rdb.Del(ctx, key).Err()
}
