package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// luaUnlockIfMatch deletes the lock only while it still carries our token, so
// a holder whose lock expired cannot release the next holder's lock.
const luaUnlockIfMatch = `
local key = KEYS[1]
local token = ARGV[1]
if redis.call('GET', key) == token then
  return redis.call('DEL', key)
end
return 0
`

// luaRenewIfMatch extends the lease only while it still carries our token.
const luaRenewIfMatch = `
local key = KEYS[1]
local token = ARGV[1]
if redis.call('GET', key) == token then
  return redis.call('PEXPIRE', key, ARGV[2])
end
return 0
`

// TryLock takes the named lock for ttl. ok is false when someone else holds it.
func TryLock(ctx context.Context, rdb *rd.Client, key string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock releases key if it is still held with token.
func Unlock(ctx context.Context, rdb *rd.Client, key, token string) error {
	err := rdb.Eval(ctx, luaUnlockIfMatch, []string{key}, token).Err()
	if errors.Is(err, rd.Nil) {
		return nil
	}
	return err
}

// Renew resets the lease on key to ttl. ok is false when the lock expired or
// passed to another holder.
func Renew(ctx context.Context, rdb *rd.Client, key, token string, ttl time.Duration) (ok bool, err error) {
	n, err := rdb.Eval(ctx, luaRenewIfMatch, []string{key}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
