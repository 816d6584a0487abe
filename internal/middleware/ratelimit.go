package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	rediskey "nftstore/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
)

// luaRateLimit is a sliding window over a sorted set of request timestamps.
// KEYS[1]=window key, ARGV: now, window start, window seconds, member, limit.
// Returns the count including this request, or -1 when over the limit.
const luaRateLimit = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowSec = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '0', windowStart)

local count = redis.call('ZCARD', key)
if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, member)
  redis.call('EXPIRE', key, windowSec)
  return count + 1
end
return -1
`

// RedisRateLimit allows limit requests per window for each authenticated
// user, or per client IP when no user is known. Redis failures let the
// request through.
func RedisRateLimit(rdb *rd.Client, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rediskey.IPRateLimitKey(c.ClientIP())
		if id, ok := UserID(c); ok {
			key = rediskey.UserRateLimitKey(id)
		}

		now := time.Now()
		windowSec := int64(window.Seconds())
		member := fmt.Sprintf("%d-%d", now.Unix(), now.UnixNano())

		res, err := rdb.Eval(c.Request.Context(), luaRateLimit, []string{key},
			now.Unix(), now.Unix()-windowSec, windowSec, member, limit).Int()
		if err != nil {
			slog.WarnContext(c.Request.Context(), "rate limiter unavailable", "key", key, "error", err)
			c.Next()
			return
		}
		if res < 0 {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": 429,
				"msg":  "too many requests, try again later",
			})
			return
		}
		c.Next()
	}
}
