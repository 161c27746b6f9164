package middleware

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the window counter and starts its expiry on
// the first hit. It returns the count and the remaining window in ms.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {current, redis.call("PTTL", KEYS[1])}
`)

// RedisLimiter is a fixed-window limiter shared by every server instance.
type RedisLimiter struct {
	limit  int64
	window time.Duration
	prefix string
	incr   func(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

func NewRedisLimiter(rdb redis.Scripter, limit int, window time.Duration, prefix string) *RedisLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "waitroom:rl"
	}
	return &RedisLimiter{
		limit:  int64(limit),
		window: window,
		prefix: prefix,
		incr: func(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
			res, err := fixedWindowScript.Run(ctx, rdb, []string{key}, window.Milliseconds()).Slice()
			if err != nil {
				return 0, 0, err
			}
			if len(res) != 2 {
				return 0, 0, fmt.Errorf("unexpected script result %v", res)
			}
			count, err := toInt64(res[0])
			if err != nil {
				return 0, 0, err
			}
			ttl, err := toInt64(res[1])
			if err != nil {
				return 0, 0, err
			}
			return count, time.Duration(ttl) * time.Millisecond, nil
		},
	}
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected redis result type %T", v)
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	count, ttl, err := l.incr(ctx, l.prefix+":"+key, l.window)
	if err != nil {
		return false, 0, fmt.Errorf("redis rate limit: %w", err)
	}
	if count > l.limit {
		if ttl <= 0 {
			ttl = l.window
		}
		return false, ttl, nil
	}
	return true, 0, nil
}
