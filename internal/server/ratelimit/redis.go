package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "credkeeper:rl:"

// fixedWindow increments the counter and starts its expiry on first use.
// Returns {allowed, remaining ttl in ms}.
var fixedWindow = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return {0, ttl}
end
return {1, ttl}
`)

var errUnexpectedReply = errors.New("ratelimit: unexpected redis reply")

type RedisLimiter struct {
	client redis.Scripter
	limit  int
	period time.Duration
	prefix string
}

func NewRedisLimiter(client redis.Scripter, limit int, period time.Duration, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisLimiter{client: client, limit: limit, period: period, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, _ time.Time) (bool, time.Duration, error) {
	periodMS := l.period.Milliseconds()
	if periodMS <= 0 {
		return false, 0, fmt.Errorf("ratelimit: window must be at least 1ms")
	}

	res, err := fixedWindow.Run(ctx, l.client, []string{l.prefix + key}, l.limit, periodMS).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: %w", err)
	}
	if len(res) != 2 {
		return false, 0, errUnexpectedReply
	}

	if res[0] == 1 {
		return true, 0, nil
	}
	return false, time.Duration(res[1]) * time.Millisecond, nil
}
