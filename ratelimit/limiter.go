package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps transport failures talking to Redis.
var ErrUnavailable = errors.New("rate limiter unavailable")

// Limit is a fixed-window budget: at most Max consumptions per Window.
type Limit struct {
	Max    int
	Window time.Duration
}

// Decision is the outcome of a Consume call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// consumeScript increments the window counter, arming the TTL on first use so
// the window starts at the first event, and returns count plus remaining TTL.
const consumeScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`

var consumeLua = redis.NewScript(consumeScript)

// Limiter implements fixed-window rate limiting shared across processes.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
}

// NewLimiter wraps the given Redis client. prefix namespaces all counter keys.
func NewLimiter(client redis.UniversalClient, prefix string) *Limiter {
	if prefix == "" {
		prefix = "clavis"
	}
	return &Limiter{redis: client, prefix: prefix}
}

// Consume spends one unit of key's budget and reports whether it was within
// the limit. The counter increments even when the limit is exceeded, so a
// client hammering past the limit keeps the window armed.
func (l *Limiter) Consume(ctx context.Context, key string, limit Limit) (Decision, error) {
	if limit.Max <= 0 {
		return Decision{Allowed: true, Remaining: 1}, nil
	}

	res, err := consumeLua.Run(ctx, l.redis,
		[]string{l.prefix + ":rl:" + key},
		limit.Window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrUnavailable)
	}

	count, ttl := int(res[0]), res[1]
	if count > limit.Max {
		retry := time.Duration(ttl) * time.Millisecond
		if retry < 0 {
			retry = limit.Window
		}
		return Decision{Allowed: false, Remaining: 0, RetryAfter: retry}, nil
	}

	return Decision{Allowed: true, Remaining: limit.Max - count}, nil
}

// Reset clears the counter for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.prefix+":rl:"+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
