package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// GuardStatus reports an account's lockout state.
type GuardStatus struct {
	Locked      bool
	Failures    int
	LockedUntil time.Time
}

// failureScript increments the failure counter and, when it crosses the
// threshold, arms the lock key. Returns {failures, locked}.
const failureScript = `
local failures = redis.call("INCR", KEYS[1])
if failures == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
local locked = 0
if failures >= tonumber(ARGV[1]) then
  redis.call("SET", KEYS[2], ARGV[4], "PX", ARGV[3])
  locked = 1
end
return {failures, locked}
`

var failureLua = redis.NewScript(failureScript)

// Guard tracks consecutive authentication failures per account and locks the
// account after Threshold failures. The lock is checked before any credential
// verification so a locked account leaks nothing about password correctness.
type Guard struct {
	redis     redis.UniversalClient
	prefix    string
	threshold int
	duration  time.Duration
	counterTTL time.Duration
}

// NewGuard builds a lockout guard. threshold <= 0 defaults to 5, duration <= 0
// to 15 minutes. The failure counter itself expires after counterTTL (default
// equals duration) so stale failures do not accumulate forever.
func NewGuard(client redis.UniversalClient, prefix string, threshold int, duration, counterTTL time.Duration) *Guard {
	if prefix == "" {
		prefix = "clavis"
	}
	if threshold <= 0 {
		threshold = 5
	}
	if duration <= 0 {
		duration = 15 * time.Minute
	}
	if counterTTL <= 0 {
		counterTTL = duration
	}
	return &Guard{
		redis:      client,
		prefix:     prefix,
		threshold:  threshold,
		duration:   duration,
		counterTTL: counterTTL,
	}
}

func (g *Guard) failKey(id string) string { return g.prefix + ":lf:" + id }
func (g *Guard) lockKey(id string) string { return g.prefix + ":lk:" + id }

// Status reports whether the account is currently locked and how many
// consecutive failures it has accrued.
func (g *Guard) Status(ctx context.Context, accountID string) (GuardStatus, error) {
	pipe := g.redis.Pipeline()
	lockCmd := pipe.Get(ctx, g.lockKey(accountID))
	failCmd := pipe.Get(ctx, g.failKey(accountID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return GuardStatus{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var status GuardStatus
	if until, err := lockCmd.Int64(); err == nil {
		status.Locked = true
		status.LockedUntil = time.Unix(until, 0)
	}
	if failures, err := failCmd.Int(); err == nil {
		status.Failures = failures
	}
	return status, nil
}

// RecordFailure registers one failed attempt and returns the resulting state.
// Crossing the threshold arms the lock atomically with the increment.
func (g *Guard) RecordFailure(ctx context.Context, accountID string) (GuardStatus, error) {
	until := time.Now().Add(g.duration)
	res, err := failureLua.Run(ctx, g.redis,
		[]string{g.failKey(accountID), g.lockKey(accountID)},
		g.threshold,
		g.counterTTL.Milliseconds(),
		g.duration.Milliseconds(),
		strconv.FormatInt(until.Unix(), 10),
	).Int64Slice()
	if err != nil {
		return GuardStatus{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) != 2 {
		return GuardStatus{}, fmt.Errorf("%w: unexpected script reply", ErrUnavailable)
	}

	status := GuardStatus{Failures: int(res[0])}
	if res[1] == 1 {
		status.Locked = true
		status.LockedUntil = until
	}
	return status, nil
}

// Reset clears the failure counter and lock after a successful verification
// or an administrative unlock.
func (g *Guard) Reset(ctx context.Context, accountID string) error {
	if err := g.redis.Del(ctx, g.failKey(accountID), g.lockKey(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
