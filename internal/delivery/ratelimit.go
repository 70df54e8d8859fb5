package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter throttles how fast jobs are processed.
type Limiter interface {
	// Wait blocks until one more job may run or ctx is done.
	Wait(ctx context.Context) error
}

// Unlimited never blocks.
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }

// NewLocalLimiter returns a token bucket allowing perMinute jobs per
// minute in this process, with a burst of perMinute. perMinute <= 0 means
// no limit.
func NewLocalLimiter(perMinute int) Limiter {
	if perMinute <= 0 {
		return Unlimited{}
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}

// windowScript admits one job if the counter for the current 60-second
// bucket is below the limit.
var windowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if current + 1 > limit then
    return {0, current}
end

local newVal = redis.call("INCRBY", key, 1)
if newVal == 1 then
    redis.call("EXPIRE", key, ttl)
end
return {1, newVal}
`)

// RedisWindowLimiter shares a per-minute budget across every worker
// process. Counters are bucketed by wall-clock minute; a denied caller
// sleeps until the next bucket opens.
type RedisWindowLimiter struct {
	client    *redis.Client
	name      string
	perMinute int
	now       func() time.Time
}

// NewRedisWindowLimiter creates a distributed limiter. perMinute <= 0
// means no limit.
func NewRedisWindowLimiter(client *redis.Client, name string, perMinute int) Limiter {
	if perMinute <= 0 {
		return Unlimited{}
	}
	return &RedisWindowLimiter{client: client, name: name, perMinute: perMinute, now: time.Now}
}

// Allow tries to take one slot from the current bucket. When denied it
// returns how long until the next bucket.
func (l *RedisWindowLimiter) Allow(ctx context.Context) (bool, time.Duration, error) {
	now := l.now()
	key := fmt.Sprintf("ratelimit:%s:min:%d", l.name, now.Unix()/60)
	res, err := windowScript.Run(ctx, l.client, []string{key}, l.perMinute, 120).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}
	if allowed, _ := res[0].(int64); allowed == 1 {
		return true, 0, nil
	}
	next := now.Truncate(time.Minute).Add(time.Minute)
	return false, next.Sub(now), nil
}

func (l *RedisWindowLimiter) Wait(ctx context.Context) error {
	for {
		ok, wait, err := l.Allow(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
