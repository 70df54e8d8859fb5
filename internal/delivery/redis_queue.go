package delivery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// promoteScript moves due delayed jobs to the ready list.
var promoteScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, job in ipairs(due) do
    redis.call("ZREM", KEYS[1], job)
    redis.call("RPUSH", KEYS[2], job)
end
return #due
`)

// retryScript drops a claimed payload and schedules its replacement.
// KEYS: processing, claimed, delayed. ARGV: old payload, new payload, due ms.
var retryScript = redis.NewScript(`
redis.call("LREM", KEYS[1], 1, ARGV[1])
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("ZADD", KEYS[3], tonumber(ARGV[3]), ARGV[2])
return 1
`)

// reclaimScript returns a stale claimed payload to the ready list if it is
// still in processing. KEYS: processing, claimed, ready. ARGV: payload.
var reclaimScript = redis.NewScript(`
local removed = redis.call("LREM", KEYS[1], 1, ARGV[1])
redis.call("ZREM", KEYS[2], ARGV[1])
if removed > 0 then
    redis.call("RPUSH", KEYS[3], ARGV[1])
end
return removed
`)

// RedisQueue is a Queue on Redis lists. Ready jobs live in a list and are
// moved atomically into a processing list on claim. Claim times are kept in
// a sorted set so jobs held by a crashed worker can be reclaimed. Retries
// wait in a sorted set scored by due time.
type RedisQueue struct {
	client     *redis.Client
	ready      string
	processing string
	claimed    string
	delayed    string
	now        func() time.Time
}

// NewRedisQueue creates a queue whose keys are prefixed with name.
func NewRedisQueue(client *redis.Client, name string) *RedisQueue {
	return &RedisQueue{
		client:     client,
		ready:      name + ":ready",
		processing: name + ":processing",
		claimed:    name + ":claimed",
		delayed:    name + ":delayed",
		now:        time.Now,
	}
}

func (q *RedisQueue) EnqueueBatch(ctx context.Context, jobs []Job) error {
	if len(jobs) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(jobs))
	for _, j := range jobs {
		p, err := j.encode()
		if err != nil {
			return fmt.Errorf("encode job %s: %w", j.ID, err)
		}
		values = append(values, p)
	}
	if err := q.client.RPush(ctx, q.ready, values...).Err(); err != nil {
		return fmt.Errorf("enqueue %d jobs: %w", len(jobs), err)
	}
	return nil
}

func (q *RedisQueue) Claim(ctx context.Context, timeout time.Duration) (*Job, error) {
	if _, err := q.PromoteDue(ctx); err != nil {
		return nil, err
	}
	raw, err := q.client.BLMove(ctx, q.ready, q.processing, "LEFT", "RIGHT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	if err := q.client.ZAdd(ctx, q.claimed, redis.Z{Score: float64(q.now().UnixMilli()), Member: raw}).Err(); err != nil {
		return nil, fmt.Errorf("record claim: %w", err)
	}
	job, err := decodeJob(raw)
	if err != nil {
		// unreadable payloads are dropped so they cannot wedge the queue
		q.client.LRem(ctx, q.processing, 1, raw)
		q.client.ZRem(ctx, q.claimed, raw)
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processing, 1, job.raw)
	pipe.ZRem(ctx, q.claimed, job.raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack job %s: %w", job.ID, err)
	}
	return nil
}

func (q *RedisQueue) Retry(ctx context.Context, job *Job, delay time.Duration) error {
	next, err := job.encode()
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	due := q.now().Add(delay).UnixMilli()
	err = retryScript.Run(ctx, q.client,
		[]string{q.processing, q.claimed, q.delayed},
		job.raw, next, due,
	).Err()
	if err != nil {
		return fmt.Errorf("retry job %s: %w", job.ID, err)
	}
	return nil
}

func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, q.ready)
	delayed := pipe.ZCard(ctx, q.delayed)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return ready.Val() + delayed.Val(), nil
}

// PromoteDue moves retries whose delay has passed onto the ready list.
func (q *RedisQueue) PromoteDue(ctx context.Context) (int, error) {
	n, err := promoteScript.Run(ctx, q.client,
		[]string{q.delayed, q.ready},
		q.now().UnixMilli(), 100,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed jobs: %w", err)
	}
	return n, nil
}

// Reclaim returns jobs claimed longer ago than visibility to the ready
// list. Processing entries with no claim time (a worker died between the
// move and the bookkeeping) are stamped now and reclaimed on a later pass.
func (q *RedisQueue) Reclaim(ctx context.Context, visibility time.Duration) (int, error) {
	inFlight, err := q.client.LRange(ctx, q.processing, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("list processing: %w", err)
	}
	now := q.now()
	for _, raw := range inFlight {
		q.client.ZAddNX(ctx, q.claimed, redis.Z{Score: float64(now.UnixMilli()), Member: raw})
	}

	cutoff := strconv.FormatInt(now.Add(-visibility).UnixMilli(), 10)
	stale, err := q.client.ZRangeByScore(ctx, q.claimed, &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
	if err != nil {
		return 0, fmt.Errorf("list stale claims: %w", err)
	}
	reclaimed := 0
	for _, raw := range stale {
		n, err := reclaimScript.Run(ctx, q.client, []string{q.processing, q.claimed, q.ready}, raw).Int()
		if err != nil {
			return reclaimed, fmt.Errorf("reclaim: %w", err)
		}
		reclaimed += n
	}
	return reclaimed, nil
}
