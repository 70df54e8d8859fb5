package delivery

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiterBurstThenThrottle(t *testing.T) {
	l := NewLocalLimiter(3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(ctx))
	}

	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx), "fourth token is 20s away")
}

func TestLocalLimiterDisabled(t *testing.T) {
	assert.IsType(t, Unlimited{}, NewLocalLimiter(0))
	assert.NoError(t, NewLocalLimiter(-1).Wait(context.Background()))
}

func TestRedisWindowLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	now := time.Date(2026, 5, 1, 9, 0, 45, 0, time.UTC)
	l := NewRedisWindowLimiter(client, "ses", 2).(*RedisWindowLimiter)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := l.Allow(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, wait, err := l.Allow(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 15*time.Second, wait)

	key := "ratelimit:ses:min:" + strconv.FormatInt(now.Unix()/60, 10)
	assert.True(t, mr.Exists(key))
	assert.Greater(t, mr.TTL(key), time.Duration(0))

	// the next minute has a fresh budget
	now = now.Add(15 * time.Second)
	ok, _, err = l.Allow(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisWindowLimiterWaitHonoursContext(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedisWindowLimiter(client, "x", 1).(*RedisWindowLimiter)
	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
}
