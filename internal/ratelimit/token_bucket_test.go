package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBucket(t *testing.T, capacity int, window time.Duration) (*RedisTokenBucket, *time.Time) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bucket, err := NewRedisTokenBucket(client, Config{Capacity: capacity, Window: window})
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	bucket.now = func() time.Time { return now }
	return bucket, &now
}

// A window of 2048ms for two tokens refills exactly one token every 1024ms.
const testWindow = 2048 * time.Millisecond

func TestTokenBucketRejectsAfterBurst(t *testing.T) {
	bucket, _ := newTestBucket(t, 2, testWindow)
	ctx := context.Background()

	first, err := bucket.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.Equal(t, int64(1), first.Remaining)
	assert.Equal(t, int64(2), first.Limit)

	second, err := bucket.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, second.Allowed)
	assert.Equal(t, int64(0), second.Remaining)

	third, err := bucket.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, third.Allowed)
	assert.Equal(t, 1024*time.Millisecond, third.RetryAfter)

	other, err := bucket.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "buckets are per subject")
}

func TestTokenBucketRefills(t *testing.T) {
	bucket, now := newTestBucket(t, 2, testWindow)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := bucket.Allow(ctx, "client")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	*now = now.Add(1024 * time.Millisecond)

	d, err := bucket.Allow(ctx, "client")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(0), d.Remaining)
}

func TestTokenBucketTakeValidatesCost(t *testing.T) {
	bucket, _ := newTestBucket(t, 2, time.Minute)

	_, err := bucket.Take(context.Background(), "client", 0)
	assert.Error(t, err)

	_, err = bucket.Take(context.Background(), "client", 3)
	assert.Error(t, err)
}

func TestNewRedisTokenBucketValidation(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	_, err := NewRedisTokenBucket(nil, Config{Capacity: 1, Window: time.Second})
	assert.Error(t, err)

	_, err = NewRedisTokenBucket(client, Config{Capacity: 0, Window: time.Second})
	assert.Error(t, err)

	_, err = NewRedisTokenBucket(client, Config{Capacity: 1})
	assert.Error(t, err)
}
