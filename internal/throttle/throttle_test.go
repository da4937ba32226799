package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAttempt(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for i := 0; i < 3; i++ {
		res, err := m.Attempt(ctx, "login:vet1|10.0.0.1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "attempt %d", i+1)
	}

	res, err := m.Attempt(ctx, "login:vet1|10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, res.RetryAfter, time.Minute)

	// Keys are independent.
	res, err = m.Attempt(ctx, "login:vet1|10.0.0.2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryReset(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for i := 0; i < 2; i++ {
		_, err := m.Attempt(ctx, "k", 2, time.Minute)
		require.NoError(t, err)
	}
	require.NoError(t, m.Reset(ctx, "k"))

	res, err := m.Attempt(ctx, "k", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryWindowRestarts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()
	m.now = func() time.Time { return now }

	_, err := m.Attempt(ctx, "k", 1, 50*time.Millisecond)
	require.NoError(t, err)
	res, err := m.Attempt(ctx, "k", 1, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	now = now.Add(time.Second)
	res, err = m.Attempt(ctx, "k", 1, 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRedisUnavailableReportsError(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	r := NewRedisWithClient(client)
	defer r.Close()

	res, err := r.Attempt(context.Background(), "k", 1, time.Minute)
	assert.Error(t, err)
	assert.True(t, res.Allowed)
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	_, err := NewRedis("not a url")
	assert.Error(t, err)
}
