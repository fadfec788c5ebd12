package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLocker(t *testing.T) {
	url := os.Getenv("NOTIFY_TEST_REDIS_URL")
	if url == "" {
		t.Skip("NOTIFY_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	ctx := context.Background()
	locker := NewRedisLocker(client, "test:lock:", time.Second)
	name := t.Name() + time.Now().String()

	unlock, ok, err := locker.TryLock(ctx, name)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, name)
	require.NoError(t, err)
	assert.False(t, ok)

	unlock()
	unlock2, ok, err := locker.TryLock(ctx, name)
	require.NoError(t, err)
	assert.True(t, ok)
	unlock2()
}
