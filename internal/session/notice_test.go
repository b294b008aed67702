package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yishak-cs/cartrecs/internal/logger"
)

func TestMemoryNoticeStoreExpiry(t *testing.T) {
	m := NewMemoryNoticeStore(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := m.Claim(ctx, "s1", "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Claim(ctx, "s1", "a")
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, err = m.Claim(ctx, "s1", "a")
	require.NoError(t, err)
	assert.True(t, ok, "an expired claim can be taken again")
}

func TestMemoryNoticeStoreWithoutTTL(t *testing.T) {
	m := NewMemoryNoticeStore(0)
	ok, err := m.Claim(context.Background(), "s1", "a")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Zero(t, m.Sweep(time.Now().Add(365*24*time.Hour)))
	ok, err = m.Claim(context.Background(), "s1", "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryNoticeStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryNoticeStore(time.Minute).Claim(ctx, "s1", "a")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRedisClientRequiresAddr(t *testing.T) {
	_, err := NewRedisClient(RedisConfig{})
	assert.Error(t, err)
}

func TestRedisNoticeStoreNotInitialized(t *testing.T) {
	var r *RedisNoticeStore
	_, err := r.Claim(context.Background(), "s1", "a")
	assert.Error(t, err)
}

func TestRedisNoticeStoreClaim(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set, skipping redis integration test")
	}

	cfg := RedisConfig{Addr: addr, KeyPrefix: "cartrecs-test:" + uuid.NewString() + ":", NoticeTTL: time.Minute}
	rdb, err := NewRedisClient(cfg)
	require.NoError(t, err)
	defer rdb.Close()

	store := NewRedisNoticeStore(rdb, cfg, logger.Nop())
	ctx := context.Background()

	ok, err := store.Claim(ctx, "s1", "a,b")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Claim(ctx, "s1", "a,b")
	require.NoError(t, err)
	assert.False(t, ok)

	ttl, err := rdb.TTL(ctx, cfg.KeyPrefix+noticeKey("s1", "a,b")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
