package resultcache

import (
	"context"
	"testing"
	"time"

	"flashsaleservice/internal/clock"
	"flashsaleservice/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	c := NewMemory(clk)

	require.NoError(t, c.PutOrderID(ctx, "task-1", 42, time.Hour))

	orderID, ok, err := c.GetOrderID(ctx, "task-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(42), orderID)

	clk.Advance(time.Hour)
	_, ok, err = c.GetOrderID(ctx, "task-1")
	require.NoError(t, err)
	assert.False(t, ok, "entry must be gone once the TTL elapsed")
}

func TestMemory_WritesSweepExpiredEntries(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	c := NewMemory(clk)

	require.NoError(t, c.PutOrderID(ctx, "never-polled-1", 1, time.Second))
	require.NoError(t, c.PutOrderID(ctx, "never-polled-2", 2, time.Second))
	require.NoError(t, c.PutOrderID(ctx, "long-lived", 3, time.Hour))
	assert.Equal(t, 3, c.Len())

	clk.Advance(2 * time.Minute)
	require.NoError(t, c.PutOrderID(ctx, "task-4", 4, time.Hour))
	assert.Equal(t, 2, c.Len(), "expired entries are dropped without being read")

	orderID, ok, err := c.GetOrderID(ctx, "long-lived")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3), orderID)
}

func TestMemory_Missing(t *testing.T) {
	c := NewMemory(clock.NewSystem())
	_, ok, err := c.GetOrderID(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_Integration(t *testing.T) {
	client := testutil.NewTestRedis(t, 15)
	ctx := context.Background()
	c := NewRedis(client, "TEST_ORDER_ID_")

	_, ok, err := c.GetOrderID(ctx, "task-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.PutOrderID(ctx, "task-1", 9001, time.Minute))
	orderID, ok, err := c.GetOrderID(ctx, "task-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(9001), orderID)

	ttl, err := client.TTL(ctx, "TEST_ORDER_ID_task-1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}
