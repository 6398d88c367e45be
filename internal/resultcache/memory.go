package resultcache

import (
	"context"
	"sync"
	"time"

	"flashsaleservice/internal/clock"
)

// sweepEvery bounds how often PutOrderID scans for expired entries.
const sweepEvery = time.Minute

// Memory is a process-local cache with per-entry expiry. Expired entries
// are dropped on read, and swept from writes at most once per sweepEvery.
type Memory struct {
	mu        sync.Mutex
	clock     clock.Clock
	items     map[string]entry
	nextSweep time.Time
}

type entry struct {
	orderID   int64
	expiresAt time.Time
}

func NewMemory(clk clock.Clock) *Memory {
	return &Memory{
		clock: clk,
		items: make(map[string]entry),
	}
}

func (c *Memory) PutOrderID(_ context.Context, taskID string, orderID int64, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	if !now.Before(c.nextSweep) {
		c.sweep(now)
	}
	c.items[taskID] = entry{
		orderID:   orderID,
		expiresAt: now.Add(ttl),
	}
	return nil
}

func (c *Memory) sweep(now time.Time) {
	for id, e := range c.items {
		if !now.Before(e.expiresAt) {
			delete(c.items, id)
		}
	}
	c.nextSweep = now.Add(sweepEvery)
}

// Len reports the number of stored entries, expired or not.
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Memory) GetOrderID(_ context.Context, taskID string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[taskID]
	if !ok {
		return 0, false, nil
	}
	if !c.clock.Now().Before(item.expiresAt) {
		delete(c.items, taskID)
		return 0, false, nil
	}
	return item.orderID, true, nil
}
