package stock

import (
	"context"
	"sync"
	"sync/atomic"
)

// Arena is an in-process ledger for a single service instance. Items get a
// slot index when seeded; counters are only ever changed by CAS.
type Arena struct {
	mu    sync.RWMutex
	index map[int64]int
	slots []*atomic.Int64
}

func NewArena() *Arena {
	return &Arena{index: make(map[int64]int)}
}

func (a *Arena) slot(itemID int64) (*atomic.Int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	i, ok := a.index[itemID]
	if !ok {
		return nil, ErrUnknownItem
	}
	return a.slots[i], nil
}

func (a *Arena) Seed(_ context.Context, itemID int64, quantity int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.index[itemID]; ok {
		return nil
	}
	counter := new(atomic.Int64)
	counter.Store(quantity)
	a.index[itemID] = len(a.slots)
	a.slots = append(a.slots, counter)
	return nil
}

func (a *Arena) DecreaseStock(_ context.Context, itemID int64, quantity int) (bool, error) {
	if quantity <= 0 {
		return false, ErrInvalidQuantity
	}
	counter, err := a.slot(itemID)
	if err != nil {
		return false, err
	}
	q := int64(quantity)
	for {
		current := counter.Load()
		if current < q {
			return false, nil
		}
		if counter.CompareAndSwap(current, current-q) {
			return true, nil
		}
	}
}

func (a *Arena) IncreaseStock(_ context.Context, itemID int64, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	counter, err := a.slot(itemID)
	if err != nil {
		return err
	}
	counter.Add(int64(quantity))
	return nil
}

func (a *Arena) Available(_ context.Context, itemID int64) (int64, error) {
	counter, err := a.slot(itemID)
	if err != nil {
		return 0, err
	}
	return counter.Load(), nil
}
