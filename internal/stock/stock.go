// Package stock holds the shared per-item stock counters. Every ledger
// offers an atomic check-and-decrement: a decrease either takes all of the
// requested quantity or nothing.
package stock

import (
	"context"
	"errors"
)

var (
	ErrUnknownItem     = errors.New("stock: unknown item")
	ErrInvalidQuantity = errors.New("stock: quantity must be positive")
)

// Ledger is implemented by Arena and RedisLedger.
type Ledger interface {
	DecreaseStock(ctx context.Context, itemID int64, quantity int) (bool, error)
	IncreaseStock(ctx context.Context, itemID int64, quantity int) error
	// Seed sets the initial stock of an item unless it is already known.
	Seed(ctx context.Context, itemID int64, quantity int64) error
	Available(ctx context.Context, itemID int64) (int64, error)
}
