package ordertask

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Item is the catalog snapshot the pipeline needs.
type Item struct {
	ID         int64
	ActivityID int64
	Title      string
	FlashPrice decimal.Decimal
	OnSale     bool
}

// Catalog resolves flash items and answers eligibility questions.
type Catalog interface {
	// GetItem returns catalog.ErrItemNotFound-style errors for unknown items.
	GetItem(ctx context.Context, itemID int64) (Item, error)
	IsActivityAllowPlaceOrder(ctx context.Context, activityID int64) (bool, error)
	IsItemAllowPlaceOrder(ctx context.Context, itemID int64) (bool, error)
}

// StockLedger owns the shared stock counters.
type StockLedger interface {
	// DecreaseStock atomically takes quantity units, returning false when
	// fewer than quantity remain.
	DecreaseStock(ctx context.Context, itemID int64, quantity int) (bool, error)
	IncreaseStock(ctx context.Context, itemID int64, quantity int) error
}

// OrderIDGenerator hands out globally unique order ids.
type OrderIDGenerator interface {
	NextID(ctx context.Context) (int64, error)
}

// OrderWriter persists a FlashOrder. A false result with a nil error means
// the write was refused.
type OrderWriter interface {
	PlaceOrder(ctx context.Context, userID int64, order FlashOrder) (bool, error)
}

// Reconciler persists stock that could not be compensated.
type Reconciler interface {
	RecordStockReconciliation(ctx context.Context, rec StockReconciliation) error
}

// TaskStore is the durable source of truth for tasks and their status.
type TaskStore interface {
	// WithTx runs fn in a transaction; stores sharing the database join it
	// through ctx.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	// CreateTask inserts task unless one with the same id exists. It
	// returns the stored task and whether this call created it.
	CreateTask(ctx context.Context, task PlaceOrderTask) (PlaceOrderTask, bool, error)
	// GetTask returns nil when the task is unknown.
	GetTask(ctx context.Context, taskID string) (*PlaceOrderTask, error)
	// LockTask is GetTask holding the row until the surrounding
	// transaction ends. Concurrent lockers of the same task wait.
	LockTask(ctx context.Context, taskID string) (*PlaceOrderTask, error)
	// UpdateTaskStatus moves a PENDING task to a terminal status. It returns
	// false when the task was not PENDING.
	UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus, at time.Time) (bool, error)
	// DeletePendingTask removes a task that never reached the queue.
	DeletePendingTask(ctx context.Context, taskID string) (bool, error)
	// ListStalePending returns up to limit PENDING tasks last touched
	// before cutoff, oldest first.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]PlaceOrderTask, error)
	// TouchStalePending bumps updated_at to now if the task is still
	// PENDING and older than cutoff. Only one caller wins per cutoff.
	TouchStalePending(ctx context.Context, taskID string, cutoff, now time.Time) (bool, error)
}

// TaskPublisher hands a task to the queue transport.
type TaskPublisher interface {
	PublishTask(ctx context.Context, task PlaceOrderTask) error
}

// ResultCache maps completed task ids to order ids for a bounded time.
type ResultCache interface {
	PutOrderID(ctx context.Context, taskID string, orderID int64, ttl time.Duration) error
	// GetOrderID reports false when the entry is absent or expired.
	GetOrderID(ctx context.Context, taskID string) (int64, bool, error)
}
