package ordertask

import (
	"time"

	"github.com/shopspring/decimal"
)

// TaskStatus is the lifecycle state of a PlaceOrderTask.
type TaskStatus string

const (
	StatusPending TaskStatus = "PENDING"
	StatusSuccess TaskStatus = "SUCCESS"
	StatusFailed  TaskStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s TaskStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// PlaceOrderCommand is what a caller submits to buy a flash item.
type PlaceOrderCommand struct {
	ActivityID int64 `json:"activity_id"`
	ItemID     int64 `json:"item_id"`
	Quantity   int   `json:"quantity"`
}

// Valid reports whether the command is structurally complete.
func (c *PlaceOrderCommand) Valid() bool {
	return c != nil && c.ActivityID > 0 && c.ItemID > 0 && c.Quantity > 0
}

// PlaceOrderTask is one user's intent to buy Quantity of ItemID. TaskID is a
// function of (UserID, ItemID) so at most one task exists per pair.
type PlaceOrderTask struct {
	TaskID     string     `json:"task_id"`
	UserID     int64      `json:"user_id"`
	ActivityID int64      `json:"activity_id"`
	ItemID     int64      `json:"item_id"`
	Quantity   int        `json:"quantity"`
	Status     TaskStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// FlashOrder is the domain order handed to the order writer.
type FlashOrder struct {
	ID          int64
	TaskID      string
	UserID      int64
	ActivityID  int64
	ItemID      int64
	ItemTitle   string
	FlashPrice  decimal.Decimal
	Quantity    int
	TotalAmount decimal.Decimal
	CreatedAt   time.Time
}

func newFlashOrder(task PlaceOrderTask, item Item, orderID int64, now time.Time) FlashOrder {
	return FlashOrder{
		ID:          orderID,
		TaskID:      task.TaskID,
		UserID:      task.UserID,
		ActivityID:  task.ActivityID,
		ItemID:      task.ItemID,
		ItemTitle:   item.Title,
		FlashPrice:  item.FlashPrice,
		Quantity:    task.Quantity,
		TotalAmount: item.FlashPrice.Mul(decimal.NewFromInt(int64(task.Quantity))),
		CreatedAt:   now,
	}
}

// StockReconciliation records stock that was deducted for an order that
// could not be written and could not be given back.
type StockReconciliation struct {
	TaskID    string
	ItemID    int64
	Quantity  int
	Reason    string
	CreatedAt time.Time
}

// TaskResult is what a polling client learns about its task.
type TaskResult struct {
	TaskID string
	Status TaskStatus
	// OrderID is only meaningful when OrderIDCached is true.
	OrderID       int64
	OrderIDCached bool
}

// HandleResult describes how the processor left a task.
type HandleResult struct {
	TaskID  string
	Status  TaskStatus
	OrderID int64
	// Reason is empty on success.
	Reason ErrorCode
	// Skipped is set when another delivery settled the task.
	Skipped bool
}
