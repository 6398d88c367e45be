package ordertask

// PlaceOrderTaskHandledEvent is published once a task reaches a terminal
// status.
type PlaceOrderTaskHandledEvent struct {
	TaskID  string     `json:"task_id"`
	UserID  int64      `json:"user_id"`
	ItemID  int64      `json:"item_id"`
	Status  TaskStatus `json:"status"`
	OrderID int64      `json:"order_id,omitempty"`
	Reason  ErrorCode  `json:"reason,omitempty"`
}
