package postgres

import (
	"context"
	"fmt"

	"flashsaleservice/internal/ordertask"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type OrderRepository struct {
	querier
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{querier{pool: pool}}
}

// PlaceOrder inserts order. It reports false when an order with the same id
// or for the same task already exists.
func (r *OrderRepository) PlaceOrder(ctx context.Context, userID int64, order ordertask.FlashOrder) (bool, error) {
	const stmt = `
INSERT INTO flash_orders (id, task_id, user_id, activity_id, item_id, item_title, flash_price, quantity, total_amount, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9::numeric, $10)
ON CONFLICT DO NOTHING`

	tag, err := r.exec(ctx, stmt,
		order.ID, order.TaskID, userID, order.ActivityID, order.ItemID, order.ItemTitle,
		order.FlashPrice.String(), order.Quantity, order.TotalAmount.String(), order.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("place order: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *OrderRepository) GetOrder(ctx context.Context, orderID int64) (ordertask.FlashOrder, error) {
	const query = `
SELECT id, COALESCE(task_id, ''), user_id, activity_id, item_id, item_title, flash_price::text, quantity, total_amount::text, created_at
FROM flash_orders
WHERE id = $1`

	var (
		o            ordertask.FlashOrder
		price, total string
	)
	err := r.queryRow(ctx, query, orderID).Scan(&o.ID, &o.TaskID, &o.UserID, &o.ActivityID, &o.ItemID,
		&o.ItemTitle, &price, &o.Quantity, &total, &o.CreatedAt)
	if err != nil {
		return ordertask.FlashOrder{}, fmt.Errorf("get order: %w", err)
	}
	if o.FlashPrice, err = decimal.NewFromString(price); err != nil {
		return ordertask.FlashOrder{}, fmt.Errorf("parse flash price: %w", err)
	}
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return ordertask.FlashOrder{}, fmt.Errorf("parse total amount: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) RecordStockReconciliation(ctx context.Context, rec ordertask.StockReconciliation) error {
	const stmt = `
INSERT INTO stock_reconciliations (task_id, item_id, quantity, reason, created_at)
VALUES ($1, $2, $3, $4, $5)`

	if _, err := r.exec(ctx, stmt, rec.TaskID, rec.ItemID, rec.Quantity, rec.Reason, rec.CreatedAt); err != nil {
		return fmt.Errorf("record stock reconciliation: %w", err)
	}
	return nil
}

// PendingReconciliations lists unresolved reconciliation records, oldest first.
func (r *OrderRepository) PendingReconciliations(ctx context.Context) ([]ordertask.StockReconciliation, error) {
	rows, err := r.query(ctx, `
SELECT task_id, item_id, quantity, reason, created_at
FROM stock_reconciliations
WHERE NOT resolved
ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list reconciliations: %w", err)
	}
	defer rows.Close()

	var out []ordertask.StockReconciliation
	for rows.Next() {
		var rec ordertask.StockReconciliation
		if err := rows.Scan(&rec.TaskID, &rec.ItemID, &rec.Quantity, &rec.Reason, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reconciliation: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
