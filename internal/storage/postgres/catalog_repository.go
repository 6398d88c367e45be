package postgres

import (
	"context"
	"errors"
	"fmt"

	"flashsaleservice/internal/catalog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type CatalogRepository struct {
	querier
}

func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{querier{pool: pool}}
}

func (r *CatalogRepository) GetActivity(ctx context.Context, activityID int64) (catalog.Activity, error) {
	const query = `
SELECT id, title, status, start_time, end_time
FROM flash_activities
WHERE id = $1`

	var (
		a      catalog.Activity
		status string
	)
	err := r.queryRow(ctx, query, activityID).Scan(&a.ID, &a.Title, &status, &a.StartTime, &a.EndTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Activity{}, catalog.ErrActivityNotFound
		}
		return catalog.Activity{}, fmt.Errorf("get activity: %w", err)
	}
	a.Status = catalog.Status(status)
	return a, nil
}

const itemColumns = `id, activity_id, title, flash_price::text, status, initial_stock, available_stock, start_time, end_time`

func (r *CatalogRepository) GetItem(ctx context.Context, itemID int64) (catalog.Item, error) {
	item, err := scanItem(r.queryRow(ctx, `SELECT `+itemColumns+` FROM flash_items WHERE id = $1`, itemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Item{}, catalog.ErrItemNotFound
		}
		return catalog.Item{}, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

func (r *CatalogRepository) ListOnlineItems(ctx context.Context) ([]catalog.Item, error) {
	rows, err := r.query(ctx, `SELECT `+itemColumns+` FROM flash_items WHERE status = 'online' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list online items: %w", err)
	}
	defer rows.Close()

	var items []catalog.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanItem(row pgx.Row) (catalog.Item, error) {
	var (
		i      catalog.Item
		price  string
		status string
	)
	if err := row.Scan(&i.ID, &i.ActivityID, &i.Title, &price, &status,
		&i.InitialStock, &i.AvailableStock, &i.StartTime, &i.EndTime); err != nil {
		return catalog.Item{}, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return catalog.Item{}, fmt.Errorf("parse flash price %q: %w", price, err)
	}
	i.FlashPrice = p
	i.Status = catalog.Status(status)
	return i, nil
}
