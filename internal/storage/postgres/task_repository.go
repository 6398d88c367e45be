package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flashsaleservice/internal/ordertask"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TaskRepository struct {
	querier
}

func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{querier{pool: pool}}
}

func (r *TaskRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

const selectTask = `
SELECT task_id, user_id, activity_id, item_id, quantity, status, created_at, updated_at
FROM place_order_tasks
WHERE task_id = $1`

// CreateTask inserts task if its id is new. When a concurrent or earlier
// submission already owns the id, the stored row is returned with created
// set to false.
func (r *TaskRepository) CreateTask(ctx context.Context, task ordertask.PlaceOrderTask) (ordertask.PlaceOrderTask, bool, error) {
	const stmt = `
INSERT INTO place_order_tasks (task_id, user_id, activity_id, item_id, quantity, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (task_id) DO NOTHING`

	tag, err := r.exec(ctx, stmt,
		task.TaskID, task.UserID, task.ActivityID, task.ItemID, task.Quantity,
		string(task.Status), task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return ordertask.PlaceOrderTask{}, false, fmt.Errorf("create task: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return task, true, nil
	}

	existing, err := r.GetTask(ctx, task.TaskID)
	if err != nil {
		return ordertask.PlaceOrderTask{}, false, err
	}
	if existing == nil {
		return ordertask.PlaceOrderTask{}, false, fmt.Errorf("create task: %s conflicted but is not visible", task.TaskID)
	}
	return *existing, false, nil
}

func (r *TaskRepository) GetTask(ctx context.Context, taskID string) (*ordertask.PlaceOrderTask, error) {
	return r.getTask(ctx, selectTask, taskID)
}

// LockTask reads the task with FOR UPDATE; ctx must carry a transaction
// for the lock to outlive the statement.
func (r *TaskRepository) LockTask(ctx context.Context, taskID string) (*ordertask.PlaceOrderTask, error) {
	return r.getTask(ctx, selectTask+"\nFOR UPDATE", taskID)
}

func (r *TaskRepository) getTask(ctx context.Context, query, taskID string) (*ordertask.PlaceOrderTask, error) {
	t, err := scanTask(r.queryRow(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &t, nil
}

func scanTask(row pgx.Row) (ordertask.PlaceOrderTask, error) {
	var (
		t      ordertask.PlaceOrderTask
		status string
	)
	if err := row.Scan(&t.TaskID, &t.UserID, &t.ActivityID, &t.ItemID, &t.Quantity, &status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return ordertask.PlaceOrderTask{}, err
	}
	t.Status = ordertask.TaskStatus(status)
	return t, nil
}

// UpdateTaskStatus only moves tasks out of PENDING, so redelivered or
// concurrent handlers cannot overwrite a terminal status.
func (r *TaskRepository) UpdateTaskStatus(ctx context.Context, taskID string, status ordertask.TaskStatus, at time.Time) (bool, error) {
	const stmt = `
UPDATE place_order_tasks
SET status = $2, updated_at = $3
WHERE task_id = $1 AND status = 'PENDING'`

	tag, err := r.exec(ctx, stmt, taskID, string(status), at)
	if err != nil {
		return false, fmt.Errorf("update task status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TaskRepository) DeletePendingTask(ctx context.Context, taskID string) (bool, error) {
	tag, err := r.exec(ctx, `DELETE FROM place_order_tasks WHERE task_id = $1 AND status = 'PENDING'`, taskID)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TaskRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]ordertask.PlaceOrderTask, error) {
	const query = `
SELECT task_id, user_id, activity_id, item_id, quantity, status, created_at, updated_at
FROM place_order_tasks
WHERE status = 'PENDING' AND updated_at < $1
ORDER BY updated_at
LIMIT $2`

	rows, err := r.query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale tasks: %w", err)
	}
	defer rows.Close()

	var out []ordertask.PlaceOrderTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TouchStalePending waits behind a worker holding the row, and then sees
// the status that worker committed.
func (r *TaskRepository) TouchStalePending(ctx context.Context, taskID string, cutoff, now time.Time) (bool, error) {
	const stmt = `
UPDATE place_order_tasks
SET updated_at = $3
WHERE task_id = $1 AND status = 'PENDING' AND updated_at < $2`

	tag, err := r.exec(ctx, stmt, taskID, cutoff, now)
	if err != nil {
		return false, fmt.Errorf("touch task: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
