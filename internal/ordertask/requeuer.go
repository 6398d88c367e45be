package ordertask

import (
	"context"
	"fmt"
	"time"

	"flashsaleservice/internal/clock"
	"flashsaleservice/internal/config"
	"flashsaleservice/internal/platform/metrics"
	"flashsaleservice/internal/platform/observability"

	"go.uber.org/zap"
)

// Requeuer republishes PENDING tasks that have not moved for a while:
// deliveries the transport dropped, runs that rolled back without settling
// the task, and submissions whose withdrawal failed.
type Requeuer struct {
	tasks      TaskStore
	publisher  TaskPublisher
	clock      clock.Clock
	metrics    *metrics.Recorder
	logger     observability.Logger
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
}

type RequeuerOption func(*Requeuer)

// WithRequeueInterval sets how often Start sweeps.
func WithRequeueInterval(d time.Duration) RequeuerOption {
	return func(r *Requeuer) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithRequeueMetrics(m *metrics.Recorder) RequeuerOption {
	return func(r *Requeuer) {
		r.metrics = m
	}
}

func NewRequeuer(tasks TaskStore, publisher TaskPublisher, clk clock.Clock, logger observability.Logger, opts ...RequeuerOption) *Requeuer {
	r := &Requeuer{
		tasks:      tasks,
		publisher:  publisher,
		clock:      clk,
		logger:     logger,
		interval:   config.RequeueInterval,
		staleAfter: config.StaleTaskAge,
		batchSize:  config.RequeueBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start sweeps for stale tasks until ctx is done.
func (r *Requeuer) Start(ctx context.Context) error {
	r.logger.Info("Requeuer started", zap.Duration("interval", r.interval), zap.Duration("stale_after", r.staleAfter))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Context done, stopping requeuer.")
			return nil
		case <-ticker.C:
			if _, err := r.RequeueStale(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("❌ Stale task sweep failed", zap.Error(err))
			}
		}
	}
}

// RequeueStale republishes one batch of stale PENDING tasks and returns how
// many went out. Each task is touched before it is published, so
// concurrent sweepers never publish the same task for the same cutoff.
func (r *Requeuer) RequeueStale(ctx context.Context) (int, error) {
	now := r.clock.Now()
	cutoff := now.Add(-r.staleAfter)

	stale, err := r.tasks.ListStalePending(ctx, cutoff, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale tasks: %w", err)
	}

	requeued := 0
	for _, task := range stale {
		touched, err := r.tasks.TouchStalePending(ctx, task.TaskID, cutoff, now)
		if err != nil {
			return requeued, fmt.Errorf("touch task %s: %w", task.TaskID, err)
		}
		if !touched {
			continue
		}
		if err := r.publisher.PublishTask(ctx, task); err != nil {
			// Touched already; the next attempt waits another staleAfter.
			r.metrics.Requeue("publish_failed")
			r.logger.Warn("requeue|failed to republish stale task",
				zap.String("task_id", task.TaskID),
				zap.Error(err),
			)
			continue
		}
		requeued++
		r.metrics.Requeue("published")
		r.logger.Info("requeue|stale task republished",
			zap.String("task_id", task.TaskID),
			zap.Time("last_update", task.UpdatedAt),
		)
	}
	return requeued, nil
}
