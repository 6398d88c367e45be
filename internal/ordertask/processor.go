package ordertask

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flashsaleservice/internal/clock"
	"flashsaleservice/internal/config"
	"flashsaleservice/internal/platform/metrics"
	"flashsaleservice/internal/platform/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	errOrderRefused = errors.New("order write refused")
	errTaskMoved    = errors.New("task left PENDING while locked")
)

// Processor turns a queued PlaceOrderTask into a FlashOrder. It is safe to
// call more than once for the same task, even concurrently: each run holds
// the task row, and terminal tasks are skipped.
type Processor struct {
	catalog    Catalog
	stock      StockLedger
	orderIDs   OrderIDGenerator
	orders     OrderWriter
	reconciler Reconciler
	tasks      TaskStore
	results    ResultCache
	clock      clock.Clock
	metrics    *metrics.Recorder
	logger     observability.Logger
	tracer     observability.Tracer
	resultTTL  time.Duration
}

type ProcessorDeps struct {
	Catalog    Catalog
	Stock      StockLedger
	OrderIDs   OrderIDGenerator
	Orders     OrderWriter
	Reconciler Reconciler
	Tasks      TaskStore
	Results    ResultCache
	Clock      clock.Clock
	Metrics    *metrics.Recorder
	Logger     observability.Logger
	Tracer     observability.Tracer
}

func NewProcessor(deps ProcessorDeps) *Processor {
	return &Processor{
		catalog:    deps.Catalog,
		stock:      deps.Stock,
		orderIDs:   deps.OrderIDs,
		orders:     deps.Orders,
		reconciler: deps.Reconciler,
		tasks:      deps.Tasks,
		results:    deps.Results,
		clock:      deps.Clock,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		tracer:     deps.Tracer,
		resultTTL:  config.ResultCacheTTL,
	}
}

// attempt tracks one run over a locked task.
type attempt struct {
	task       PlaceOrderTask
	stockTaken bool
}

// Handle processes one task delivery. The order write and the status change
// commit together under the task's row lock. A non-nil error after the
// lock means processing failed: deducted stock has been returned and the
// task marked FAILED where the store allowed it. The error is returned for
// observability, not for retry.
func (p *Processor) Handle(ctx context.Context, task PlaceOrderTask) (HandleResult, error) {
	ctx, span := p.tracer.Start(ctx, "place_order_task.handle")
	defer span.End()

	span.SetAttributes(
		attribute.String("task.id", task.TaskID),
		attribute.Int64("task.user_id", task.UserID),
		attribute.Int64("task.activity_id", task.ActivityID),
		attribute.Int64("task.item_id", task.ItemID),
		attribute.Int("task.quantity", task.Quantity),
	)

	var (
		att     attempt
		result  HandleResult
		started bool
		runErr  error
	)
	err := p.tasks.WithTx(ctx, func(txCtx context.Context) error {
		stored, err := p.tasks.LockTask(txCtx, task.TaskID)
		if err != nil {
			return fmt.Errorf("lock task %s: %w", task.TaskID, err)
		}
		if stored == nil {
			return ErrTaskIDInvalid
		}
		if stored.Status.Terminal() {
			result = HandleResult{TaskID: task.TaskID, Status: stored.Status, Skipped: true}
			return nil
		}
		// The stored copy is authoritative for everything but the id.
		att.task = *stored
		started = true
		result, runErr = p.process(txCtx, &att)
		return runErr
	})

	switch {
	case !started && err != nil:
		span.RecordError(err)
		if errors.Is(err, ErrTaskIDInvalid) {
			span.SetStatus(codes.Error, "unknown task")
			p.logger.Error("placeOrder|unknown task delivered", zap.String("task_id", task.TaskID))
			return HandleResult{}, err
		}
		span.SetStatus(codes.Error, "task lookup failed")
		p.logger.Error("placeOrder|task lookup failed", zap.String("task_id", task.TaskID), zap.Error(err))
		return HandleResult{}, err
	case result.Skipped:
		p.logger.Info("placeOrder|task already handled, skipping redelivery",
			zap.String("task_id", task.TaskID),
			zap.String("status", string(result.Status)),
		)
		span.SetAttributes(attribute.Bool("task.redelivery", true))
		span.SetStatus(codes.Ok, "task already terminal")
		return result, nil
	case err != nil:
		if runErr == nil && p.committed(ctx, att.task.TaskID, result.Status) {
			p.finish(ctx, span, att.task, result)
			return result, nil
		}
		return p.fail(ctx, span, &att, err)
	}
	p.finish(ctx, span, att.task, result)
	return result, nil
}

// process runs the eligibility checks, the stock deduction and the order
// write inside the task's transaction. A decline is a result, not an error.
func (p *Processor) process(ctx context.Context, att *attempt) (HandleResult, error) {
	task := att.task

	allowed, err := p.catalog.IsActivityAllowPlaceOrder(ctx, task.ActivityID)
	if err != nil || !allowed {
		p.logger.Info("placeOrder|activity rules rejected task",
			zap.String("task_id", task.TaskID),
			zap.Int64("user_id", task.UserID),
			zap.Int64("activity_id", task.ActivityID),
			zap.Error(err),
		)
		return p.decline(ctx, task, CodeActivityNotAllowed)
	}

	allowed, err = p.catalog.IsItemAllowPlaceOrder(ctx, task.ItemID)
	if err != nil || !allowed {
		p.logger.Info("placeOrder|item rules rejected task",
			zap.String("task_id", task.TaskID),
			zap.Int64("user_id", task.UserID),
			zap.Int64("item_id", task.ItemID),
			zap.Error(err),
		)
		return p.decline(ctx, task, CodeItemNotAllowed)
	}

	item, err := p.catalog.GetItem(ctx, task.ItemID)
	if err != nil {
		return HandleResult{}, fmt.Errorf("get item %d: %w", task.ItemID, err)
	}

	orderID, err := p.orderIDs.NextID(ctx)
	if err != nil {
		return HandleResult{}, fmt.Errorf("generate order id: %w", err)
	}
	order := newFlashOrder(task, item, orderID, p.clock.Now())

	decreased, err := p.stock.DecreaseStock(ctx, task.ItemID, task.Quantity)
	if err != nil {
		return HandleResult{}, fmt.Errorf("decrease stock: %w", err)
	}
	if !decreased {
		p.logger.Info("placeOrder|stock decrease refused",
			zap.String("task_id", task.TaskID),
			zap.Int64("user_id", task.UserID),
			zap.Int64("item_id", task.ItemID),
			zap.Int("quantity", task.Quantity),
		)
		return p.decline(ctx, task, CodeInsufficientStock)
	}
	att.stockTaken = true

	placed, err := p.orders.PlaceOrder(ctx, task.UserID, order)
	if err == nil && !placed {
		err = errOrderRefused
	}
	if err != nil {
		return HandleResult{}, fmt.Errorf("place order %d: %w", orderID, err)
	}

	// Status and order commit together; the cache is filled after commit.
	updated, err := p.tasks.UpdateTaskStatus(ctx, task.TaskID, StatusSuccess, p.clock.Now())
	if err != nil {
		return HandleResult{}, fmt.Errorf("mark task succeeded: %w", err)
	}
	if !updated {
		return HandleResult{}, errTaskMoved
	}
	return HandleResult{TaskID: task.TaskID, Status: StatusSuccess, OrderID: orderID}, nil
}

// decline marks the task FAILED for a business reason.
func (p *Processor) decline(ctx context.Context, task PlaceOrderTask, reason ErrorCode) (HandleResult, error) {
	updated, err := p.tasks.UpdateTaskStatus(ctx, task.TaskID, StatusFailed, p.clock.Now())
	if err != nil {
		return HandleResult{}, fmt.Errorf("mark task failed (%s): %w", reason, err)
	}
	if !updated {
		return HandleResult{}, errTaskMoved
	}
	return HandleResult{TaskID: task.TaskID, Status: StatusFailed, Reason: reason}, nil
}

// committed reports whether a transaction whose commit returned an error
// landed anyway.
func (p *Processor) committed(ctx context.Context, taskID string, want TaskStatus) bool {
	stored, err := p.tasks.GetTask(ctx, taskID)
	return err == nil && stored != nil && stored.Status == want
}

// finish runs the steps that follow a committed outcome.
func (p *Processor) finish(ctx context.Context, span trace.Span, task PlaceOrderTask, result HandleResult) {
	if result.Status == StatusFailed {
		span.SetAttributes(attribute.String("task.decline_reason", string(result.Reason)))
		span.SetStatus(codes.Ok, "task declined")
		p.metrics.TaskHandled(string(StatusFailed), string(result.Reason))
		p.logger.Info("placeOrder|task declined",
			zap.String("task_id", task.TaskID),
			zap.Int64("user_id", task.UserID),
			zap.String("reason", string(result.Reason)),
		)
		return
	}

	if err := p.results.PutOrderID(ctx, task.TaskID, result.OrderID, p.resultTTL); err != nil {
		p.logger.Warn("placeOrder|result cache write failed",
			zap.String("task_id", task.TaskID),
			zap.Int64("order_id", result.OrderID),
			zap.Error(err),
		)
	}

	span.SetAttributes(attribute.Int64("order.id", result.OrderID))
	span.SetStatus(codes.Ok, "order placed")
	p.metrics.TaskHandled(string(StatusSuccess), "")
	p.logger.Info("placeOrder|task completed",
		zap.String("task_id", task.TaskID),
		zap.Int64("user_id", task.UserID),
		zap.Int64("order_id", result.OrderID),
	)
}

// fail settles a run whose transaction rolled back. Neither the order nor
// the status change survived, so deducted stock goes back and the task is
// marked FAILED on its own.
func (p *Processor) fail(ctx context.Context, span trace.Span, att *attempt, cause error) (HandleResult, error) {
	task := att.task
	if att.stockTaken {
		p.compensateStock(ctx, task, cause)
	}

	result := HandleResult{TaskID: task.TaskID, Status: StatusFailed, Reason: CodeProcessingFailed}
	updated, err := p.tasks.UpdateTaskStatus(ctx, task.TaskID, StatusFailed, p.clock.Now())
	switch {
	case err != nil:
		// Left PENDING for the requeuer.
		result.Status = StatusPending
		p.logger.Error("placeOrder|failed to mark task FAILED",
			zap.String("task_id", task.TaskID),
			zap.Error(err),
		)
	case !updated:
		// Another delivery settled the task after this run rolled back.
		result.Skipped = true
		if stored, getErr := p.tasks.GetTask(ctx, task.TaskID); getErr == nil && stored != nil {
			result.Status = stored.Status
		}
	}

	span.RecordError(cause)
	span.SetStatus(codes.Error, "place order failed")
	p.metrics.TaskHandled(string(result.Status), string(CodeProcessingFailed))
	p.logger.Error("placeOrder|task processing failed",
		zap.String("task_id", task.TaskID),
		zap.Int64("user_id", task.UserID),
		zap.Error(cause),
	)
	return result, wrapError(ErrProcessingFailed, cause)
}

// compensateStock returns deducted stock after a rolled back run, and falls
// back to a reconciliation record when that fails too.
func (p *Processor) compensateStock(ctx context.Context, task PlaceOrderTask, cause error) {
	err := p.stock.IncreaseStock(ctx, task.ItemID, task.Quantity)
	if err == nil {
		p.metrics.StockCompensation("restored")
		p.logger.Warn("placeOrder|stock restored after rollback",
			zap.String("task_id", task.TaskID),
			zap.Int64("item_id", task.ItemID),
			zap.Int("quantity", task.Quantity),
		)
		return
	}

	p.logger.Error("placeOrder|stock compensation failed",
		zap.String("task_id", task.TaskID),
		zap.Int64("item_id", task.ItemID),
		zap.Int("quantity", task.Quantity),
		zap.Error(err),
	)
	rec := StockReconciliation{
		TaskID:    task.TaskID,
		ItemID:    task.ItemID,
		Quantity:  task.Quantity,
		Reason:    fmt.Sprintf("order not committed: %v; compensation failed: %v", cause, err),
		CreatedAt: p.clock.Now(),
	}
	if p.reconciler == nil {
		p.metrics.StockCompensation("lost")
		return
	}
	if recErr := p.reconciler.RecordStockReconciliation(ctx, rec); recErr != nil {
		p.metrics.StockCompensation("lost")
		p.logger.Error("placeOrder|stock reconciliation record failed",
			zap.String("task_id", task.TaskID),
			zap.Error(recErr),
		)
		return
	}
	p.metrics.StockCompensation("reconciliation")
}
