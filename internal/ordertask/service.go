package ordertask

import (
	"context"
	"time"

	"flashsaleservice/internal/clock"
	"flashsaleservice/internal/config"
	"flashsaleservice/internal/platform/metrics"
	"flashsaleservice/internal/platform/observability"

	"go.uber.org/zap"
)

// ResultCacheKeyPrefix prefixes task ids in the result cache.
const ResultCacheKeyPrefix = "PLACE_ORDER_TASK_ORDER_ID_KEY_"

// Service is the caller-facing side of the queued place-order pipeline:
// admission (PlaceOrder) and polling (GetPlaceOrderResult).
type Service struct {
	catalog   Catalog
	ids       *IDGenerator
	tasks     TaskStore
	publisher TaskPublisher
	results   ResultCache
	clock     clock.Clock
	metrics   *metrics.Recorder
	logger    observability.Logger
	timeout   time.Duration
}

type ServiceOption func(*Service)

// WithSubmitTimeout bounds the lookup+enqueue part of PlaceOrder.
func WithSubmitTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithServiceMetrics records submission outcomes.
func WithServiceMetrics(r *metrics.Recorder) ServiceOption {
	return func(s *Service) {
		s.metrics = r
	}
}

func NewService(
	catalog Catalog,
	ids *IDGenerator,
	tasks TaskStore,
	publisher TaskPublisher,
	results ResultCache,
	clk clock.Clock,
	logger observability.Logger,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		catalog:   catalog,
		ids:       ids,
		tasks:     tasks,
		publisher: publisher,
		results:   results,
		clock:     clk,
		logger:    logger,
		timeout:   config.SubmitTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceOrder admits an order request and returns the task id to poll. It
// never touches stock; all failures are *Error values.
func (s *Service) PlaceOrder(ctx context.Context, userID int64, cmd *PlaceOrderCommand) (string, error) {
	if userID <= 0 || !cmd.Valid() {
		s.metrics.Submission("invalid")
		return "", ErrInvalidParams
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	item, err := s.catalog.GetItem(ctx, cmd.ItemID)
	if err != nil {
		s.logger.Warn("placeOrder|item lookup failed",
			zap.Int64("user_id", userID),
			zap.Int64("item_id", cmd.ItemID),
			zap.Error(err),
		)
		s.metrics.Submission("item_lookup_failed")
		return "", wrapError(ErrItemLookupFailed, err)
	}
	if item.ActivityID != cmd.ActivityID {
		s.metrics.Submission("invalid")
		return "", ErrInvalidParams
	}
	if !item.OnSale {
		s.metrics.Submission("not_on_sale")
		return "", ErrItemNotOnSale
	}

	taskID := s.ids.TaskID(userID, cmd.ItemID)
	now := s.clock.Now()
	task := PlaceOrderTask{
		TaskID:     taskID,
		UserID:     userID,
		ActivityID: cmd.ActivityID,
		ItemID:     cmd.ItemID,
		Quantity:   cmd.Quantity,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	created, err := s.submit(ctx, task)
	if err != nil {
		s.logger.Error("placeOrder|task submission failed",
			zap.String("task_id", taskID),
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
		s.metrics.Submission("submission_failed")
		return "", wrapError(ErrSubmissionFailed, err)
	}

	if created {
		s.logger.Info("placeOrder|task submitted",
			zap.String("task_id", taskID),
			zap.Int64("user_id", userID),
			zap.Int64("item_id", cmd.ItemID),
			zap.Int("quantity", cmd.Quantity),
		)
		s.metrics.Submission("accepted")
	} else {
		s.logger.Info("placeOrder|duplicate submission coalesced",
			zap.String("task_id", taskID),
			zap.Int64("user_id", userID),
		)
		s.metrics.Submission("duplicate")
	}
	return taskID, nil
}

// submit records the task and, once the record is committed, publishes it,
// so a worker never receives a task it cannot read. A task whose publish
// fails is withdrawn so the caller can retry; if the withdrawal fails too,
// the requeuer picks the task up once it goes stale. An existing task is
// never republished.
func (s *Service) submit(ctx context.Context, task PlaceOrderTask) (bool, error) {
	_, created, err := s.tasks.CreateTask(ctx, task)
	if err != nil || !created {
		return false, err
	}

	if err := s.publisher.PublishTask(ctx, task); err != nil {
		if _, delErr := s.tasks.DeletePendingTask(context.WithoutCancel(ctx), task.TaskID); delErr != nil {
			s.logger.Error("placeOrder|failed to withdraw unpublished task",
				zap.String("task_id", task.TaskID),
				zap.Error(delErr),
			)
		}
		return false, err
	}
	return true, nil
}

// GetPlaceOrderResult reports the outcome of a task. The supplied id must
// match the one derived from (userID, itemID).
func (s *Service) GetPlaceOrderResult(ctx context.Context, userID, itemID int64, taskID string) (TaskResult, error) {
	if s.ids.TaskID(userID, itemID) != taskID {
		return TaskResult{}, ErrTaskIDInvalid
	}

	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		s.logger.Error("getPlaceOrderResult|task lookup failed", zap.String("task_id", taskID), zap.Error(err))
		return TaskResult{}, wrapError(ErrStatusUnavailable, err)
	}
	if task == nil {
		return TaskResult{}, ErrTaskIDInvalid
	}

	result := TaskResult{TaskID: taskID, Status: task.Status}
	if task.Status != StatusSuccess {
		return result, nil
	}

	orderID, ok, err := s.results.GetOrderID(ctx, taskID)
	if err != nil {
		// The store already said SUCCESS; a cache outage only hides the id.
		s.logger.Warn("getPlaceOrderResult|result cache read failed", zap.String("task_id", taskID), zap.Error(err))
		return result, nil
	}
	result.OrderID = orderID
	result.OrderIDCached = ok
	return result, nil
}
