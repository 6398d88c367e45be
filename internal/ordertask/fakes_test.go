package ordertask

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"flashsaleservice/internal/clock"
	"flashsaleservice/internal/platform/metrics"
	"flashsaleservice/internal/resultcache"
	"flashsaleservice/internal/stock"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"
)

var errBoom = errors.New("boom")

var errCommit = errors.New("commit failed")

// fakeTaskStore keeps rows the way a READ COMMITTED database shows them:
// writes stay private to their transaction until commit, and row locks
// taken by LockTask or a write are held until the transaction ends.
type fakeTaskStore struct {
	mu          sync.Mutex
	tasks       map[string]PlaceOrderTask
	rowLocks    map[string]*sync.Mutex
	getErr      error
	deleteErr   error
	updateErr   map[TaskStatus]error
	failCommits int
}

type fakeTx struct {
	// staged holds uncommitted rows; a nil value is a deleted row.
	staged map[string]*PlaceOrderTask
	held   map[string]*sync.Mutex
	undo   []func()
}

type fakeTxKey struct{}

func fakeTxFrom(ctx context.Context) *fakeTx {
	tx, _ := ctx.Value(fakeTxKey{}).(*fakeTx)
	return tx
}

// onRollback registers fn to run if the transaction in ctx rolls back.
func onRollback(ctx context.Context, fn func()) {
	if tx := fakeTxFrom(ctx); tx != nil {
		tx.undo = append(tx.undo, fn)
	}
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{
		tasks:     make(map[string]PlaceOrderTask),
		rowLocks:  make(map[string]*sync.Mutex),
		updateErr: make(map[TaskStatus]error),
	}
}

// failNextCommit makes the next commit report an error and roll back.
func (s *fakeTaskStore) failNextCommit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommits++
}

func (s *fakeTaskStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fakeTxFrom(ctx) != nil {
		return fn(ctx)
	}

	tx := &fakeTx{
		staged: make(map[string]*PlaceOrderTask),
		held:   make(map[string]*sync.Mutex),
	}
	defer func() {
		for _, m := range tx.held {
			m.Unlock()
		}
	}()

	rollback := func() {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
	}
	if err := fn(context.WithValue(ctx, fakeTxKey{}, tx)); err != nil {
		rollback()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCommits > 0 {
		s.failCommits--
		rollback()
		return errCommit
	}
	for id, t := range tx.staged {
		if t == nil {
			delete(s.tasks, id)
			continue
		}
		s.tasks[id] = *t
	}
	return nil
}

// inTx runs fn in the caller's transaction, or in its own one.
func (s *fakeTaskStore) inTx(ctx context.Context, fn func(tx *fakeTx) error) error {
	if tx := fakeTxFrom(ctx); tx != nil {
		return fn(tx)
	}
	return s.WithTx(ctx, func(txCtx context.Context) error {
		return fn(fakeTxFrom(txCtx))
	})
}

func (s *fakeTaskStore) visible(tx *fakeTx, taskID string) (PlaceOrderTask, bool) {
	if tx != nil {
		if t, ok := tx.staged[taskID]; ok {
			if t == nil {
				return PlaceOrderTask{}, false
			}
			return *t, true
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	return t, ok
}

func (s *fakeTaskStore) lockRow(tx *fakeTx, taskID string) {
	if _, ok := tx.held[taskID]; ok {
		return
	}
	s.mu.Lock()
	m, ok := s.rowLocks[taskID]
	if !ok {
		m = &sync.Mutex{}
		s.rowLocks[taskID] = m
	}
	s.mu.Unlock()

	m.Lock()
	tx.held[taskID] = m
}

// lockVisible locks a row the transaction can see and rereads it. Rows
// that are not visible are neither locked nor waited for.
func (s *fakeTaskStore) lockVisible(tx *fakeTx, taskID string) (PlaceOrderTask, bool) {
	if _, ok := s.visible(tx, taskID); !ok {
		return PlaceOrderTask{}, false
	}
	s.lockRow(tx, taskID)
	return s.visible(tx, taskID)
}

func (s *fakeTaskStore) CreateTask(ctx context.Context, task PlaceOrderTask) (PlaceOrderTask, bool, error) {
	var (
		stored  PlaceOrderTask
		created bool
	)
	err := s.inTx(ctx, func(tx *fakeTx) error {
		// Inserts of one key wait for each other, like a unique index.
		s.lockRow(tx, task.TaskID)
		if existing, ok := s.visible(tx, task.TaskID); ok {
			stored = existing
			return nil
		}
		t := task
		tx.staged[task.TaskID] = &t
		stored, created = task, true
		return nil
	})
	return stored, created, err
}

func (s *fakeTaskStore) readErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getErr
}

func (s *fakeTaskStore) GetTask(ctx context.Context, taskID string) (*PlaceOrderTask, error) {
	if err := s.readErr(); err != nil {
		return nil, err
	}
	t, ok := s.visible(fakeTxFrom(ctx), taskID)
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *fakeTaskStore) LockTask(ctx context.Context, taskID string) (*PlaceOrderTask, error) {
	if err := s.readErr(); err != nil {
		return nil, err
	}
	tx := fakeTxFrom(ctx)
	if tx == nil {
		return s.GetTask(ctx, taskID)
	}
	t, ok := s.lockVisible(tx, taskID)
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *fakeTaskStore) UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	err := s.updateErr[status]
	s.mu.Unlock()
	if err != nil {
		return false, err
	}

	var updated bool
	err = s.inTx(ctx, func(tx *fakeTx) error {
		t, ok := s.lockVisible(tx, taskID)
		if !ok || t.Status != StatusPending {
			return nil
		}
		t.Status = status
		t.UpdatedAt = at
		tx.staged[taskID] = &t
		updated = true
		return nil
	})
	return updated, err
}

func (s *fakeTaskStore) DeletePendingTask(ctx context.Context, taskID string) (bool, error) {
	s.mu.Lock()
	err := s.deleteErr
	s.mu.Unlock()
	if err != nil {
		return false, err
	}

	var deleted bool
	err = s.inTx(ctx, func(tx *fakeTx) error {
		t, ok := s.lockVisible(tx, taskID)
		if !ok || t.Status != StatusPending {
			return nil
		}
		tx.staged[taskID] = nil
		deleted = true
		return nil
	})
	return deleted, err
}

func (s *fakeTaskStore) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]PlaceOrderTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PlaceOrderTask
	for _, t := range s.tasks {
		if t.Status == StatusPending && t.UpdatedAt.Before(cutoff) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeTaskStore) TouchStalePending(ctx context.Context, taskID string, cutoff, now time.Time) (bool, error) {
	var touched bool
	err := s.inTx(ctx, func(tx *fakeTx) error {
		t, ok := s.lockVisible(tx, taskID)
		if !ok || t.Status != StatusPending || !t.UpdatedAt.Before(cutoff) {
			return nil
		}
		t.UpdatedAt = now
		tx.staged[taskID] = &t
		touched = true
		return nil
	})
	return touched, err
}

func (s *fakeTaskStore) status(taskID string) TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[taskID].Status
}

type fakeCatalog struct {
	mu              sync.Mutex
	items           map[int64]Item
	getErr          error
	activityAllowed bool
	itemAllowed     bool
	activityErr     error
	gate            *itemGate
}

// itemGate parks the next GetItem call until release is closed.
type itemGate struct {
	entered chan struct{}
	release chan struct{}
}

func (c *fakeCatalog) holdNextGetItem() *itemGate {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gate = &itemGate{entered: make(chan struct{}), release: make(chan struct{})}
	return c.gate
}

func newFakeCatalog(items ...Item) *fakeCatalog {
	c := &fakeCatalog{items: make(map[int64]Item), activityAllowed: true, itemAllowed: true}
	for _, it := range items {
		c.items[it.ID] = it
	}
	return c
}

func (c *fakeCatalog) GetItem(_ context.Context, itemID int64) (Item, error) {
	c.mu.Lock()
	gate := c.gate
	c.gate = nil
	it, ok := c.items[itemID]
	err := c.getErr
	c.mu.Unlock()

	if gate != nil {
		close(gate.entered)
		<-gate.release
	}
	if err != nil {
		return Item{}, err
	}
	if !ok {
		return Item{}, errors.New("flash item not found")
	}
	return it, nil
}

func (c *fakeCatalog) IsActivityAllowPlaceOrder(context.Context, int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activityAllowed, c.activityErr
}

func (c *fakeCatalog) IsItemAllowPlaceOrder(context.Context, int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.itemAllowed, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []PlaceOrderTask
	err       error
	// deliver, when set, hands each published task straight to a worker.
	deliver func(ctx context.Context, task PlaceOrderTask)
}

func (p *fakePublisher) PublishTask(ctx context.Context, task PlaceOrderTask) error {
	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return p.err
	}
	p.published = append(p.published, task)
	deliver := p.deliver
	p.mu.Unlock()

	if deliver != nil {
		deliver(ctx, task)
	}
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

type fakeOrderWriter struct {
	mu     sync.Mutex
	orders []FlashOrder
	err    error
	refuse bool
}

// PlaceOrder joins the task store's transaction in ctx, so a rollback
// removes the order again.
func (w *fakeOrderWriter) PlaceOrder(ctx context.Context, _ int64, order FlashOrder) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return false, w.err
	}
	if w.refuse {
		return false, nil
	}
	for _, o := range w.orders {
		if o.ID == order.ID || o.TaskID == order.TaskID {
			return false, nil
		}
	}
	w.orders = append(w.orders, order)
	onRollback(ctx, func() { w.remove(order.ID) })
	return true, nil
}

func (w *fakeOrderWriter) remove(orderID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	kept := w.orders[:0]
	for _, o := range w.orders {
		if o.ID != orderID {
			kept = append(kept, o)
		}
	}
	w.orders = kept
}

func (w *fakeOrderWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.orders)
}

type fakeReconciler struct {
	mu      sync.Mutex
	records []StockReconciliation
	err     error
}

func (r *fakeReconciler) RecordStockReconciliation(_ context.Context, rec StockReconciliation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, rec)
	return nil
}

// brokenIncrease wraps a ledger whose increments always fail.
type brokenIncrease struct {
	stock.Ledger
}

func (brokenIncrease) IncreaseStock(context.Context, int64, int) error {
	return errBoom
}

type sequenceIDs struct {
	next atomic.Int64
}

func (s *sequenceIDs) NextID(context.Context) (int64, error) {
	return s.next.Add(1), nil
}

type failingCache struct{}

func (failingCache) PutOrderID(context.Context, string, int64, time.Duration) error {
	return errBoom
}

func (failingCache) GetOrderID(context.Context, string) (int64, bool, error) {
	return 0, false, errBoom
}

const (
	testActivityID int64 = 1
	testItemID     int64 = 100
)

var testNow = time.Date(2025, 6, 18, 20, 0, 0, 0, time.UTC)

func testItem() Item {
	return Item{
		ID:         testItemID,
		ActivityID: testActivityID,
		Title:      "Phone",
		FlashPrice: decimal.RequireFromString("99.50"),
		OnSale:     true,
	}
}

// harness wires a Service and a Processor over the same in-memory
// collaborators.
type harness struct {
	clock      *clock.Manual
	catalog    *fakeCatalog
	tasks      *fakeTaskStore
	publisher  *fakePublisher
	cache      *resultcache.Memory
	stock      *stock.Arena
	orders     *fakeOrderWriter
	reconciler *fakeReconciler
	metrics    *metrics.Recorder
	ids        *IDGenerator
	service    *Service
	processor  *Processor
	requeuer   *Requeuer
}

type harnessOption func(*harness, *ProcessorDeps)

// withBrokenIncrease makes every stock compensation fail.
func withBrokenIncrease() harnessOption {
	return func(h *harness, d *ProcessorDeps) { d.Stock = brokenIncrease{Ledger: h.stock} }
}

func withResults(cache ResultCache) harnessOption {
	return func(_ *harness, d *ProcessorDeps) { d.Results = cache }
}

func newHarness(t *testing.T, initialStock int64, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		clock:      clock.NewManual(testNow),
		catalog:    newFakeCatalog(testItem()),
		tasks:      newFakeTaskStore(),
		publisher:  &fakePublisher{},
		stock:      stock.NewArena(),
		orders:     &fakeOrderWriter{},
		reconciler: &fakeReconciler{},
		metrics:    metrics.NewRecorder(),
		ids:        NewIDGenerator("test-secret"),
	}
	h.cache = resultcache.NewMemory(h.clock)
	if err := h.stock.Seed(context.Background(), testItemID, initialStock); err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	logger := zaptest.NewLogger(t)
	deps := ProcessorDeps{
		Catalog:    h.catalog,
		Stock:      h.stock,
		OrderIDs:   &sequenceIDs{},
		Orders:     h.orders,
		Reconciler: h.reconciler,
		Tasks:      h.tasks,
		Results:    h.cache,
		Clock:      h.clock,
		Metrics:    h.metrics,
		Logger:     logger,
		Tracer:     noop.NewTracerProvider().Tracer("test"),
	}
	for _, opt := range opts {
		opt(h, &deps)
	}

	h.processor = NewProcessor(deps)
	h.service = NewService(h.catalog, h.ids, h.tasks, h.publisher, deps.Results, h.clock, logger,
		WithServiceMetrics(h.metrics))
	h.requeuer = NewRequeuer(h.tasks, h.publisher, h.clock, logger, WithRequeueMetrics(h.metrics))
	return h
}

// submit places an order for userID and returns the queued task.
func (h *harness) submit(t *testing.T, userID int64, quantity int) PlaceOrderTask {
	t.Helper()
	taskID, err := h.service.PlaceOrder(context.Background(), userID, &PlaceOrderCommand{
		ActivityID: testActivityID,
		ItemID:     testItemID,
		Quantity:   quantity,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	task, err := h.tasks.GetTask(context.Background(), taskID)
	if err != nil || task == nil {
		t.Fatalf("task %s not stored: %v", taskID, err)
	}
	return *task
}

func (h *harness) available(t *testing.T) int64 {
	t.Helper()
	n, err := h.stock.Available(context.Background(), testItemID)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	return n
}
