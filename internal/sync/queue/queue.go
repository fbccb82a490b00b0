// Package queue provides the durable retry queue for offline operations.
// Items live in SQLite so an unplugged register never loses a sale; the
// queue layer owns dispatch order, exponential backoff, and retry timers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tillsync-io/tillsync/internal/errors"
	"github.com/tillsync-io/tillsync/internal/events"
	"github.com/tillsync-io/tillsync/internal/logging"
	"github.com/tillsync-io/tillsync/internal/models"
)

// Store is the persistence layer the queue runs on. Implemented by
// db.Repository. Store errors are fatal and propagate to callers.
type Store interface {
	CreateQueueItem(item *models.QueueItem) error
	GetQueueItem(id models.UUID) (*models.QueueItem, error)
	UpdateQueueItem(item *models.QueueItem) error
	DeleteQueueItem(id models.UUID) error
	ListQueueItems(status models.QueueStatus, limit int) ([]*models.QueueItem, error)
	ListDispatchable(now int64) ([]*models.QueueItem, error)
	CountLiveQueueItems() (int, error)
	OldestPendingInLowestTier() (*models.QueueItem, error)
	QueueCounts() (map[models.QueueStatus]int, error)
	OldestPendingCreatedAt() (int64, error)
	PendingCountsByPriority() (map[models.Priority]int, error)
	DeleteTerminalOlderThan(cutoff int64) (int, error)
}

// Executor sends one item to the backend. A nil return means the backend
// accepted the operation; any error is absorbed into the item's retry state.
type Executor interface {
	Execute(ctx context.Context, item *models.QueueItem) error
}

// Reachability gates dispatch. Implemented by connectivity.Monitor.
type Reachability interface {
	Usable() bool
}

// CancelFunc stops an armed retry timer. Reports whether the timer was
// still pending.
type CancelFunc func() bool

// Scheduler arms cancellable one-shot timers. Injected so tests control
// time.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) CancelFunc
}

// TimerScheduler is the production Scheduler backed by time.AfterFunc.
type TimerScheduler struct{}

func (TimerScheduler) AfterFunc(d time.Duration, fn func()) CancelFunc {
	return time.AfterFunc(d, fn).Stop
}

// Config holds queue configuration.
type Config struct {
	Capacity    int           // Max live items before eviction (default: 1000)
	BatchSize   int           // Items dispatched per batch (default: 10)
	BatchPause  time.Duration // Pause between batches (default: 500ms)
	BaseDelay   time.Duration // Backoff base (default: 1s)
	MaxAttempts int           // Attempts before an item fails (default: 5)
	Scheduler   Scheduler     // Retry timers (default: TimerScheduler)
}

// DefaultConfig returns default queue configuration.
func DefaultConfig() *Config {
	return &Config{
		Capacity:    1000,
		BatchSize:   10,
		BatchPause:  500 * time.Millisecond,
		BaseDelay:   time.Second,
		MaxAttempts: 5,
		Scheduler:   TimerScheduler{},
	}
}

// PassSummary describes one drain pass.
type PassSummary struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Stats is a point-in-time queue snapshot.
type Stats struct {
	Total             int                        `json:"total"`
	ByStatus          map[models.QueueStatus]int `json:"by_status"`
	PendingByPriority map[string]int             `json:"pending_by_priority"`
	OldestPendingAge  int64                      `json:"oldest_pending_age_seconds"`
}

// Queue manages pending sync operations with retry logic.
type Queue struct {
	store Store
	exec  Executor
	reach Reachability
	bus   *events.Bus

	capacity    int
	batchSize   int
	batchPause  time.Duration
	baseDelay   time.Duration
	maxAttempts int
	scheduler   Scheduler

	mu         sync.Mutex
	processing bool
	closed     bool
	inFlight   map[models.UUID]bool
	timers     map[models.UUID]CancelFunc
	wg         sync.WaitGroup
}

// NewQueue creates a Queue over the given store, executor, and
// reachability gate.
func NewQueue(store Store, exec Executor, reach Reachability, bus *events.Bus, config *Config) *Queue {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Capacity <= 0 {
		config.Capacity = 1000
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	if config.BatchPause <= 0 {
		config.BatchPause = 500 * time.Millisecond
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.Scheduler == nil {
		config.Scheduler = TimerScheduler{}
	}

	return &Queue{
		store:       store,
		exec:        exec,
		reach:       reach,
		bus:         bus,
		capacity:    config.Capacity,
		batchSize:   config.BatchSize,
		batchPause:  config.BatchPause,
		baseDelay:   config.BaseDelay,
		maxAttempts: config.MaxAttempts,
		scheduler:   config.Scheduler,
		inFlight:    make(map[models.UUID]bool),
		timers:      make(map[models.UUID]CancelFunc),
	}
}

// EnqueueOption overrides per-item defaults.
type EnqueueOption func(*models.QueueItem)

// WithPriority sets the item's dispatch priority.
func WithPriority(p models.Priority) EnqueueOption {
	return func(item *models.QueueItem) {
		item.Priority = p
	}
}

// WithMaxAttempts sets how many times the item may be attempted.
func WithMaxAttempts(n int) EnqueueOption {
	return func(item *models.QueueItem) {
		item.MaxAttempts = n
	}
}

// =====================================================
// Enqueue
// =====================================================

// Enqueue persists a new operation at the back of its priority tier.
// When the queue is at capacity the oldest pending item in the least
// urgent tier is evicted first; with nothing evictable the enqueue is
// rejected with QUEUE_FULL.
func (q *Queue) Enqueue(ctx context.Context, opType models.OpType, payload json.RawMessage, opts ...EnqueueOption) (*models.QueueItem, error) {
	if !opType.Valid() {
		return nil, errors.New(errors.ErrInvalid, fmt.Sprintf("unknown operation type %q", opType))
	}

	item := &models.QueueItem{
		Type:        opType,
		Payload:     append(json.RawMessage(nil), payload...),
		Priority:    models.PriorityMedium,
		Status:      models.StatusPending,
		MaxAttempts: q.maxAttempts,
	}
	for _, opt := range opts {
		opt(item)
	}
	if !item.Priority.Valid() {
		return nil, errors.New(errors.ErrInvalid, fmt.Sprintf("invalid priority %d", item.Priority))
	}

	// Capacity check, eviction, and insert are serialized so two racing
	// enqueues cannot both squeeze past the limit
	q.mu.Lock()
	defer q.mu.Unlock()

	live, err := q.store.CountLiveQueueItems()
	if err != nil {
		return nil, err
	}
	if live >= q.capacity {
		victim, err := q.store.OldestPendingInLowestTier()
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				return nil, errors.New(errors.ErrQueueFull,
					fmt.Sprintf("queue is full (capacity %d) and nothing is evictable", q.capacity))
			}
			return nil, err
		}
		if err := q.store.DeleteQueueItem(victim.ID); err != nil {
			return nil, err
		}
		logging.Warn("Queue at capacity, evicted oldest pending item",
			map[string]interface{}{
				"evicted_id":       string(victim.ID),
				"evicted_priority": victim.Priority.String(),
				"capacity":         q.capacity,
			})
	}

	if err := q.store.CreateQueueItem(item); err != nil {
		return nil, err
	}

	logging.Debug("Enqueued operation",
		map[string]interface{}{
			"item_id":  string(item.ID),
			"op_type":  string(item.Type),
			"priority": item.Priority.String(),
		})

	q.emit(events.TypeItemAdded, item.Clone())
	return item, nil
}

// =====================================================
// Process
// =====================================================

// Process runs one drain pass: load everything dispatchable, send it in
// priority order in small batches, pausing between batches. At most one
// pass runs at a time; a second call during an active pass returns
// immediately. Nothing is dispatched while the backend is unreachable.
func (q *Queue) Process(ctx context.Context) error {
	q.mu.Lock()
	if q.closed || q.processing {
		q.mu.Unlock()
		return nil
	}
	if !q.reach.Usable() {
		q.mu.Unlock()
		return nil
	}
	q.processing = true
	q.wg.Add(1)
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.processing = false
		q.mu.Unlock()
		q.wg.Done()
	}()

	items, err := q.store.ListDispatchable(time.Now().Unix())
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	summary := PassSummary{Total: len(items)}
	q.emit(events.TypeProcessingStarted, summary)
	logging.Info("Processing queue", map[string]interface{}{"count": len(items)})

drain:
	for start := 0; start < len(items); start += q.batchSize {
		if start > 0 {
			select {
			case <-ctx.Done():
				break drain
			case <-time.After(q.batchPause):
			}
		}

		// Connectivity can vanish mid-drain; stop instead of burning attempts
		if !q.reach.Usable() {
			logging.Info("Backend unreachable mid-drain, aborting pass",
				map[string]interface{}{"processed": summary.Processed})
			break
		}

		end := start + q.batchSize
		if end > len(items) {
			end = len(items)
		}
		for _, item := range items[start:end] {
			if ctx.Err() != nil {
				break drain
			}
			if err := q.processItem(ctx, item, &summary); err != nil {
				q.emit(events.TypeProcessingCompleted, summary)
				return err
			}
		}
	}

	q.emit(events.TypeProcessingCompleted, summary)
	logging.Info("Queue pass completed",
		map[string]interface{}{
			"processed": summary.Processed,
			"succeeded": summary.Succeeded,
			"failed":    summary.Failed,
		})
	return nil
}

// processItem dispatches one item. Executor failures become state
// transitions; only store failures return an error.
func (q *Queue) processItem(ctx context.Context, stale *models.QueueItem, summary *PassSummary) error {
	// The loaded snapshot may be outdated: the item can have been
	// cancelled or evicted since the pass started
	item, err := q.store.GetQueueItem(stale.ID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil
		}
		return err
	}
	if item.Status != models.StatusPending && item.Status != models.StatusRetryScheduled {
		return nil
	}

	item.Status = models.StatusProcessing
	if err := q.store.UpdateQueueItem(item); err != nil {
		return err
	}

	q.mu.Lock()
	q.inFlight[item.ID] = true
	q.mu.Unlock()

	execErr := q.exec.Execute(ctx, item)

	q.mu.Lock()
	delete(q.inFlight, item.ID)
	q.mu.Unlock()

	summary.Processed++

	if execErr == nil {
		// Done items leave the table immediately; history lives in the
		// domain rows, not the queue
		if err := q.store.DeleteQueueItem(item.ID); err != nil {
			return err
		}
		summary.Succeeded++
		item.Status = models.StatusSucceeded
		q.emit(events.TypeItemSucceeded, item.Clone())
		logging.Debug("Queue item succeeded",
			map[string]interface{}{"item_id": string(item.ID), "op_type": string(item.Type)})
		return nil
	}

	item.Attempt++
	item.LastError = execErr.Error()

	if item.Attempt >= item.MaxAttempts {
		item.Status = models.StatusFailed
		item.NextRetryAt = 0
		if err := q.store.UpdateQueueItem(item); err != nil {
			return err
		}
		summary.Failed++
		q.emit(events.TypeItemFailed, item.Clone())
		logging.Warn("Queue item failed permanently",
			map[string]interface{}{
				"item_id":  string(item.ID),
				"op_type":  string(item.Type),
				"attempts": item.Attempt,
				"error":    item.LastError,
			})
		return nil
	}

	delay := q.backoffDelay(item.Attempt)
	item.Status = models.StatusRetryScheduled
	item.NextRetryAt = time.Now().Add(delay).Unix()
	if err := q.store.UpdateQueueItem(item); err != nil {
		return err
	}
	q.emit(events.TypeItemRetryScheduled, item.Clone())
	logging.Debug("Queue item retry scheduled",
		map[string]interface{}{
			"item_id":  string(item.ID),
			"attempt":  item.Attempt,
			"delay_ms": delay.Milliseconds(),
		})
	q.armTimer(item.ID, delay)
	return nil
}

// backoffDelay doubles per attempt: 2s, 4s, 8s, 16s, 32s off a 1s base.
func (q *Queue) backoffDelay(attempt int) time.Duration {
	return q.baseDelay * (1 << uint(attempt))
}

// armTimer schedules a Process trigger for when an item's retry is due.
func (q *Queue) armTimer(id models.UUID, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	if cancel, ok := q.timers[id]; ok {
		cancel()
	}
	q.timers[id] = q.scheduler.AfterFunc(delay, func() {
		q.onRetryDue(id, delay)
	})
}

// onRetryDue fires when a retry timer lands. Offline timers re-arm at the
// same delay; the backoff only grows on real attempts.
func (q *Queue) onRetryDue(id models.UUID, delay time.Duration) {
	q.mu.Lock()
	delete(q.timers, id)
	closed := q.closed
	q.mu.Unlock()

	if closed {
		return
	}

	if !q.reach.Usable() {
		q.armTimer(id, delay)
		return
	}

	if err := q.Process(context.Background()); err != nil {
		logging.Error("Retry-triggered pass failed", err,
			map[string]interface{}{"item_id": string(id)})
	}
}

// =====================================================
// Item management
// =====================================================

// Get returns one item by ID.
func (q *Queue) Get(ctx context.Context, id models.UUID) (*models.QueueItem, error) {
	return q.store.GetQueueItem(id)
}

// List returns items in dispatch order, filtered by status when one is
// given.
func (q *Queue) List(ctx context.Context, status models.QueueStatus, limit int) ([]*models.QueueItem, error) {
	return q.store.ListQueueItems(status, limit)
}

// Retry resets a failed item to pending with a fresh attempt budget, then
// kicks a best-effort pass.
func (q *Queue) Retry(ctx context.Context, id models.UUID) error {
	item, err := q.store.GetQueueItem(id)
	if err != nil {
		return err
	}
	if item.Status != models.StatusFailed {
		return errors.New(errors.ErrItemNotFailed,
			fmt.Sprintf("item is %s, only failed items can be retried", item.Status))
	}

	q.resetForRetry(item)
	if err := q.store.UpdateQueueItem(item); err != nil {
		return err
	}

	logging.Info("Queue item reset for retry",
		map[string]interface{}{"item_id": string(id)})

	if err := q.Process(ctx); err != nil {
		logging.Error("Pass after retry failed", err, nil)
	}
	return nil
}

// RetryAllFailed resets every failed item, then runs one pass. Returns how
// many items were reset.
func (q *Queue) RetryAllFailed(ctx context.Context) (int, error) {
	items, err := q.store.ListQueueItems(models.StatusFailed, 0)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, item := range items {
		q.resetForRetry(item)
		if err := q.store.UpdateQueueItem(item); err != nil {
			return count, err
		}
		count++
	}

	if count > 0 {
		logging.Info("Reset failed items for retry",
			map[string]interface{}{"count": count})
		if err := q.Process(ctx); err != nil {
			logging.Error("Pass after retry-all failed", err, nil)
		}
	}
	return count, nil
}

func (q *Queue) resetForRetry(item *models.QueueItem) {
	item.Status = models.StatusPending
	item.Attempt = 0
	item.NextRetryAt = 0
	item.LastError = ""
}

// Cancel marks an item cancelled and disarms its retry timer. An item that
// is mid-execution cannot be cancelled.
func (q *Queue) Cancel(ctx context.Context, id models.UUID) error {
	q.mu.Lock()
	if q.inFlight[id] {
		q.mu.Unlock()
		return errors.New(errors.ErrItemInFlight, "item is being sent right now")
	}
	cancelTimer := q.timers[id]
	delete(q.timers, id)
	q.mu.Unlock()

	if cancelTimer != nil {
		cancelTimer()
	}

	item, err := q.store.GetQueueItem(id)
	if err != nil {
		return err
	}
	if item.IsTerminal() {
		return errors.New(errors.ErrItemTerminal,
			fmt.Sprintf("item is already %s", item.Status))
	}

	item.Status = models.StatusCancelled
	if err := q.store.UpdateQueueItem(item); err != nil {
		return err
	}

	logging.Info("Queue item cancelled",
		map[string]interface{}{"item_id": string(id)})
	return nil
}

// Stats returns queue statistics.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	counts, err := q.store.QueueCounts()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		ByStatus:          counts,
		PendingByPriority: make(map[string]int),
	}
	for _, c := range counts {
		stats.Total += c
	}

	oldest, err := q.store.OldestPendingCreatedAt()
	if err != nil {
		return Stats{}, err
	}
	if oldest > 0 {
		stats.OldestPendingAge = time.Now().Unix() - oldest
	}

	byPriority, err := q.store.PendingCountsByPriority()
	if err != nil {
		return Stats{}, err
	}
	for p, c := range byPriority {
		stats.PendingByPriority[p.String()] = c
	}

	return stats, nil
}

// Cleanup deletes terminal items older than maxAge. A non-positive maxAge
// uses 30 days.
func (q *Queue) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	cutoff := time.Now().Add(-maxAge).Unix()

	removed, err := q.store.DeleteTerminalOlderThan(cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		logging.Info("Cleaned up terminal queue items",
			map[string]interface{}{"removed": removed})
	}
	return removed, nil
}

// Close disarms all retry timers and waits for an in-flight pass to land.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for id, cancel := range q.timers {
		cancel()
		delete(q.timers, id)
	}
	q.mu.Unlock()

	q.wg.Wait()
	logging.Info("Queue closed", nil)
}

func (q *Queue) emit(t events.Type, data interface{}) {
	if q.bus != nil {
		q.bus.Emit(t, data)
	}
}
