// Package sync coordinates the local store, the retry queue, and the
// remote backend into the register's sale and synchronization flows.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/tillsync-io/tillsync/internal/connectivity"
	apperrors "github.com/tillsync-io/tillsync/internal/errors"
	"github.com/tillsync-io/tillsync/internal/events"
	"github.com/tillsync-io/tillsync/internal/logging"
	"github.com/tillsync-io/tillsync/internal/models"
	"github.com/tillsync-io/tillsync/internal/remote"
	"github.com/tillsync-io/tillsync/internal/sync/queue"
	"github.com/tillsync-io/tillsync/internal/uuid"
)

// =====================================================
// Interfaces
// =====================================================

// Store is the slice of the local database the orchestrator works with.
type Store interface {
	UpsertCategory(c *models.Category) error
	CategoryHashes() (map[models.UUID]string, error)
	UpsertProduct(p *models.Product) error
	ProductHashes() (map[models.UUID]string, error)
	UpsertCustomer(c *models.Customer) error
	CustomerHashes() (map[models.UUID]string, error)
	CreateReceipt(receipt *models.Receipt) error
	ListUnsyncedReceipts(limit int) ([]*models.Receipt, error)
	MarkReceiptSynced(id models.UUID, at time.Time) error
	CountUnsyncedReceipts() (int, error)
}

// Backend is the slice of the remote client the orchestrator works with.
type Backend interface {
	GetCategories(ctx context.Context) ([]models.Category, error)
	GetProducts(ctx context.Context) ([]models.Product, error)
	GetCustomers(ctx context.Context) ([]models.Customer, error)
	SubmitSale(ctx context.Context, payload json.RawMessage) error
	Configured() bool
}

// Monitor reports whether the backend is worth talking to.
type Monitor interface {
	Usable() bool
	State() connectivity.State
}

// OpQueue is the durable retry queue operations fall back to.
type OpQueue interface {
	Enqueue(ctx context.Context, opType models.OpType, payload json.RawMessage, opts ...queue.EnqueueOption) (*models.QueueItem, error)
	Process(ctx context.Context) error
	Stats(ctx context.Context) (queue.Stats, error)
}

// =====================================================
// Run results
// =====================================================

// RunStatus classifies the outcome of a full sync run.
type RunStatus string

const (
	RunCompleted      RunStatus = "completed"
	RunPartial        RunStatus = "partial"
	RunSkippedOffline RunStatus = "skipped_offline"
	RunFailed         RunStatus = "failed"
)

// StageResult counts what one pull stage did.
type StageResult struct {
	Fetched int `json:"fetched"`
	Written int `json:"written"`
	Skipped int `json:"skipped"`
}

// RunResult describes one full sync run. It is a plain value; copies
// handed to subscribers share no state with the orchestrator.
type RunResult struct {
	Status         RunStatus     `json:"status"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	Duration       time.Duration `json:"duration"`
	Categories     StageResult   `json:"categories"`
	Products       StageResult   `json:"products"`
	Customers      StageResult   `json:"customers"`
	ReceiptsPushed int           `json:"receipts_pushed"`
	QueueDrained   bool          `json:"queue_drained"`
	Error          string        `json:"error,omitempty"`
}

// Status is the composite snapshot served to operators.
type Status struct {
	Connectivity     connectivity.State `json:"connectivity"`
	Queue            queue.Stats        `json:"queue"`
	LastRun          *RunResult         `json:"last_run,omitempty"`
	Syncing          bool               `json:"syncing"`
	UnsyncedReceipts int                `json:"unsynced_receipts"`
	Configured       bool               `json:"configured"`
}

// =====================================================
// Orchestrator
// =====================================================

// Config holds orchestrator configuration.
type Config struct {
	CriticalSaleThreshold float64 // Sales at or above this total queue at critical priority
}

// DefaultConfig returns default orchestrator configuration.
func DefaultConfig() *Config {
	return &Config{
		CriticalSaleThreshold: 500.00,
	}
}

// Orchestrator composes the monitor, queue, store, and backend into the
// register-facing flows: saving sales and customers offline-first, and
// running the periodic full synchronization.
type Orchestrator struct {
	store   Store
	queue   OpQueue
	backend Backend
	monitor Monitor
	bus     *events.Bus

	criticalThreshold float64

	mu      sync.Mutex
	syncing bool
	lastRun *RunResult
}

// NewOrchestrator creates an orchestrator. A nil config uses defaults.
func NewOrchestrator(store Store, q OpQueue, backend Backend, monitor Monitor, bus *events.Bus, config *Config) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}
	threshold := config.CriticalSaleThreshold
	if threshold <= 0 {
		threshold = DefaultConfig().CriticalSaleThreshold
	}

	return &Orchestrator{
		store:             store,
		queue:             q,
		backend:           backend,
		monitor:           monitor,
		bus:               bus,
		criticalThreshold: threshold,
	}
}

// =====================================================
// Register flows
// =====================================================

// SaveSaleReceipt persists a completed sale locally, then queues it for
// delivery. The local write is the source of truth; a dead backend never
// loses a sale.
func (o *Orchestrator) SaveSaleReceipt(ctx context.Context, receipt *models.Receipt) error {
	if receipt == nil {
		return apperrors.New(apperrors.ErrInvalid, "receipt is nil")
	}
	lines, err := receipt.DecodeLines()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "malformed receipt lines", err)
	}
	if len(lines) == 0 {
		return apperrors.New(apperrors.ErrEmptyReceipt, "receipt has no lines")
	}

	receipt.Synced = false
	receipt.SyncedAt = 0
	if err := o.store.CreateReceipt(receipt); err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to persist receipt", err)
	}

	// Marshal after the insert so the payload carries the assigned ID,
	// slip number, and timestamps.
	payload, err := json.Marshal(receipt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode receipt", err)
	}
	if _, err := o.queue.Enqueue(ctx, models.OpCreateSaleRecord, payload,
		queue.WithPriority(o.salePriority(receipt.Total))); err != nil {
		return err
	}

	logging.Info("Sale receipt saved", map[string]interface{}{
		"receipt_id": receipt.ID,
		"number":     receipt.Number,
		"total":      receipt.Total,
	})

	o.kickQueue()
	return nil
}

// SaveCustomer persists a customer locally and queues the upsert for
// delivery. An empty name becomes the walk-in placeholder.
func (o *Orchestrator) SaveCustomer(ctx context.Context, customer *models.Customer) error {
	if customer == nil {
		return apperrors.New(apperrors.ErrInvalid, "customer is nil")
	}
	if customer.ID == "" {
		customer.ID = uuid.New()
	}
	customer.Normalize()

	if err := o.store.UpsertCustomer(customer); err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to persist customer", err)
	}

	payload, err := json.Marshal(customer)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode customer", err)
	}
	if _, err := o.queue.Enqueue(ctx, models.OpUpsertCustomer, payload); err != nil {
		return err
	}

	logging.Info("Customer saved", map[string]interface{}{
		"customer_id": customer.ID,
		"name":        customer.Name,
	})

	o.kickQueue()
	return nil
}

// salePriority upgrades large sales so they jump the backlog.
func (o *Orchestrator) salePriority(total float64) models.Priority {
	if total >= o.criticalThreshold {
		return models.PriorityCritical
	}
	return models.PriorityHigh
}

// kickQueue starts a best-effort drain pass in the background. Delivery
// is the queue's problem now; the caller's save already succeeded.
func (o *Orchestrator) kickQueue() {
	go func() {
		if err := o.queue.Process(context.Background()); err != nil {
			logging.Error("Queue pass after save failed", err, nil)
		}
	}()
}

// =====================================================
// Full synchronization
// =====================================================

// RunFullSync executes one synchronization pass: pull the catalog, push
// unsynced receipts, then drain the retry queue. Stage order is fixed.
// Only one run may be active at a time.
func (o *Orchestrator) RunFullSync(ctx context.Context) (*RunResult, error) {
	o.mu.Lock()
	if o.syncing {
		o.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrSyncInProgress, "sync already in progress")
	}
	o.syncing = true
	o.mu.Unlock()

	result := &RunResult{
		Status:    RunCompleted,
		StartedAt: time.Now(),
	}
	o.emit(events.TypeSyncStarted, nil)
	logging.Info("Sync run started", nil)

	var runErr error
	defer func() {
		result.FinishedAt = time.Now()
		result.Duration = result.FinishedAt.Sub(result.StartedAt)
		if runErr != nil {
			result.Status = RunFailed
			result.Error = runErr.Error()
		}

		snapshot := *result
		o.mu.Lock()
		o.lastRun = &snapshot
		o.syncing = false
		o.mu.Unlock()

		o.emit(events.TypeSyncCompleted, snapshot)
		logging.Info("Sync run finished", map[string]interface{}{
			"status":          string(result.Status),
			"duration":        result.Duration.String(),
			"receipts_pushed": result.ReceiptsPushed,
		})
	}()

	// Step 1: Skip the whole run when the backend is out of reach.
	if !o.monitor.Usable() {
		result.Status = RunSkippedOffline
		logging.Debug("Sync skipped, backend unreachable", nil)
		return result, nil
	}

	// Step 2: Pull the catalog one stage at a time. A reachability loss
	// mid-run keeps what already landed and marks the run partial.
	pullStages := []struct {
		name string
		run  func(context.Context) (StageResult, error)
		dest *StageResult
	}{
		{"categories", o.pullCategories, &result.Categories},
		{"products", o.pullProducts, &result.Products},
		{"customers", o.pullCustomers, &result.Customers},
	}
	for _, stage := range pullStages {
		if err := ctx.Err(); err != nil {
			runErr = err
			return result, runErr
		}
		if !o.monitor.Usable() {
			result.Status = RunPartial
			logging.Warn("Connectivity lost mid-sync, stopping pull", map[string]interface{}{
				"stage": stage.name,
			})
			return result, nil
		}

		st, err := stage.run(ctx)
		*stage.dest = st
		if err != nil {
			if isConnectivityLoss(err) {
				result.Status = RunPartial
				logging.Warn("Pull stage lost the backend, stopping", map[string]interface{}{
					"stage": stage.name,
					"error": err.Error(),
				})
				return result, nil
			}
			runErr = err
			return result, runErr
		}
	}

	// Step 3: Push unsynced receipts straight to the backend. A rejected
	// receipt falls back to the queue; a reachability loss leaves the
	// rest local and unsynced for the next run.
	if !o.monitor.Usable() {
		result.Status = RunPartial
		return result, nil
	}
	pushed, complete, err := o.pushReceipts(ctx)
	result.ReceiptsPushed = pushed
	if err != nil {
		runErr = err
		return result, runErr
	}
	if !complete {
		result.Status = RunPartial
		return result, nil
	}

	// Step 4: Drain whatever the queue holds.
	if !o.monitor.Usable() {
		result.Status = RunPartial
		return result, nil
	}
	if err := o.queue.Process(ctx); err != nil {
		runErr = err
		return result, runErr
	}
	result.QueueDrained = true

	return result, nil
}

// pullCategories fetches the remote category set and writes only rows
// whose content differs from the local copy.
func (o *Orchestrator) pullCategories(ctx context.Context) (StageResult, error) {
	var stage StageResult

	cats, err := o.backend.GetCategories(ctx)
	if err != nil {
		return stage, err
	}
	stage.Fetched = len(cats)

	hashes, err := o.store.CategoryHashes()
	if err != nil {
		return stage, apperrors.Wrap(apperrors.ErrInternal, "failed to load category hashes", err)
	}
	for i := range cats {
		c := &cats[i]
		hash := c.ComputeHash()
		if hashes[c.ID] == hash {
			stage.Skipped++
			continue
		}
		c.ContentHash = hash
		if err := o.store.UpsertCategory(c); err != nil {
			return stage, apperrors.Wrap(apperrors.ErrInternal, "failed to write category", err)
		}
		stage.Written++
	}

	logging.Debug("Category pull complete", map[string]interface{}{
		"fetched": stage.Fetched,
		"written": stage.Written,
		"skipped": stage.Skipped,
	})
	return stage, nil
}

// pullProducts fetches the remote product set and writes only rows whose
// content differs from the local copy.
func (o *Orchestrator) pullProducts(ctx context.Context) (StageResult, error) {
	var stage StageResult

	prods, err := o.backend.GetProducts(ctx)
	if err != nil {
		return stage, err
	}
	stage.Fetched = len(prods)

	hashes, err := o.store.ProductHashes()
	if err != nil {
		return stage, apperrors.Wrap(apperrors.ErrInternal, "failed to load product hashes", err)
	}
	for i := range prods {
		p := &prods[i]
		hash := p.ComputeHash()
		if hashes[p.ID] == hash {
			stage.Skipped++
			continue
		}
		p.ContentHash = hash
		if err := o.store.UpsertProduct(p); err != nil {
			return stage, apperrors.Wrap(apperrors.ErrInternal, "failed to write product", err)
		}
		stage.Written++
	}

	logging.Debug("Product pull complete", map[string]interface{}{
		"fetched": stage.Fetched,
		"written": stage.Written,
		"skipped": stage.Skipped,
	})
	return stage, nil
}

// pullCustomers fetches the remote customer set and writes only rows
// whose content differs from the local copy.
func (o *Orchestrator) pullCustomers(ctx context.Context) (StageResult, error) {
	var stage StageResult

	custs, err := o.backend.GetCustomers(ctx)
	if err != nil {
		return stage, err
	}
	stage.Fetched = len(custs)

	hashes, err := o.store.CustomerHashes()
	if err != nil {
		return stage, apperrors.Wrap(apperrors.ErrInternal, "failed to load customer hashes", err)
	}
	for i := range custs {
		c := &custs[i]
		hash := c.ComputeHash()
		if hashes[c.ID] == hash {
			stage.Skipped++
			continue
		}
		c.ContentHash = hash
		if err := o.store.UpsertCustomer(c); err != nil {
			return stage, apperrors.Wrap(apperrors.ErrInternal, "failed to write customer", err)
		}
		stage.Written++
	}

	logging.Debug("Customer pull complete", map[string]interface{}{
		"fetched": stage.Fetched,
		"written": stage.Written,
		"skipped": stage.Skipped,
	})
	return stage, nil
}

// pushReceipts submits unsynced receipts oldest first. Backend
// rejections queue the receipt for retry and move on; a reachability
// loss stops the pass with complete=false.
func (o *Orchestrator) pushReceipts(ctx context.Context) (pushed int, complete bool, err error) {
	receipts, err := o.store.ListUnsyncedReceipts(0)
	if err != nil {
		return 0, false, apperrors.Wrap(apperrors.ErrInternal, "failed to list unsynced receipts", err)
	}

	for _, receipt := range receipts {
		select {
		case <-ctx.Done():
			return pushed, false, ctx.Err()
		default:
		}

		payload, err := json.Marshal(receipt)
		if err != nil {
			logging.Error("Failed to encode receipt for push", err, map[string]interface{}{
				"receipt_id": receipt.ID,
			})
			continue
		}

		if err := o.backend.SubmitSale(ctx, payload); err != nil {
			if isConnectivityLoss(err) {
				logging.Warn("Receipt push lost the backend, stopping", map[string]interface{}{
					"receipt_id": receipt.ID,
					"error":      err.Error(),
				})
				return pushed, false, nil
			}
			logging.Warn("Receipt push rejected, queueing for retry", map[string]interface{}{
				"receipt_id": receipt.ID,
				"error":      err.Error(),
			})
			if _, qerr := o.queue.Enqueue(ctx, models.OpCreateSaleRecord, payload,
				queue.WithPriority(o.salePriority(receipt.Total))); qerr != nil {
				return pushed, false, qerr
			}
			continue
		}

		if err := o.store.MarkReceiptSynced(receipt.ID, time.Now()); err != nil {
			return pushed, false, apperrors.Wrap(apperrors.ErrInternal, "failed to mark receipt synced", err)
		}
		pushed++
	}
	return pushed, true, nil
}

// isConnectivityLoss reports whether err is a transport failure rather
// than a backend verdict.
func isConnectivityLoss(err error) bool {
	var rerr *remote.Error
	if !errors.As(err, &rerr) {
		return false
	}
	return rerr.Category == remote.CategoryNetwork || rerr.Category == remote.CategoryTimeout
}

// =====================================================
// Bookkeeping
// =====================================================

// MarkSaleDelivered records backend acceptance for a sale the queue
// delivered. Wired to item_succeeded events so receipts synced through
// the indirect path do not stay flagged unsynced forever.
func (o *Orchestrator) MarkSaleDelivered(item *models.QueueItem) {
	if item == nil || item.Type != models.OpCreateSaleRecord {
		return
	}

	var ref struct {
		ID models.UUID `json:"id"`
	}
	if err := json.Unmarshal(item.Payload, &ref); err != nil || ref.ID == "" {
		logging.Warn("Delivered sale carries no receipt id", map[string]interface{}{
			"item_id": item.ID,
		})
		return
	}

	if err := o.store.MarkReceiptSynced(ref.ID, time.Now()); err != nil {
		// Already marked by a direct push, or trimmed locally.
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return
		}
		logging.Error("Failed to mark delivered receipt synced", err, map[string]interface{}{
			"receipt_id": ref.ID,
		})
	}
}

// Status reports the current sync posture in one snapshot.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	stats, err := o.queue.Stats(ctx)
	if err != nil {
		return nil, err
	}
	unsynced, err := o.store.CountUnsyncedReceipts()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to count unsynced receipts", err)
	}

	o.mu.Lock()
	syncing := o.syncing
	var last *RunResult
	if o.lastRun != nil {
		snapshot := *o.lastRun
		last = &snapshot
	}
	o.mu.Unlock()

	return &Status{
		Connectivity:     o.monitor.State(),
		Queue:            stats,
		LastRun:          last,
		Syncing:          syncing,
		UnsyncedReceipts: unsynced,
		Configured:       o.backend.Configured(),
	}, nil
}

// Syncing reports whether a full sync run is active right now.
func (o *Orchestrator) Syncing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.syncing
}

func (o *Orchestrator) emit(t events.Type, data interface{}) {
	if o.bus != nil {
		o.bus.Emit(t, data)
	}
}
