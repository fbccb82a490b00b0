// Package scheduler drives periodic synchronization and queue
// maintenance in the background.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/tillsync-io/tillsync/internal/connectivity"
	"github.com/tillsync-io/tillsync/internal/errors"
	"github.com/tillsync-io/tillsync/internal/logging"
	syncpkg "github.com/tillsync-io/tillsync/internal/sync"
)

// syncRunTimeout bounds one periodic run so a wedged backend cannot
// pin the loop past its next tick forever.
const syncRunTimeout = 5 * time.Minute

// reconnectBuffer sizes the connectivity subscription.
const reconnectBuffer = 16

// Syncer runs full synchronization passes.
type Syncer interface {
	RunFullSync(ctx context.Context) (*syncpkg.RunResult, error)
}

// Queue is the maintenance surface of the retry queue.
type Queue interface {
	Process(ctx context.Context) error
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)
}

// Monitor delivers connectivity transitions.
type Monitor interface {
	Subscribe(buffer int) (<-chan connectivity.Change, func())
}

// Config holds scheduler configuration.
type Config struct {
	SyncInterval    time.Duration // How often to run a full sync (default: 5 minutes)
	CleanupInterval time.Duration // How often to trim terminal queue items (default: 24 hours)
	CleanupMaxAge   time.Duration // Terminal age beyond which items are trimmed (default: 30 days)
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:    5 * time.Minute,
		CleanupInterval: 24 * time.Hour,
		CleanupMaxAge:   30 * 24 * time.Hour,
	}
}

// Scheduler owns the background loops: periodic full sync, terminal
// item cleanup, and flush-on-reconnect.
type Scheduler struct {
	syncer  Syncer
	queue   Queue
	monitor Monitor

	syncInterval    time.Duration
	cleanupInterval time.Duration
	cleanupMaxAge   time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu            sync.RWMutex
	isRunning     bool
	lastRunAt     time.Time
	lastRunStatus syncpkg.RunStatus
}

// Status is a point-in-time scheduler snapshot.
type Status struct {
	Running       bool       `json:"running"`
	SyncInterval  string     `json:"sync_interval"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// NewScheduler creates a scheduler. A nil config uses defaults, and any
// zero config field falls back to its default.
func NewScheduler(syncer Syncer, queue Queue, monitor Monitor, config *Config) *Scheduler {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = defaults.SyncInterval
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.CleanupMaxAge <= 0 {
		config.CleanupMaxAge = defaults.CleanupMaxAge
	}

	return &Scheduler{
		syncer:          syncer,
		queue:           queue,
		monitor:         monitor,
		syncInterval:    config.SyncInterval,
		cleanupInterval: config.CleanupInterval,
		cleanupMaxAge:   config.CleanupMaxAge,
	}
}

// Start launches the background loops. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	// Fresh channel per Start so the scheduler can be restarted.
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(3)
	go s.syncLoop(ctx, stopCh)
	go s.cleanupLoop(ctx, stopCh)
	go s.watchReconnect(ctx, stopCh)

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"sync_interval":    s.syncInterval.String(),
		"cleanup_interval": s.cleanupInterval.String(),
	})
}

// Stop stops the background loops and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	stopCh := s.stopCh
	s.mu.Unlock()

	close(stopCh)
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// Running reports whether the background loops are active.
func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Status returns the current scheduler snapshot.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		Running:      s.isRunning,
		SyncInterval: s.syncInterval.String(),
	}
	if !s.lastRunAt.IsZero() {
		at := s.lastRunAt
		status.LastRunAt = &at
		status.LastRunStatus = string(s.lastRunStatus)
	}
	return status
}

// syncLoop runs a full sync every interval. The run is synchronous so
// Stop waits out an in-flight pass instead of orphaning it.
func (s *Scheduler) syncLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.runSync(ctx)
		}
	}
}

// runSync executes one periodic pass and records the outcome.
func (s *Scheduler) runSync(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, syncRunTimeout)
	defer cancel()

	result, err := s.syncer.RunFullSync(runCtx)
	if result != nil {
		s.mu.Lock()
		s.lastRunAt = time.Now()
		s.lastRunStatus = result.Status
		s.mu.Unlock()
	}
	if err != nil {
		if errors.Is(err, errors.ErrSyncInProgress) {
			logging.Debug("Sync already in progress, skipping tick", nil)
			return
		}
		logging.Error("Periodic sync failed", err, nil)
		return
	}

	if result.Status == syncpkg.RunSkippedOffline {
		logging.Debug("Periodic sync skipped, backend unreachable", nil)
		return
	}
	logging.Info("Periodic sync finished", map[string]interface{}{
		"status":          string(result.Status),
		"receipts_pushed": result.ReceiptsPushed,
	})
}

// cleanupLoop trims terminal queue items every cleanup interval.
func (s *Scheduler) cleanupLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if _, err := s.queue.Cleanup(ctx, s.cleanupMaxAge); err != nil {
				logging.Error("Queue cleanup failed", err, nil)
			}
		}
	}
}

// watchReconnect flushes the queue as soon as the backend comes back.
func (s *Scheduler) watchReconnect(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	changes, cancel := s.monitor.Subscribe(reconnectBuffer)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if !change.From.Usable() && change.To.Usable() {
				logging.Info("Backend reachable again, flushing queue", nil)
				s.flushQueue(ctx)
			}
		}
	}
}

// flushQueue runs one drain pass after a reconnect.
func (s *Scheduler) flushQueue(ctx context.Context) {
	if err := s.queue.Process(ctx); err != nil {
		logging.Error("Flush after reconnect failed", err, nil)
	}
}
