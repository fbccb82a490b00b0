// Package db provides CRUD repository operations for tillsync data models.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/tillsync-io/tillsync/internal/errors"
	"github.com/tillsync-io/tillsync/internal/models"
	"github.com/tillsync-io/tillsync/internal/uuid"
)

// Repository provides persistence operations for all models.
// Frequently used queries go through a prepared statement cache.
type Repository struct {
	db *sql.DB

	// Statements are prepared on first use and cached for reuse
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
// Key is the query string, value is the prepared statement.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// If another goroutine prepared this first, use theirs
	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
// Should be called when the Repository is no longer needed.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// QueueItem Operations
// =====================================================

const queueItemColumns = `id, op_type, payload, priority, status, attempt, max_attempts,
	   last_error, next_retry_at, created_at, updated_at`

// CreateQueueItem persists a new queue item, assigning ID and timestamps.
func (r *Repository) CreateQueueItem(item *models.QueueItem) error {
	now := time.Now().Unix()
	if item.ID == "" {
		item.ID = uuid.New()
	}
	item.CreatedAt = now
	item.UpdatedAt = now

	query := `
	INSERT INTO queue_items (id, op_type, payload, priority, status, attempt, max_attempts,
		last_error, next_retry_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, item.ID, item.Type, string(item.Payload), item.Priority,
		item.Status, item.Attempt, item.MaxAttempts, item.LastError,
		item.NextRetryAt, item.CreatedAt, item.UpdatedAt)
	return err
}

// GetQueueItem retrieves a queue item by ID.
func (r *Repository) GetQueueItem(id models.UUID) (*models.QueueItem, error) {
	query := `SELECT ` + queueItemColumns + ` FROM queue_items WHERE id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	item, err := scanQueueItem(stmt.QueryRow(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrNotFound, "queue item not found")
		}
		return nil, err
	}
	return item, nil
}

// UpdateQueueItem writes the mutable fields of an existing item.
func (r *Repository) UpdateQueueItem(item *models.QueueItem) error {
	item.UpdatedAt = time.Now().Unix()

	query := `
	UPDATE queue_items
	SET status = ?, attempt = ?, last_error = ?, next_retry_at = ?, priority = ?, updated_at = ?
	WHERE id = ?
	`
	res, err := r.db.Exec(query, item.Status, item.Attempt, item.LastError,
		item.NextRetryAt, item.Priority, item.UpdatedAt, item.ID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.New(apperrors.ErrNotFound, "queue item not found")
	}
	return nil
}

// DeleteQueueItem removes an item permanently.
func (r *Repository) DeleteQueueItem(id models.UUID) error {
	_, err := r.db.Exec("DELETE FROM queue_items WHERE id = ?", id)
	return err
}

// ListQueueItems returns items in dispatch order, filtered by status when
// one is given. A zero limit returns everything.
func (r *Repository) ListQueueItems(status models.QueueStatus, limit int) ([]*models.QueueItem, error) {
	query := `SELECT ` + queueItemColumns + ` FROM queue_items`
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY priority ASC, created_at ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectQueueItems(rows)
}

// ListDispatchable returns every item ready to be sent: pending items plus
// scheduled retries whose due time has passed, in dispatch order.
func (r *Repository) ListDispatchable(now int64) ([]*models.QueueItem, error) {
	query := `SELECT ` + queueItemColumns + `
	FROM queue_items
	WHERE status = ? OR (status = ? AND next_retry_at <= ?)
	ORDER BY priority ASC, created_at ASC`

	rows, err := r.db.Query(query, models.StatusPending, models.StatusRetryScheduled, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectQueueItems(rows)
}

// CountLiveQueueItems counts items occupying queue capacity.
// Succeeded rows are deleted on success and cancelled rows are parked, so
// live means pending, processing, scheduled, or failed.
func (r *Repository) CountLiveQueueItems() (int, error) {
	query := `
	SELECT COUNT(*) FROM queue_items
	WHERE status IN (?, ?, ?, ?)`
	var count int
	err := r.db.QueryRow(query, models.StatusPending, models.StatusProcessing,
		models.StatusRetryScheduled, models.StatusFailed).Scan(&count)
	return count, err
}

// OldestPendingInLowestTier returns the eviction candidate: the oldest
// pending item in the least-urgent tier that has one. Returns a NOT_FOUND
// error when nothing is pending.
func (r *Repository) OldestPendingInLowestTier() (*models.QueueItem, error) {
	query := `SELECT ` + queueItemColumns + `
	FROM queue_items WHERE status = ?
	ORDER BY priority DESC, created_at ASC LIMIT 1`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	item, err := scanQueueItem(stmt.QueryRow(models.StatusPending))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrNotFound, "no pending items")
		}
		return nil, err
	}
	return item, nil
}

// QueueCounts returns item counts grouped by status.
func (r *Repository) QueueCounts() (map[models.QueueStatus]int, error) {
	rows, err := r.db.Query("SELECT status, COUNT(*) FROM queue_items GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.QueueStatus]int)
	for rows.Next() {
		var status models.QueueStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// OldestPendingCreatedAt returns the created_at of the oldest pending item,
// or 0 when nothing is pending.
func (r *Repository) OldestPendingCreatedAt() (int64, error) {
	var oldest sql.NullInt64
	err := r.db.QueryRow("SELECT MIN(created_at) FROM queue_items WHERE status = ?",
		models.StatusPending).Scan(&oldest)
	if err != nil {
		return 0, err
	}
	if !oldest.Valid {
		return 0, nil
	}
	return oldest.Int64, nil
}

// PendingCountsByPriority returns pending item counts per priority tier.
func (r *Repository) PendingCountsByPriority() (map[models.Priority]int, error) {
	rows, err := r.db.Query(
		"SELECT priority, COUNT(*) FROM queue_items WHERE status = ? GROUP BY priority",
		models.StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.Priority]int)
	for rows.Next() {
		var priority models.Priority
		var count int
		if err := rows.Scan(&priority, &count); err != nil {
			return nil, err
		}
		counts[priority] = count
	}
	return counts, rows.Err()
}

// DeleteTerminalOlderThan removes failed and cancelled items whose last
// update is older than cutoff. Returns the number of rows removed.
func (r *Repository) DeleteTerminalOlderThan(cutoff int64) (int, error) {
	res, err := r.db.Exec(
		"DELETE FROM queue_items WHERE status IN (?, ?) AND updated_at < ?",
		models.StatusFailed, models.StatusCancelled, cutoff)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan code.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanQueueItem(s scanner) (*models.QueueItem, error) {
	var item models.QueueItem
	var payload string
	err := s.Scan(&item.ID, &item.Type, &payload, &item.Priority, &item.Status,
		&item.Attempt, &item.MaxAttempts, &item.LastError, &item.NextRetryAt,
		&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.Payload = []byte(payload)
	return &item, nil
}

func collectQueueItems(rows *sql.Rows) ([]*models.QueueItem, error) {
	var items []*models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
