// Package models provides data model definitions for the tillsync engine.
package models

import (
	"encoding/json"
	"time"
)

// OpType identifies the remote operation a queue item performs.
type OpType string

const (
	OpCreateSaleRecord   OpType = "create_sale_record"
	OpUpsertCustomer     OpType = "upsert_customer"
	OpUpdateCatalogEntry OpType = "update_catalog_entry"
	OpAdjustStock        OpType = "adjust_stock"
)

// Valid reports whether t is a known operation type.
func (t OpType) Valid() bool {
	switch t {
	case OpCreateSaleRecord, OpUpsertCustomer, OpUpdateCatalogEntry, OpAdjustStock:
		return true
	}
	return false
}

// Priority orders queue items. Lower values dispatch first.
type Priority int

const (
	PriorityCritical   Priority = 0
	PriorityHigh       Priority = 1
	PriorityMedium     Priority = 2
	PriorityLow        Priority = 3
	PriorityBackground Priority = 4
)

// String returns the priority name used on the wire.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	case PriorityBackground:
		return "background"
	}
	return "unknown"
}

// Valid reports whether p is a known priority tier.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityBackground
}

// QueueStatus is the lifecycle state of a queue item.
type QueueStatus string

const (
	StatusPending        QueueStatus = "pending"
	StatusProcessing     QueueStatus = "processing"
	StatusSucceeded      QueueStatus = "succeeded"
	StatusFailed         QueueStatus = "failed"
	StatusRetryScheduled QueueStatus = "retry_scheduled"
	StatusCancelled      QueueStatus = "cancelled"
)

// Valid reports whether s is a known lifecycle state.
func (s QueueStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSucceeded,
		StatusFailed, StatusRetryScheduled, StatusCancelled:
		return true
	}
	return false
}

// QueueItem represents one durable operation awaiting delivery to the backend.
type QueueItem struct {
	ID          UUID            `db:"id" json:"id"`
	Type        OpType          `db:"op_type" json:"op_type"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	Priority    Priority        `db:"priority" json:"priority"`
	Status      QueueStatus     `db:"status" json:"status"`
	Attempt     int             `db:"attempt" json:"attempt"`
	MaxAttempts int             `db:"max_attempts" json:"max_attempts"`
	LastError   string          `db:"last_error" json:"last_error,omitempty"`
	NextRetryAt int64           `db:"next_retry_at" json:"next_retry_at,omitempty"`
	CreatedAt   int64           `db:"created_at" json:"created_at"`
	UpdatedAt   int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for QueueItem.
func (QueueItem) TableName() string {
	return "queue_items"
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (q *QueueItem) CreatedAtTime() time.Time {
	return time.Unix(q.CreatedAt, 0)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (q *QueueItem) UpdatedAtTime() time.Time {
	return time.Unix(q.UpdatedAt, 0)
}

// NextRetryAtTime returns the NextRetryAt as time.Time. Zero means none.
func (q *QueueItem) NextRetryAtTime() time.Time {
	if q.NextRetryAt == 0 {
		return time.Time{}
	}
	return time.Unix(q.NextRetryAt, 0)
}

// IsTerminal reports whether the item can never be dispatched again
// without operator intervention creating a new state.
func (q *QueueItem) IsTerminal() bool {
	return q.Status == StatusSucceeded || q.Status == StatusCancelled
}

// Clone returns a deep copy safe to hand to subscribers.
func (q *QueueItem) Clone() *QueueItem {
	cp := *q
	if q.Payload != nil {
		cp.Payload = make(json.RawMessage, len(q.Payload))
		copy(cp.Payload, q.Payload)
	}
	return &cp
}
