// Package models provides data model definitions for the tillsync engine.
package models

import (
	"encoding/json"
	"time"
)

// Receipt lifecycle states.
const (
	ReceiptStatusCompleted = "completed"
	ReceiptStatusVoid      = "void"
)

// Receipt represents one finalized sale captured at the register.
// Lines are stored as a JSON array so the row round-trips without joins.
type Receipt struct {
	ID         UUID            `db:"id" json:"id"`
	Number     string          `db:"number" json:"number"`
	CustomerID UUID            `db:"customer_id" json:"customer_id,omitempty"`
	Lines      json.RawMessage `db:"lines" json:"lines"`
	Subtotal   float64         `db:"subtotal" json:"subtotal"`
	Discount   float64         `db:"discount" json:"discount"`
	TaxTotal   float64         `db:"tax_total" json:"tax_total"`
	Total      float64         `db:"total" json:"total"`
	Paid       float64         `db:"paid" json:"paid"`
	Change     float64         `db:"change" json:"change"`
	Status     string          `db:"status" json:"status"`
	Synced     bool            `db:"synced" json:"synced"`
	SyncedAt   int64           `db:"synced_at" json:"synced_at,omitempty"`
	CreatedAt  int64           `db:"created_at" json:"created_at"`
	UpdatedAt  int64           `db:"updated_at" json:"updated_at"`
}

// ReceiptLine is the shape of one entry in Receipt.Lines.
type ReceiptLine struct {
	ProductID UUID    `json:"product_id"`
	Name      string  `json:"name"`
	Qty       float64 `json:"qty"`
	UnitPrice float64 `json:"unit_price"`
	Discount  float64 `json:"discount"`
	Total     float64 `json:"total"`
}

// TableName returns the table name for Receipt.
func (Receipt) TableName() string {
	return "receipts"
}

// DecodeLines unmarshals the stored line array.
func (r *Receipt) DecodeLines() ([]ReceiptLine, error) {
	if len(r.Lines) == 0 {
		return nil, nil
	}
	var lines []ReceiptLine
	if err := json.Unmarshal(r.Lines, &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

// SetLines marshals and stores the line array.
func (r *Receipt) SetLines(lines []ReceiptLine) error {
	data, err := json.Marshal(lines)
	if err != nil {
		return err
	}
	r.Lines = data
	return nil
}

// Touch updates the UpdatedAt timestamp.
func (r *Receipt) Touch() {
	r.UpdatedAt = time.Now().Unix()
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (r *Receipt) CreatedAtTime() time.Time {
	return time.Unix(r.CreatedAt, 0)
}

// SyncedAtTime returns the SyncedAt as time.Time. Zero means never synced.
func (r *Receipt) SyncedAtTime() time.Time {
	if r.SyncedAt == 0 {
		return time.Time{}
	}
	return time.Unix(r.SyncedAt, 0)
}
