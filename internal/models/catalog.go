// Package models provides data model definitions for the tillsync engine.
package models

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Category represents a product grouping pulled from the backend.
type Category struct {
	ID          UUID   `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Color       string `db:"color" json:"color,omitempty"`
	SortOrder   int    `db:"sort_order" json:"sort_order"`
	ContentHash string `db:"content_hash" json:"content_hash,omitempty"`
	CreatedAt   int64  `db:"created_at" json:"created_at"`
	UpdatedAt   int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Category.
func (Category) TableName() string {
	return "categories"
}

// ComputeHash returns a hash over the backend-visible fields.
func (c *Category) ComputeHash() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", c.ID, c.Name, c.Color, c.SortOrder)))
	return fmt.Sprintf("%x", sum)
}

// Touch updates the UpdatedAt timestamp.
func (c *Category) Touch() {
	c.UpdatedAt = time.Now().Unix()
}

// Product represents a sellable catalog item pulled from the backend.
type Product struct {
	ID          UUID    `db:"id" json:"id"`
	Name        string  `db:"name" json:"name"`
	Barcode     string  `db:"barcode" json:"barcode,omitempty"`
	CategoryID  UUID    `db:"category_id" json:"category_id,omitempty"`
	Price       float64 `db:"price" json:"price"`
	TaxRate     float64 `db:"tax_rate" json:"tax_rate"`
	StockQty    float64 `db:"stock_qty" json:"stock_qty"`
	Unit        string  `db:"unit" json:"unit,omitempty"`
	IsDisabled  bool    `db:"is_disabled" json:"is_disabled"`
	ContentHash string  `db:"content_hash" json:"content_hash,omitempty"`
	CreatedAt   int64   `db:"created_at" json:"created_at"`
	UpdatedAt   int64   `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Product.
func (Product) TableName() string {
	return "products"
}

// ComputeHash returns a hash over the backend-visible fields.
func (p *Product) ComputeHash() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%.4f|%.4f|%.3f|%s|%t",
		p.ID, p.Name, p.Barcode, p.CategoryID, p.Price, p.TaxRate, p.StockQty, p.Unit, p.IsDisabled)))
	return fmt.Sprintf("%x", sum)
}

// Touch updates the UpdatedAt timestamp.
func (p *Product) Touch() {
	p.UpdatedAt = time.Now().Unix()
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (p *Product) CreatedAtTime() time.Time {
	return time.Unix(p.CreatedAt, 0)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (p *Product) UpdatedAtTime() time.Time {
	return time.Unix(p.UpdatedAt, 0)
}
