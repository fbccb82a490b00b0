// Package models provides data model definitions for the tillsync engine.
package models

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// WalkInCustomerName is the default customer for anonymous sales.
const WalkInCustomerName = "Walk-in Customer"

// Customer represents a buyer known to the register.
type Customer struct {
	ID          UUID   `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Phone       string `db:"phone" json:"phone,omitempty"`
	Email       string `db:"email" json:"email,omitempty"`
	Synced      bool   `db:"synced" json:"synced"`
	ContentHash string `db:"content_hash" json:"content_hash,omitempty"`
	CreatedAt   int64  `db:"created_at" json:"created_at"`
	UpdatedAt   int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Customer.
func (Customer) TableName() string {
	return "customers"
}

// ComputeHash returns a hash over the backend-visible fields.
func (c *Customer) ComputeHash() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s", c.ID, c.Name, c.Phone, c.Email)))
	return fmt.Sprintf("%x", sum)
}

// Normalize applies register defaults to a customer before saving.
func (c *Customer) Normalize() {
	if c.Name == "" {
		c.Name = WalkInCustomerName
	}
}

// Touch updates the UpdatedAt timestamp.
func (c *Customer) Touch() {
	c.UpdatedAt = time.Now().Unix()
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (c *Customer) CreatedAtTime() time.Time {
	return time.Unix(c.CreatedAt, 0)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (c *Customer) UpdatedAtTime() time.Time {
	return time.Unix(c.UpdatedAt, 0)
}
