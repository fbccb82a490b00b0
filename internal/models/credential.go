// Package models provides data model definitions for the tillsync engine.
package models

import "time"

// Credential holds the encrypted backend API credential.
// APIKeyEncrypted and APISecretEncrypted are never exposed in JSON responses.
type Credential struct {
	ID                 UUID   `db:"id" json:"id"`
	BaseURL            string `db:"base_url" json:"base_url"`
	APIKeyEncrypted    string `db:"api_key_encrypted" json:"-"`
	APISecretEncrypted string `db:"api_secret_encrypted" json:"-"`
	IsEnabled          bool   `db:"is_enabled" json:"is_enabled"`
	CreatedAt          int64  `db:"created_at" json:"created_at"`
	UpdatedAt          int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Credential.
func (Credential) TableName() string {
	return "credentials"
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (c *Credential) CreatedAtTime() time.Time {
	return time.Unix(c.CreatedAt, 0)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (c *Credential) UpdatedAtTime() time.Time {
	return time.Unix(c.UpdatedAt, 0)
}
