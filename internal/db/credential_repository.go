// Package db provides CRUD repository operations for tillsync data models.
package db

import (
	"database/sql"
	"errors"
	"time"

	apperrors "github.com/tillsync-io/tillsync/internal/errors"
	"github.com/tillsync-io/tillsync/internal/models"
)

// The credentials table holds at most one row.
const credentialRowID = models.UUID("primary")

// GetCredential returns the stored backend credential.
func (r *Repository) GetCredential() (*models.Credential, error) {
	query := `
	SELECT id, base_url, api_key_encrypted, api_secret_encrypted, is_enabled, created_at, updated_at
	FROM credentials WHERE id = ?`

	var c models.Credential
	err := r.db.QueryRow(query, credentialRowID).Scan(&c.ID, &c.BaseURL,
		&c.APIKeyEncrypted, &c.APISecretEncrypted, &c.IsEnabled,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrSyncNotConfigured, "no backend credential configured")
		}
		return nil, err
	}
	return &c, nil
}

// SetCredential stores the backend credential, replacing any previous one.
func (r *Repository) SetCredential(c *models.Credential) error {
	now := time.Now().Unix()
	c.ID = credentialRowID
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	query := `
	INSERT INTO credentials (id, base_url, api_key_encrypted, api_secret_encrypted, is_enabled, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		base_url = excluded.base_url,
		api_key_encrypted = excluded.api_key_encrypted,
		api_secret_encrypted = excluded.api_secret_encrypted,
		is_enabled = excluded.is_enabled,
		updated_at = excluded.updated_at
	`
	_, err := r.db.Exec(query, c.ID, c.BaseURL, c.APIKeyEncrypted,
		c.APISecretEncrypted, c.IsEnabled, c.CreatedAt, c.UpdatedAt)
	return err
}
