// Package db provides CRUD repository operations for tillsync data models.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/tillsync-io/tillsync/internal/errors"
	"github.com/tillsync-io/tillsync/internal/models"
	"github.com/tillsync-io/tillsync/internal/uuid"
)

// =====================================================
// Receipt Operations
// =====================================================

const receiptColumns = `id, number, customer_id, lines, subtotal, discount, tax_total,
	   total, paid, change, status, synced, synced_at, created_at, updated_at`

// CreateReceipt persists a new receipt, assigning ID, timestamps, and a
// daily sequential number (R-YYYYMMDD-NNNN) when none is set. Number
// allocation and insert run in one transaction so offline sales never
// collide on the slip number.
func (r *Repository) CreateReceipt(receipt *models.Receipt) error {
	now := time.Now()
	if receipt.ID == "" {
		receipt.ID = uuid.New()
	}
	if receipt.Status == "" {
		receipt.Status = models.ReceiptStatusCompleted
	}
	receipt.CreatedAt = now.Unix()
	receipt.UpdatedAt = now.Unix()

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if receipt.Number == "" {
		number, err := nextReceiptNumber(tx, now)
		if err != nil {
			return err
		}
		receipt.Number = number
	}

	query := `
	INSERT INTO receipts (id, number, customer_id, lines, subtotal, discount, tax_total,
		total, paid, change, status, synced, synced_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.Exec(query, receipt.ID, receipt.Number, receipt.CustomerID,
		string(receipt.Lines), receipt.Subtotal, receipt.Discount, receipt.TaxTotal,
		receipt.Total, receipt.Paid, receipt.Change, receipt.Status,
		receipt.Synced, receipt.SyncedAt, receipt.CreatedAt, receipt.UpdatedAt)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// nextReceiptNumber allocates the next number in today's sequence.
func nextReceiptNumber(tx *sql.Tx, now time.Time) (string, error) {
	day := now.Format("20060102")
	prefix := "R-" + day + "-"

	var count int
	err := tx.QueryRow("SELECT COUNT(*) FROM receipts WHERE number LIKE ?", prefix+"%").Scan(&count)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%04d", prefix, count+1), nil
}

// GetReceipt retrieves a receipt by ID.
func (r *Repository) GetReceipt(id models.UUID) (*models.Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	receipt, err := scanReceipt(stmt.QueryRow(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrNotFound, "receipt not found")
		}
		return nil, err
	}
	return receipt, nil
}

// ListUnsyncedReceipts returns completed receipts not yet accepted by the
// backend, oldest first.
func (r *Repository) ListUnsyncedReceipts(limit int) ([]*models.Receipt, error) {
	query := `SELECT ` + receiptColumns + `
	FROM receipts WHERE synced = 0 AND status = ? ORDER BY created_at ASC`
	args := []interface{}{models.ReceiptStatusCompleted}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []*models.Receipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	return receipts, rows.Err()
}

// MarkReceiptSynced records backend acceptance of a receipt.
func (r *Repository) MarkReceiptSynced(id models.UUID, at time.Time) error {
	res, err := r.db.Exec(
		"UPDATE receipts SET synced = 1, synced_at = ?, updated_at = ? WHERE id = ?",
		at.Unix(), time.Now().Unix(), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.New(apperrors.ErrNotFound, "receipt not found")
	}
	return nil
}

// CountUnsyncedReceipts returns how many completed receipts await push.
func (r *Repository) CountUnsyncedReceipts() (int, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM receipts WHERE synced = 0 AND status = ?",
		models.ReceiptStatusCompleted).Scan(&count)
	return count, err
}

func scanReceipt(s scanner) (*models.Receipt, error) {
	var receipt models.Receipt
	var lines string
	err := s.Scan(&receipt.ID, &receipt.Number, &receipt.CustomerID, &lines,
		&receipt.Subtotal, &receipt.Discount, &receipt.TaxTotal, &receipt.Total,
		&receipt.Paid, &receipt.Change, &receipt.Status, &receipt.Synced,
		&receipt.SyncedAt, &receipt.CreatedAt, &receipt.UpdatedAt)
	if err != nil {
		return nil, err
	}
	receipt.Lines = []byte(lines)
	return &receipt, nil
}
