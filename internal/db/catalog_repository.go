// Package db provides CRUD repository operations for tillsync data models.
package db

import (
	"database/sql"
	"errors"
	"time"

	apperrors "github.com/tillsync-io/tillsync/internal/errors"
	"github.com/tillsync-io/tillsync/internal/models"
)

// =====================================================
// Category Operations
// =====================================================

// UpsertCategory inserts or updates a category by ID.
func (r *Repository) UpsertCategory(c *models.Category) error {
	now := time.Now().Unix()
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.ContentHash == "" {
		c.ContentHash = c.ComputeHash()
	}

	query := `
	INSERT INTO categories (id, name, color, sort_order, content_hash, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		color = excluded.color,
		sort_order = excluded.sort_order,
		content_hash = excluded.content_hash,
		updated_at = excluded.updated_at
	`
	_, err := r.db.Exec(query, c.ID, c.Name, c.Color, c.SortOrder,
		c.ContentHash, c.CreatedAt, c.UpdatedAt)
	return err
}

// ListCategories returns all categories in display order.
func (r *Repository) ListCategories() ([]*models.Category, error) {
	rows, err := r.db.Query(`
	SELECT id, name, color, sort_order, content_hash, created_at, updated_at
	FROM categories ORDER BY sort_order ASC, name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []*models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Color, &c.SortOrder,
			&c.ContentHash, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, &c)
	}
	return categories, rows.Err()
}

// CategoryHashes returns id -> content hash for every stored category.
func (r *Repository) CategoryHashes() (map[models.UUID]string, error) {
	return r.hashMap("SELECT id, content_hash FROM categories")
}

// =====================================================
// Product Operations
// =====================================================

const productColumns = `id, name, barcode, category_id, price, tax_rate, stock_qty,
	   unit, is_disabled, content_hash, created_at, updated_at`

// UpsertProduct inserts or updates a product by ID.
func (r *Repository) UpsertProduct(p *models.Product) error {
	now := time.Now().Unix()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.ContentHash == "" {
		p.ContentHash = p.ComputeHash()
	}

	query := `
	INSERT INTO products (id, name, barcode, category_id, price, tax_rate, stock_qty,
		unit, is_disabled, content_hash, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		barcode = excluded.barcode,
		category_id = excluded.category_id,
		price = excluded.price,
		tax_rate = excluded.tax_rate,
		stock_qty = excluded.stock_qty,
		unit = excluded.unit,
		is_disabled = excluded.is_disabled,
		content_hash = excluded.content_hash,
		updated_at = excluded.updated_at
	`
	_, err := r.db.Exec(query, p.ID, p.Name, p.Barcode, p.CategoryID, p.Price,
		p.TaxRate, p.StockQty, p.Unit, p.IsDisabled, p.ContentHash,
		p.CreatedAt, p.UpdatedAt)
	return err
}

// GetProduct retrieves a product by ID.
func (r *Repository) GetProduct(id models.UUID) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	p, err := scanProduct(stmt.QueryRow(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrNotFound, "product not found")
		}
		return nil, err
	}
	return p, nil
}

// GetProductByBarcode retrieves a product by exact barcode.
// The register scans barcodes constantly, so this path is prepared.
func (r *Repository) GetProductByBarcode(barcode string) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE barcode = ? AND is_disabled = 0 LIMIT 1`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	p, err := scanProduct(stmt.QueryRow(barcode))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrNotFound, "product not found")
		}
		return nil, err
	}
	return p, nil
}

// SearchProductsByName returns enabled products whose name starts with the
// given prefix, for register lookups.
func (r *Repository) SearchProductsByName(prefix string, limit int) ([]*models.Product, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + productColumns + `
	FROM products WHERE name LIKE ? AND is_disabled = 0
	ORDER BY name ASC LIMIT ?`

	rows, err := r.db.Query(query, prefix+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// ProductHashes returns id -> content hash for every stored product.
func (r *Repository) ProductHashes() (map[models.UUID]string, error) {
	return r.hashMap("SELECT id, content_hash FROM products")
}

func scanProduct(s scanner) (*models.Product, error) {
	var p models.Product
	err := s.Scan(&p.ID, &p.Name, &p.Barcode, &p.CategoryID, &p.Price,
		&p.TaxRate, &p.StockQty, &p.Unit, &p.IsDisabled, &p.ContentHash,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// =====================================================
// Customer Operations
// =====================================================

// UpsertCustomer inserts or updates a customer by ID.
func (r *Repository) UpsertCustomer(c *models.Customer) error {
	c.Normalize()
	now := time.Now().Unix()
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.ContentHash == "" {
		c.ContentHash = c.ComputeHash()
	}

	query := `
	INSERT INTO customers (id, name, phone, email, synced, content_hash, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		phone = excluded.phone,
		email = excluded.email,
		synced = excluded.synced,
		content_hash = excluded.content_hash,
		updated_at = excluded.updated_at
	`
	_, err := r.db.Exec(query, c.ID, c.Name, c.Phone, c.Email, c.Synced,
		c.ContentHash, c.CreatedAt, c.UpdatedAt)
	return err
}

// GetCustomer retrieves a customer by ID.
func (r *Repository) GetCustomer(id models.UUID) (*models.Customer, error) {
	query := `
	SELECT id, name, phone, email, synced, content_hash, created_at, updated_at
	FROM customers WHERE id = ?`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	var c models.Customer
	err = stmt.QueryRow(id).Scan(&c.ID, &c.Name, &c.Phone, &c.Email,
		&c.Synced, &c.ContentHash, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrNotFound, "customer not found")
		}
		return nil, err
	}
	return &c, nil
}

// CustomerHashes returns id -> content hash for every stored customer.
func (r *Repository) CustomerHashes() (map[models.UUID]string, error) {
	return r.hashMap("SELECT id, content_hash FROM customers")
}

// hashMap runs an (id, content_hash) query into a map.
func (r *Repository) hashMap(query string) (map[models.UUID]string, error) {
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := make(map[models.UUID]string)
	for rows.Next() {
		var id models.UUID
		var hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, err
		}
		hashes[id] = hash
	}
	return hashes, rows.Err()
}
