package repository

import (
	"context"
	"database/sql"

	"github.com/keymart/keymart/internal/model"
)

// ProductRepo exposes the slice of the catalog that checkout needs:
// authoritative prices and the stock counter.  Product CRUD proper
// belongs to the surrounding catalog service and is not implemented
// here.
type ProductRepo struct {
	db *sql.DB
}

// NewProductRepo returns a new ProductRepo bound to the given database.
func NewProductRepo(db *sql.DB) *ProductRepo { return &ProductRepo{db: db} }

// GetUnitPrice returns the authoritative unit price of a product in
// cents.  It returns ErrProductNotFound for an unknown id and
// ErrPriceUnavailable when the stored price is non-positive; quoting
// must never fall back to a client-supplied price.
func (r *ProductRepo) GetUnitPrice(ctx context.Context, productID uint64) (uint64, error) {
	const q = `SELECT price_cents FROM products WHERE id = ?`
	var cents int64
	err := r.db.QueryRowContext(ctx, q, productID).Scan(&cents)
	if err == sql.ErrNoRows {
		return 0, ErrProductNotFound
	}
	if err != nil {
		return 0, err
	}
	if cents <= 0 {
		return 0, ErrPriceUnavailable
	}
	return uint64(cents), nil
}

// GetByID loads a product row.  Settlement uses it to snapshot the
// product name onto order items.
func (r *ProductRepo) GetByID(ctx context.Context, productID uint64) (*model.Product, error) {
	const q = `SELECT id, name, price_cents, in_stock, created_at FROM products WHERE id = ?`
	var p model.Product
	err := r.db.QueryRowContext(ctx, q, productID).Scan(
		&p.ID, &p.Name, &p.PriceCents, &p.InStock, &p.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// NameTx resolves a product name within a transaction.
func (r *ProductRepo) NameTx(ctx context.Context, tx *sql.Tx, productID uint64) (string, error) {
	const q = `SELECT name FROM products WHERE id = ?`
	var name string
	err := tx.QueryRowContext(ctx, q, productID).Scan(&name)
	if err == sql.ErrNoRows {
		return "", ErrProductNotFound
	}
	return name, err
}

// DecrementStockTx reduces a product's stock counter by the purchased
// quantity.  The counter is display-level bookkeeping; oversell is
// prevented by the key claim, not by this number, so the update is a
// plain guarded subtraction.
func (r *ProductRepo) DecrementStockTx(ctx context.Context, tx *sql.Tx, productID uint64, quantity uint32) error {
	const q = `UPDATE products SET in_stock = IF(in_stock >= ?, in_stock - ?, 0) WHERE id = ?`
	_, err := tx.ExecContext(ctx, q, quantity, quantity, productID)
	return err
}
