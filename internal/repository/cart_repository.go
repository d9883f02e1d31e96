package repository

import (
	"context"
	"database/sql"

	"github.com/keymart/keymart/internal/model"
)

// CartRepo provides data access to the cart_items table.  Carts are
// keyed by buyer and store only product and quantity.  GetItems
// filters lazily: a line whose product currently has zero unsold
// keys is dropped from the result and from storage, so a buyer never
// quotes a product that cannot be fulfilled.
type CartRepo struct {
	db   *sql.DB
	keys *KeyRepo
}

// NewCartRepo returns a new CartRepo bound to the given database and
// key repository.
func NewCartRepo(db *sql.DB, keys *KeyRepo) *CartRepo {
	return &CartRepo{db: db, keys: keys}
}

// GetItems returns the buyer's cart lines after dropping any line
// whose product has no unsold keys left.  Dropped lines are deleted
// so the cart converges to what is actually sellable.
func (r *CartRepo) GetItems(ctx context.Context, buyerID uint64) ([]model.CartItem, error) {
	const q = `SELECT product_id, quantity FROM cart_items WHERE buyer_id = ? ORDER BY product_id`
	rows, err := r.db.QueryContext(ctx, q, buyerID)
	if err != nil {
		return nil, err
	}
	var all []model.CartItem
	for rows.Next() {
		var it model.CartItem
		if scanErr := rows.Scan(&it.ProductID, &it.Quantity); scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		all = append(all, it)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	items := make([]model.CartItem, 0, len(all))
	for _, it := range all {
		unsold, err := r.keys.CountUnsold(ctx, it.ProductID)
		if err != nil {
			return nil, err
		}
		if unsold == 0 {
			if err := r.removeItem(ctx, buyerID, it.ProductID); err != nil {
				return nil, err
			}
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

// SetItem upserts one cart line.  Quantity zero removes the line.
func (r *CartRepo) SetItem(ctx context.Context, buyerID, productID uint64, quantity uint32) error {
	if quantity == 0 {
		return r.removeItem(ctx, buyerID, productID)
	}
	const q = `INSERT INTO cart_items (buyer_id, product_id, quantity) VALUES (?, ?, ?)
	           ON DUPLICATE KEY UPDATE quantity = VALUES(quantity)`
	_, err := r.db.ExecContext(ctx, q, buyerID, productID, quantity)
	return err
}

// AddItem increments the quantity of a line, creating it at the
// given quantity when absent.
func (r *CartRepo) AddItem(ctx context.Context, buyerID, productID uint64, quantity uint32) error {
	if quantity == 0 {
		quantity = 1
	}
	const q = `INSERT INTO cart_items (buyer_id, product_id, quantity) VALUES (?, ?, ?)
	           ON DUPLICATE KEY UPDATE quantity = quantity + VALUES(quantity)`
	_, err := r.db.ExecContext(ctx, q, buyerID, productID, quantity)
	return err
}

// Clear removes every line of the buyer's cart.  Settlement calls
// this after a successful payment.
func (r *CartRepo) Clear(ctx context.Context, buyerID uint64) error {
	const q = `DELETE FROM cart_items WHERE buyer_id = ?`
	_, err := r.db.ExecContext(ctx, q, buyerID)
	return err
}

func (r *CartRepo) removeItem(ctx context.Context, buyerID, productID uint64) error {
	const q = `DELETE FROM cart_items WHERE buyer_id = ? AND product_id = ?`
	_, err := r.db.ExecContext(ctx, q, buyerID, productID)
	return err
}
