package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/keymart/keymart/internal/model"
)

// OrderRepo provides data access to the orders and order_items
// tables.  Orders are immutable once written: settlement inserts a
// SUCCESS row, the failure path inserts a FAILED row, and nothing
// updates either afterwards.  The unique index on payment_ref makes
// the insert itself the idempotency barrier for duplicate callbacks.
type OrderRepo struct {
	db *sql.DB
}

// NewOrderRepo returns a new OrderRepo bound to the given database.
func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{db: db} }

// mysqlDuplicateEntry is the server error code for a unique index
// violation.
const mysqlDuplicateEntry = 1062

// CreateTx inserts an order and its item snapshot within the
// provided transaction, populating the generated ID and CreatedAt.
// When another call already recorded an order for the same
// payment_ref, it returns ErrAlreadySettled or ErrAlreadyReleased
// depending on the terminal state being written, so concurrent
// duplicate callbacks lose cleanly at the database.
func (r *OrderRepo) CreateTx(ctx context.Context, tx *sql.Tx, ord *model.Order) error {
	const ins = `INSERT INTO orders (buyer_id, payment_ref, payment_id, payment_status, failure_reason, total_cents)
	             VALUES (?, ?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, ins,
		ord.BuyerID, ord.PaymentRef, ord.PaymentID, ord.PaymentStatus, ord.FailureReason, ord.TotalCents,
	)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
			if ord.PaymentStatus == model.PaymentStatusSuccess {
				return ErrAlreadySettled
			}
			return ErrAlreadyReleased
		}
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	ord.ID = uint64(id)
	const sel = `SELECT created_at FROM orders WHERE id = ?`
	if err := tx.QueryRowContext(ctx, sel, ord.ID).Scan(&ord.CreatedAt); err != nil {
		return err
	}
	if len(ord.Items) == 0 {
		return nil
	}
	query := `INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price_cents) VALUES `
	args := make([]interface{}, 0, len(ord.Items)*5)
	for i, it := range ord.Items {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?)"
		args = append(args, ord.ID, it.ProductID, it.ProductName, it.Quantity, it.UnitPriceCents)
	}
	_, err = tx.ExecContext(ctx, query, args...)
	return err
}

// GetByPaymentRef returns the order recorded for a payment reference,
// or sql.ErrNoRows when no terminal outcome exists yet.  Callbacks
// consult this before doing any work so re-deliveries return the
// original result unchanged.
func (r *OrderRepo) GetByPaymentRef(ctx context.Context, paymentRef string) (*model.Order, error) {
	const q = `SELECT id, buyer_id, payment_ref, payment_id, payment_status, failure_reason, total_cents, created_at
	           FROM orders WHERE payment_ref = ?`
	var ord model.Order
	var reason sql.NullString
	err := r.db.QueryRowContext(ctx, q, paymentRef).Scan(
		&ord.ID, &ord.BuyerID, &ord.PaymentRef, &ord.PaymentID,
		&ord.PaymentStatus, &reason, &ord.TotalCents, &ord.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if reason.Valid {
		ord.FailureReason = reason.String
	}
	if err := r.loadItems(ctx, &ord); err != nil {
		return nil, err
	}
	return &ord, nil
}

// ListByBuyer returns the buyer's orders, newest first.
func (r *OrderRepo) ListByBuyer(ctx context.Context, buyerID uint64) ([]model.Order, error) {
	const q = `SELECT id, buyer_id, payment_ref, payment_id, payment_status, failure_reason, total_cents, created_at
	           FROM orders WHERE buyer_id = ? ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, buyerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	orders := make([]model.Order, 0)
	for rows.Next() {
		var ord model.Order
		var reason sql.NullString
		if err := rows.Scan(
			&ord.ID, &ord.BuyerID, &ord.PaymentRef, &ord.PaymentID,
			&ord.PaymentStatus, &reason, &ord.TotalCents, &ord.CreatedAt,
		); err != nil {
			return nil, err
		}
		if reason.Valid {
			ord.FailureReason = reason.String
		}
		orders = append(orders, ord)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range orders {
		if err := r.loadItems(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *OrderRepo) loadItems(ctx context.Context, ord *model.Order) error {
	const q = `SELECT product_id, product_name, quantity, unit_price_cents
	           FROM order_items WHERE order_id = ? ORDER BY product_id`
	rows, err := r.db.QueryContext(ctx, q, ord.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var it model.OrderItem
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPriceCents); err != nil {
			return err
		}
		ord.Items = append(ord.Items, it)
	}
	return rows.Err()
}
