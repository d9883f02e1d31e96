package repository

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"strings"

	"github.com/keymart/keymart/internal/model"
)

// KeyRepo provides data access to the product_keys table.  It owns
// the three mutations the checkout core is allowed to perform on a
// key: claim (unsold -> sold), release (sold -> unsold, only while
// unbound) and bind (attach an order id after settlement).  All
// claim/release/bind methods run inside a caller-supplied
// transaction so a multi-product reservation either claims every
// line or none.
type KeyRepo struct {
	db *sql.DB
}

// NewKeyRepo returns a new KeyRepo bound to the provided database.
func NewKeyRepo(db *sql.DB) *KeyRepo { return &KeyRepo{db: db} }

// randomToken generates a random hexadecimal string of n bytes.  It
// tags the rows of a single claim so they can be read back after the
// conditional update without a second scan of the table.
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ClaimTx atomically flips exactly quantity unsold keys of a product
// to sold and returns their ids in ascending id order.  The flip is a
// single conditional UPDATE; concurrent claims for the same product
// serialize on the row locks it takes, so two buyers can never claim
// the same key.  When fewer than quantity rows are affected the
// method returns ErrInsufficientStock and the caller must roll the
// transaction back, which undoes the partial flip.
func (r *KeyRepo) ClaimTx(ctx context.Context, tx *sql.Tx, productID uint64, quantity uint32) ([]uint64, error) {
	if quantity == 0 {
		return []uint64{}, nil
	}
	token, err := randomToken(16)
	if err != nil {
		return nil, err
	}
	// MySQL allows ORDER BY/LIMIT directly on UPDATE, which keeps the
	// claim a single round trip instead of a read-then-write pair.
	const upd = `UPDATE product_keys
	             SET sold = 1, lock_token = ?
	             WHERE product_id = ? AND sold = 0
	             ORDER BY id
	             LIMIT ?`
	result, err := tx.ExecContext(ctx, upd, token, productID, quantity)
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected != int64(quantity) {
		return nil, ErrInsufficientStock
	}
	const sel = `SELECT id FROM product_keys WHERE lock_token = ? ORDER BY id`
	rows, err := tx.QueryContext(ctx, sel, token)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]uint64, 0, quantity)
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// ReleaseTx flips the given keys back to unsold, but only those not
// yet bound to an order.  Releasing a key that settlement already
// bound is a silent no-op; this protects against the race between an
// expiry firing and a late settlement landing first.  It returns the
// number of keys actually released.
func (r *KeyRepo) ReleaseTx(ctx context.Context, tx *sql.Tx, keyIDs []uint64) (int64, error) {
	if len(keyIDs) == 0 {
		return 0, nil
	}
	query := `UPDATE product_keys
	          SET sold = 0, lock_token = NULL
	          WHERE order_id IS NULL AND id IN (` + placeholders(len(keyIDs)) + `)`
	args := make([]interface{}, 0, len(keyIDs))
	for _, id := range keyIDs {
		args = append(args, id)
	}
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// BindTx attaches an order id to already-sold keys.  Only settlement
// calls this, after the payment has been verified.
func (r *KeyRepo) BindTx(ctx context.Context, tx *sql.Tx, keyIDs []uint64, orderID uint64) error {
	if len(keyIDs) == 0 {
		return nil
	}
	query := `UPDATE product_keys SET order_id = ?, lock_token = NULL
	          WHERE id IN (` + placeholders(len(keyIDs)) + `)`
	args := make([]interface{}, 0, len(keyIDs)+1)
	args = append(args, orderID)
	for _, id := range keyIDs {
		args = append(args, id)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// ValuesByIDsTx resolves the secret key strings for the given key
// ids, keyed by product id.  Settlement uses this to build the
// delivery event; the values never appear in an HTTP response.
func (r *KeyRepo) ValuesByIDsTx(ctx context.Context, tx *sql.Tx, keyIDs []uint64) (map[uint64][]string, error) {
	values := make(map[uint64][]string)
	if len(keyIDs) == 0 {
		return values, nil
	}
	query := `SELECT id, product_id, key_value, sold, order_id, created_at
	          FROM product_keys
	          WHERE id IN (` + placeholders(len(keyIDs)) + `)
	          ORDER BY id`
	args := make([]interface{}, 0, len(keyIDs))
	for _, id := range keyIDs {
		args = append(args, id)
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var pk model.ProductKey
		if err := rows.Scan(&pk.ID, &pk.ProductID, &pk.KeyValue, &pk.Sold, &pk.OrderID, &pk.CreatedAt); err != nil {
			return nil, err
		}
		values[pk.ProductID] = append(values[pk.ProductID], pk.KeyValue)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

// CreateBulk inserts multiple keys for a product in one statement.
// Duplicate key values are rejected by the unique index on
// key_value.  Used by the admin bulk upload endpoint.
func (r *KeyRepo) CreateBulk(ctx context.Context, productID uint64, values []string) error {
	if len(values) == 0 {
		return nil
	}
	query := `INSERT INTO product_keys (product_id, key_value, sold) VALUES `
	args := make([]interface{}, 0, len(values)*2)
	for i, v := range values {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, 0)"
		args = append(args, productID, v)
	}
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// CountUnsold returns the number of unsold keys for a product.  The
// cart uses it to drop lines that can no longer be fulfilled.
func (r *KeyRepo) CountUnsold(ctx context.Context, productID uint64) (uint32, error) {
	const q = `SELECT COUNT(*) FROM product_keys WHERE product_id = ? AND sold = 0`
	var n uint32
	if err := r.db.QueryRowContext(ctx, q, productID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// placeholders builds a comma-separated list of n "?" markers for
// IN clauses.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
