package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/keymart/keymart/internal/model"
)

// ReservationRepo provides data access to the reservations,
// reservation_items and reservation_keys tables.  A reservation is
// the ledger entry binding a buyer to the keys claimed for them and
// the price quoted at claim time.  The table carries a unique index
// on buyer_id, so the "at most one active reservation per buyer"
// invariant is enforced by the database and not by application
// bookkeeping.  All timestamps are stored in UTC.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// CreateTx inserts a reservation with its items and claimed keys
// within the provided transaction.  It populates the generated ID
// and CreatedAt on the passed model.  The caller must commit or roll
// back the transaction.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
	const ins = `INSERT INTO reservations (buyer_id, intent_id, total_cents) VALUES (?, ?, ?)`
	result, err := tx.ExecContext(ctx, ins, res.BuyerID, res.IntentID, res.TotalCents)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	// Read the row back so CreatedAt carries the DB-assigned value;
	// the expiry staleness check compares against exactly this.
	const sel = `SELECT created_at FROM reservations WHERE id = ?`
	if err := tx.QueryRowContext(ctx, sel, res.ID).Scan(&res.CreatedAt); err != nil {
		return err
	}
	if len(res.Items) == 0 {
		return nil
	}
	itemQ := `INSERT INTO reservation_items (reservation_id, product_id, quantity, unit_price_cents) VALUES `
	itemArgs := make([]interface{}, 0, len(res.Items)*4)
	keyQ := `INSERT INTO reservation_keys (reservation_id, key_id) VALUES `
	keyArgs := make([]interface{}, 0)
	for i, it := range res.Items {
		if i > 0 {
			itemQ += ","
		}
		itemQ += "(?, ?, ?, ?)"
		itemArgs = append(itemArgs, res.ID, it.ProductID, it.Quantity, it.UnitPriceCents)
		for _, kid := range it.KeyIDs {
			if len(keyArgs) > 0 {
				keyQ += ","
			}
			keyQ += "(?, ?)"
			keyArgs = append(keyArgs, res.ID, kid)
		}
	}
	if _, err := tx.ExecContext(ctx, itemQ, itemArgs...); err != nil {
		return err
	}
	if len(keyArgs) > 0 {
		if _, err := tx.ExecContext(ctx, keyQ, keyArgs...); err != nil {
			return err
		}
	}
	return nil
}

// GetByBuyerTx loads the buyer's active reservation with its items
// and claimed key ids.  Returns ErrNoActiveReservation when the
// buyer holds none.
func (r *ReservationRepo) GetByBuyerTx(ctx context.Context, tx *sql.Tx, buyerID uint64) (*model.Reservation, error) {
	const q = `SELECT id, buyer_id, intent_id, total_cents, created_at
	           FROM reservations WHERE buyer_id = ?`
	var res model.Reservation
	err := tx.QueryRowContext(ctx, q, buyerID).Scan(
		&res.ID, &res.BuyerID, &res.IntentID, &res.TotalCents, &res.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNoActiveReservation
	}
	if err != nil {
		return nil, err
	}
	const itemQ = `SELECT product_id, quantity, unit_price_cents
	               FROM reservation_items WHERE reservation_id = ? ORDER BY product_id`
	rows, err := tx.QueryContext(ctx, itemQ, res.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	index := make(map[uint64]int)
	for rows.Next() {
		var it model.ReservationItem
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.UnitPriceCents); err != nil {
			return nil, err
		}
		index[it.ProductID] = len(res.Items)
		res.Items = append(res.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Attach claimed key ids to their lines via the keys' product.
	const keyQ = `SELECT rk.key_id, pk.product_id
	              FROM reservation_keys rk
	              JOIN product_keys pk ON pk.id = rk.key_id
	              WHERE rk.reservation_id = ?
	              ORDER BY rk.key_id`
	krows, err := tx.QueryContext(ctx, keyQ, res.ID)
	if err != nil {
		return nil, err
	}
	defer krows.Close()
	for krows.Next() {
		var kid, pid uint64
		if err := krows.Scan(&kid, &pid); err != nil {
			return nil, err
		}
		if idx, ok := index[pid]; ok {
			res.Items[idx].KeyIDs = append(res.Items[idx].KeyIDs, kid)
		}
	}
	if err := krows.Err(); err != nil {
		return nil, err
	}
	return &res, nil
}

// DeleteByBuyerTx removes the buyer's reservation and, via foreign
// keys, its item and key rows.  Deleting a buyer without a
// reservation is a no-op.
func (r *ReservationRepo) DeleteByBuyerTx(ctx context.Context, tx *sql.Tx, buyerID uint64) error {
	const q = `DELETE FROM reservations WHERE buyer_id = ?`
	_, err := tx.ExecContext(ctx, q, buyerID)
	return err
}

// SetIntent records the payment intent created for the buyer's
// reservation.  Runs outside the claim transaction because the
// gateway call happens after commit.
func (r *ReservationRepo) SetIntent(ctx context.Context, buyerID uint64, intentID string) error {
	const q = `UPDATE reservations SET intent_id = ? WHERE buyer_id = ?`
	_, err := r.db.ExecContext(ctx, q, intentID, buyerID)
	return err
}

// DueReservation identifies one reservation past its deadline: the
// buyer plus the CreatedAt staleness token captured at scan time.
type DueReservation struct {
	BuyerID   uint64
	CreatedAt time.Time
}

// ListDue returns the buyers whose reservation was created at or
// before the cutoff.  The sweeper re-derives due expiries from this
// query so expiry survives process restarts; correctness does not
// depend on any in-memory timer.
func (r *ReservationRepo) ListDue(ctx context.Context, cutoff time.Time) ([]DueReservation, error) {
	const q = `SELECT buyer_id, created_at FROM reservations WHERE created_at <= ?`
	rows, err := r.db.QueryContext(ctx, q, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var due []DueReservation
	for rows.Next() {
		var d DueReservation
		if err := rows.Scan(&d.BuyerID, &d.CreatedAt); err != nil {
			return nil, err
		}
		due = append(due, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return due, nil
}
